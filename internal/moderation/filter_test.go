package moderation

import (
	"reflect"
	"testing"
)

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if len(f.words) == 0 || len(f.phrases) == 0 {
		t.Fatalf("expected default words and phrases, got %d words %d phrases", len(f.words), len(f.phrases))
	}
}

func TestCheck_Words(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"exact match", "badword", true},
		{"in sentence", "this is badword here", true},
		{"case insensitive", "BaDwOrD", true},
		{"with punctuation", "hello, badword!", true},
		{"clean", "hello world", false},
		{"longer word", "badwording is fine", false},
		{"prefixed word", "mybadword", false},
		{"leet zero and at", "b@dw0rd", true},
		{"leet dollar", "off3n$ive", true},
		{"leet exclaim", "offens!ve", true},
		{"mixed leet", "0ff3n$!v3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Reason != "blocked_keyword" {
				t.Errorf("Check(%q).Reason = %q, want blocked_keyword", tt.input, result.Reason)
			}
		})
	}
}

func TestCheck_Phrases(t *testing.T) {
	f := NewFilterWithTerms([]string{"kill yourself", "go die"})

	tests := []struct {
		input string
		term  string
	}{
		{"kill yourself", "kill yourself"},
		{"you should KILL YOURSELF now", "kill yourself"},
		{"go die already", "go die"},
		{"kill yourselves", ""},
		{"kill and yourself", ""},
		{"we should go, die hard is a good film", "go die"},
	}

	for _, tt := range tests {
		result := f.Check(tt.input)
		if (tt.term != "") != result.Blocked {
			t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.term != "")
			continue
		}
		if result.Term != tt.term {
			t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
		}
	}
}

func TestCheck_DebateTalkIsClean(t *testing.T) {
	f := NewFilter()

	messages := []string{
		"that argument is a paradox",
		"I strongly disagree with your premise",
		"nuclear energy is cleaner than coal",
		"what about the economic impact?",
		"good point, but consider the counterexample",
		"",
	}
	for _, msg := range messages {
		if result := f.Check(msg); result.Blocked {
			t.Errorf("Check(%q) blocked (term=%q), expected clean", msg, result.Term)
		}
	}
}

func TestNewFilterWithTerms_IgnoresBlank(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "valid"})
	if len(f.words) != 1 {
		t.Errorf("expected 1 word, got %d", len(f.words))
	}
	if _, ok := f.words["valid"]; !ok {
		t.Error("expected 'valid' in words set")
	}
}

func TestNormalizeLeet(t *testing.T) {
	tests := map[string]string{
		"hello":  "hello",
		"h3ll0":  "hello",
		"$h!t":   "shit",
		"UPPER":  "upper",
		"ch@ng3": "change",
		"7r4sh":  "trash",
	}
	for in, want := range tests {
		if got := normalizeLeet(in); got != want {
			t.Errorf("normalizeLeet(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		plain []string
		leet  []string
	}{
		{"hello world", []string{"hello", "world"}, []string{"hello", "world"}},
		{"Hello, World", []string{"hello", "world"}, []string{"Hello", "World"}},
		{"b@dw0rd", []string{"b", "dw0rd"}, []string{"b@dw0rd"}},
		{"hello---world", []string{"hello", "world"}, []string{"hello", "world"}},
		{"", nil, nil},
	}
	for _, tt := range tests {
		if got := tokenizePlain(tt.input); !equalTokens(got, tt.plain) {
			t.Errorf("tokenizePlain(%q) = %v, want %v", tt.input, got, tt.plain)
		}
		if got := tokenizeLeet(tt.input); !equalTokens(got, tt.leet) {
			t.Errorf("tokenizeLeet(%q) = %v, want %v", tt.input, got, tt.leet)
		}
	}
}

func equalTokens(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func BenchmarkCheck(b *testing.B) {
	f := NewFilter()
	msg := "I think the economic argument matters more than the moral one, what do you say?"
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
