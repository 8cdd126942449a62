package moderation

import "testing"

func TestSpamPatterns(t *testing.T) {
	f := NewFilterWithTerms(nil) // isolate spam rules from the keyword list

	tests := []struct {
		name  string
		input string
		term  string // empty means clean
	}{
		{"http url", "check out http://evil.com", "url"},
		{"https url", "visit https://spam.xyz/click", "url"},
		{"www url", "go to www.phishing.net", "url"},
		{"bare domain with path", "visit evil.com/free", "url"},
		{"bare domain .ru path", "go to site.ru/malware", "url"},
		{"intl dashed phone", "+1-555-123-4567", "phone"},
		{"parenthesized area code", "(555) 123-4567", "phone"},
		{"dotted phone", "555.123.4567", "phone"},
		{"phone in sentence", "call me at 555-123-4567 okay?", "phone"},
		{"char flood", "nooooooo", "char_flood"},
		{"punctuation flood", "wow!!!!!", "char_flood"},
		{"exactly 5 repeated chars", "aaaaa", "char_flood"},
		{"word flood", "wrong wrong wrong", "word_flood"},
		{"word flood case insensitive", "NO no No", "word_flood"},

		{"exactly 4 repeated chars", "aaaa", ""},
		{"version string", "upgrade to v2.0", ""},
		{"decimal number", "pi is about 3.14", ""},
		{"year", "since 2025 this changed", ""},
		{"statistic", "I got 42 out of 50", ""},
		{"normal excitement", "wow!!! great point!!", ""},
		{"double word", "yes yes but no", ""},
		{"money amount", "it costs $5.99", ""},
		{"sentence with dots", "ok. sure. fine.", ""},
		{"newlines", "first\nsecond", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			wantBlocked := tt.term != ""
			if result.Blocked != wantBlocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v (term=%q)", tt.input, result.Blocked, wantBlocked, result.Term)
			}
			if !wantBlocked {
				return
			}
			if result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
			if result.Reason != "spam_pattern" {
				t.Errorf("Check(%q).Reason = %q, want %q", tt.input, result.Reason, "spam_pattern")
			}
		})
	}
}

func TestSpam_KeywordTakesPriority(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	result := f.Check("badword badword badword")
	if result.Reason != "blocked_keyword" {
		t.Errorf("Reason = %q, want %q", result.Reason, "blocked_keyword")
	}

	result = f.Check("visit http://evil.com")
	if result.Reason != "spam_pattern" || result.Term != "url" {
		t.Errorf("expected spam_pattern/url, got %q/%q", result.Reason, result.Term)
	}
}
