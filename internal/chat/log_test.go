package chat

import (
	"fmt"
	"strings"
	"testing"
)

func TestAddAndMessages(t *testing.T) {
	l := NewLog()

	l.Add(Message{From: "a", Text: "hello", Ts: 1})
	l.Add(Message{From: "b", Text: "hi", Ts: 2})
	l.Add(Message{From: "a", Text: "how are you?", Ts: 3})

	msgs := l.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"hello", "hi", "how are you?"} {
		if msgs[i].Text != want {
			t.Errorf("index %d: expected %q, got %q", i, want, msgs[i].Text)
		}
	}
}

func TestLogWraparound(t *testing.T) {
	l := NewLog()

	total := MaxLogMessages + 7
	for i := 1; i <= total; i++ {
		l.Add(Message{From: "sender", Text: fmt.Sprintf("msg-%d", i), Ts: int64(i)})
	}

	msgs := l.Messages()
	if len(msgs) != MaxLogMessages {
		t.Fatalf("expected %d messages, got %d", MaxLogMessages, len(msgs))
	}
	if l.Len() != MaxLogMessages {
		t.Errorf("expected Len()=%d, got %d", MaxLogMessages, l.Len())
	}

	// Oldest retained message is number 8.
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", i+8)
		if msg.Text != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Text)
		}
	}
}

func TestEmptyLog(t *testing.T) {
	msgs := NewLog().Messages()
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain", "good point", false},
		{"unicode", "très bien 👍", false},
		{"empty", "", true},
		{"whitespace", "   \n\t", true},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), true},
		{"exactly max chars", strings.Repeat("a", MaxTextChars), false},
		{"too many bytes", strings.Repeat("é", MaxMessageBytes), true},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0x41}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
