// Package moderation implements the Moderation Guard (reports, temporary
// bans, block relations) and the content filter applied to spectator chat.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check. The zero value means the
// text is clean.
type FilterResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"` // "blocked_keyword" or "spam_pattern"
	Term    string `json:"term"`   // matched term or spam check name
}

// defaultTerms is the built-in blocklist. Operators extend it with
// --blocked-terms.
var defaultTerms = []string{
	"kill yourself",
	"kys",
	"go die",
	"neck yourself",
	"send nudes",
	"free bitcoin",
	"crypto giveaway",
	"onlyfans",
	"dox",
	"doxx",
	"bomb threat",
	"heil hitler",
}

// DefaultTerms returns a copy of the built-in blocklist.
func DefaultTerms() []string {
	out := make([]string, len(defaultTerms))
	copy(out, defaultTerms)
	return out
}

// Filter matches whole words and whole phrases case-insensitively, also after
// undoing common leetspeak substitutions. It is read-only after construction
// and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter from terms. Multi-word terms become
// phrases; blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		tokens := tokenizePlain(term)
		switch len(tokens) {
		case 0:
			continue
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check screens text. Keyword matches take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}

	plain := tokenizePlain(text)
	leet := tokenizeLeet(text)
	for i, tok := range leet {
		leet[i] = normalizeLeet(tok)
	}

	for _, tokens := range [][]string{plain, leet} {
		if term, ok := f.matchTokens(tokens); ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
		}
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(tokens) < len(seq) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j, s := range seq {
			if tokens[i+j] != s {
				continue outer
			}
		}
		return true
	}
	return false
}

var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet lowercases s and maps leetspeak characters to letters.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if m, ok := leetMap[r]; ok {
			r = m
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenizePlain splits on anything that is not a letter or digit and
// lowercases the result.
func tokenizePlain(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// tokenizeLeet is tokenizePlain that keeps leetspeak symbols inside words.
// Case is preserved; normalizeLeet lowercases.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if _, ok := leetMap[r]; ok {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
