package voice

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Matcher checks transcripts for configured wake phrases. Matching is
// case-insensitive substring containment on a whitespace-normalized
// transcript.
type Matcher struct {
	phrases []string
}

// NewMatcher normalizes and stores the phrase set.
func NewMatcher(phrases []string) *Matcher {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return &Matcher{phrases: out}
}

// Match returns the first configured phrase contained in text, or ok=false
// when none matches.
func (m *Matcher) Match(text string) (phrase string, ok bool) {
	if text == "" || len(m.phrases) == 0 {
		return "", false
	}
	s := strings.ToLower(strings.TrimSpace(text))
	s = whitespaceRe.ReplaceAllString(s, " ")
	for _, wp := range m.phrases {
		if strings.Contains(s, wp) {
			return wp, true
		}
	}
	return "", false
}
