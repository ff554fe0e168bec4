package voice

import "testing"

func TestMatcherCaseInsensitive(t *testing.T) {
	m := NewMatcher([]string{"hey jarvis", "jarvis"})

	cases := []struct {
		text  string
		want  string
		match bool
	}{
		{"Hey Jarvis, quelle heure est-il", "hey jarvis", true},
		{"JARVIS allume la lumière", "jarvis", true},
		{"  salut   tout le monde ", "", false},
		{"", "", false},
		{"bonjour jar vis", "", false},
	}
	for _, c := range cases {
		got, ok := m.Match(c.text)
		if ok != c.match || got != c.want {
			t.Errorf("Match(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.match)
		}
	}
}

func TestMatcherNormalizesWhitespace(t *testing.T) {
	m := NewMatcher([]string{"salut jarvis"})
	if _, ok := m.Match("salut    jarvis"); !ok {
		t.Error("repeated whitespace should still match")
	}
	if _, ok := m.Match("\tsalut jarvis\n"); !ok {
		t.Error("surrounding whitespace should still match")
	}
}

func TestMatcherDropsEmptyPhrases(t *testing.T) {
	m := NewMatcher([]string{"", "  ", "jarvis"})
	if _, ok := m.Match("dis jarvis"); !ok {
		t.Error("non-empty phrase lost during normalization")
	}
	empty := NewMatcher(nil)
	if _, ok := empty.Match("jarvis"); ok {
		t.Error("empty matcher must never match")
	}
}
