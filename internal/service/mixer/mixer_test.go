package mixer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestComposePassthrough(t *testing.T) {
	m := New(0)
	got := m.Compose(Input{Text: "  The forecast looks clear.  "})
	if got != "The forecast looks clear." {
		t.Errorf("expected trimmed passthrough, got %q", got)
	}
}

func TestComposeFallbackOnEmpty(t *testing.T) {
	m := New(0)
	got := m.Compose(Input{Text: "   "})
	if got == "" {
		t.Error("expected a fallback message for empty output")
	}
}

func TestComposeToolCitations(t *testing.T) {
	m := New(0)
	got := m.Compose(Input{
		Text:      "It will rain.",
		ToolsUsed: []string{"weather", "search", "weather"},
	})
	if !strings.HasSuffix(got, "(via weather, search)") {
		t.Errorf("expected deduplicated citation footer, got %q", got)
	}
}

func TestComposeEmotionDecoration(t *testing.T) {
	m := New(0)
	cases := []struct {
		emotion string
		check   func(string) bool
	}{
		{"sad", func(s string) bool { return strings.HasPrefix(s, "I'm sorry to hear that.") }},
		{"happy", func(s string) bool { return strings.HasSuffix(s, "Glad to hear it!") }},
		{"angry", func(s string) bool { return strings.HasPrefix(s, "I understand the frustration.") }},
		{"", func(s string) bool { return s == "All set." }},
		{"confused", func(s string) bool { return s == "All set." }}, // unknown: no decoration
	}
	for _, tc := range cases {
		got := m.Compose(Input{Text: "All set.", Emotion: tc.emotion})
		if !tc.check(got) {
			t.Errorf("emotion %q: unexpected composition %q", tc.emotion, got)
		}
	}
}

func TestComposeTruncatesAtRuneBoundary(t *testing.T) {
	m := New(20)
	got := m.Compose(Input{Text: strings.Repeat("héllo ", 20)})
	if len(got) > 20 {
		t.Errorf("expected at most 20 bytes, got %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}
