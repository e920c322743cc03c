package openai

import (
	"testing"

	"spectrum/internal/service/llm"
)

func collect(t *testing.T, deltas []string) (forwarded string, f *tagFilter) {
	t.Helper()
	f = &tagFilter{}
	for _, d := range deltas {
		forwarded += f.feed(d)
	}
	forwarded += f.flush()
	return forwarded, f
}

func TestTagFilterSuppressesInlineToolRequest(t *testing.T) {
	deltas := []string{"Sure.", "[tool_req", `uest] {"tool":"weather","parameters":{"city":"Paris"}}`}

	forwarded, f := collect(t, deltas)
	if forwarded != "Sure." {
		t.Errorf("expected only the preamble forwarded, got %q", forwarded)
	}

	req, remaining := llm.ExtractToolRequest(f.full())
	if req == nil || req.ToolID != "weather" {
		t.Fatalf("expected the tool request recovered from the full text, got %+v", req)
	}
	if remaining != "Sure." {
		t.Errorf("expected remaining text %q, got %q", "Sure.", remaining)
	}
}

func TestTagFilterPassesPlainText(t *testing.T) {
	deltas := []string{"The tide ", "tables for ", "tomorrow look calm."}

	forwarded, _ := collect(t, deltas)
	if forwarded != "The tide tables for tomorrow look calm." {
		t.Errorf("expected everything forwarded, got %q", forwarded)
	}
}

func TestTagFilterReleasesFalsePrefix(t *testing.T) {
	// "[tool" could start a tag but never completes one.
	deltas := []string{"See ", "[tool", "box] for details"}

	forwarded, _ := collect(t, deltas)
	if forwarded != "See [toolbox] for details" {
		t.Errorf("expected the false prefix released, got %q", forwarded)
	}
}

func TestTagHoldback(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"hello", 0},
		{"hello [", 1},
		{"hello [tool_req", 9},
		{"hello [tool_request]", 0}, // a complete tag is not a prefix
		{"[", 1},
		{"", 0},
	}
	for _, tc := range cases {
		if got := tagHoldback(tc.text); got != tc.want {
			t.Errorf("tagHoldback(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
