// Package mixer composes the final assistant message from raw model output,
// tool citations and optional style decoration.
package mixer

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength bounds the final assistant content.
const DefaultMaxLength = 4000

// Input carries everything the mixer needs for one composition.
type Input struct {
	Text      string
	ToolsUsed []string // tool ids cited in the footer
	Emotion   string   // optional style tag from the inbound message
}

// Mixer applies the composition rules. Decoration plugins default to no-ops.
type Mixer struct {
	maxLength int
}

// New creates a mixer. maxLength <= 0 selects the default.
func New(maxLength int) *Mixer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Mixer{maxLength: maxLength}
}

// Compose builds the final content.
func (m *Mixer) Compose(in Input) string {
	out := strings.TrimSpace(in.Text)
	if out == "" {
		out = "I don't have a response for that right now."
	}

	out = decorate(out, in.Emotion)

	if len(in.ToolsUsed) > 0 {
		out += " (via " + strings.Join(dedupe(in.ToolsUsed), ", ") + ")"
	}

	return truncate(out, m.maxLength)
}

// decorate applies a light emotional register shift matched to the sender's
// detected mood.
func decorate(text, emotion string) string {
	switch emotion {
	case "sad":
		return "I'm sorry to hear that. " + text
	case "happy":
		return text + " Glad to hear it!"
	case "angry":
		return "I understand the frustration. " + text
	default:
		return text
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// truncate cuts at a rune boundary and appends an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
