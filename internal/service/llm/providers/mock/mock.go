// Package mock is the deterministic completion backend used in tests and as
// the default when no real provider is configured. Its behavior is driven
// entirely by keywords in the prompt, so the same input always produces the
// same output.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"spectrum/internal/service/llm"
)

type Provider struct{}

// New creates the mock backend.
func New() *Provider {
	return &Provider{}
}

var (
	cityPattern = regexp.MustCompile(`\bin ([A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)?)`)
	exprPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/])\s*(-?\d+(?:\.\d+)?)`)
)

func (p *Provider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lastUser := lastByRole(segments, llm.RoleUser)
	lower := strings.ToLower(lastUser)

	// A tool result already in the prompt means this is the follow-up round:
	// answer from it instead of requesting the tool again.
	if out, tool := lastToolOutput(segments); out != "" {
		return &llm.Result{Text: fmt.Sprintf("Based on the %s result: %s", tool, out)}, nil
	}

	if containsAny(lower, "weather", "umbrella", "rain", "forecast", "temperature") {
		params := map[string]any{"city": extractCity(lastUser), "date": extractDate(lower)}
		return &llm.Result{ToolRequest: &llm.ToolRequest{ToolID: "weather", Parameters: params}}, nil
	}
	if containsAny(lower, "search for", "look up", "find out about") {
		return &llm.Result{ToolRequest: &llm.ToolRequest{
			ToolID:     "search",
			Parameters: map[string]any{"query": searchQuery(lower)},
		}}, nil
	}
	if strings.Contains(lower, "calculate") || exprPattern.MatchString(lastUser) {
		if m := exprPattern.FindStringSubmatch(lastUser); m != nil {
			return &llm.Result{ToolRequest: &llm.ToolRequest{
				ToolID:     "calculator",
				Parameters: map[string]any{"expression": m[0]},
			}}, nil
		}
	}
	if containsAny(lower, "reflect", "review", "introspect") {
		return &llm.Result{Text: "Reflecting on this, the recurring theme is steady progress with room to plan ahead."}, nil
	}

	if lastUser == "" {
		return &llm.Result{Text: "Hello! How can I help you today?"}, nil
	}
	return &llm.Result{Text: fmt.Sprintf("I understand you said: %q. Tell me more.", lastUser)}, nil
}

func (p *Provider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	res, err := p.Complete(ctx, segments, opts)
	if err != nil {
		return nil, err
	}
	if res.ToolRequest != nil {
		return res, nil
	}
	const size = 16
	for text := res.Text; text != ""; {
		n := size
		if n > len(text) {
			n = len(text)
		}
		if err := fn(llm.Chunk{Content: text[:n]}); err != nil {
			return nil, err
		}
		text = text[n:]
	}
	if err := fn(llm.Chunk{Final: true}); err != nil {
		return nil, err
	}
	return res, nil
}

func lastByRole(segments []llm.Segment, role string) string {
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].Role == role && !strings.HasPrefix(segments[i].Content, "[tool:") {
			return segments[i].Content
		}
	}
	return ""
}

// lastToolOutput finds the newest "[tool:name] ..." marker segment.
func lastToolOutput(segments []llm.Segment) (output, tool string) {
	for i := len(segments) - 1; i >= 0; i-- {
		c := segments[i].Content
		if !strings.HasPrefix(c, "[tool:") {
			continue
		}
		end := strings.IndexByte(c, ']')
		if end < 0 {
			continue
		}
		return strings.TrimSpace(c[end+1:]), c[len("[tool:"):end]
	}
	return "", ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func extractCity(text string) string {
	if m := cityPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return "here"
}

func extractDate(lower string) string {
	switch {
	case strings.Contains(lower, "tomorrow"):
		return "tomorrow"
	case strings.Contains(lower, "today"):
		return "today"
	default:
		return "today"
	}
}

func searchQuery(lower string) string {
	for _, marker := range []string{"search for ", "look up ", "find out about "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return strings.TrimRight(strings.TrimSpace(lower[idx+len(marker):]), "?.!")
		}
	}
	return strings.TrimRight(lower, "?.!")
}
