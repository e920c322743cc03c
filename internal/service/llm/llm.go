// Package llm defines the chat-completion contract the pipeline depends on
// and a factory selecting the configured backend.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Prompt segment roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Segment is one ordered prompt element.
type Segment struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ToolRequest is the model asking the orchestrator to run a tool before it
// can answer.
type ToolRequest struct {
	ToolID     string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Result is the outcome of one completion round.
type Result struct {
	Text        string
	ToolRequest *ToolRequest
}

// Chunk is one streamed fragment. Final is set on the closing chunk.
type Chunk struct {
	Content string
	Final   bool
}

// Provider is the chat-completion backend contract.
type Provider interface {
	// Complete runs one full completion round.
	Complete(ctx context.Context, segments []Segment, opts Options) (*Result, error)
	// Stream delivers the completion incrementally through fn, then returns
	// the assembled result. fn returning an error aborts the stream.
	Stream(ctx context.Context, segments []Segment, opts Options, fn func(Chunk) error) (*Result, error)
}

// ToolRequestTag marks a tool request emitted inline by text-only backends.
// Streaming backends keep it out of client-visible chunks.
const ToolRequestTag = "[tool_request]"

// ExtractToolRequest scans model output for an inline tool-request tag of the
// form "[tool_request] {\"tool\": ..., \"parameters\": {...}}". It returns the
// parsed request and the output with the tag line removed, or nil when the
// output carries no recognizable request.
func ExtractToolRequest(text string) (*ToolRequest, string) {
	idx := strings.Index(text, ToolRequestTag)
	if idx < 0 {
		return nil, text
	}
	rest := text[idx+len(ToolRequestTag):]
	end := strings.IndexByte(rest, '\n')
	payload := rest
	if end >= 0 {
		payload = rest[:end]
	}
	var req ToolRequest
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &req); err != nil || req.ToolID == "" {
		return nil, text
	}
	remaining := text[:idx]
	if end >= 0 {
		remaining += rest[end+1:]
	}
	return &req, strings.TrimSpace(remaining)
}

// FormatToolRequest renders a request back into its inline tag form. The mock
// backend uses it so both paths exercise the same parser.
func FormatToolRequest(req *ToolRequest) string {
	raw, _ := json.Marshal(req)
	return ToolRequestTag + " " + string(raw)
}
