// Package openai implements the completion contract on the OpenAI
// chat-completions API. Azure deployments use the same client with a custom
// base URL.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"spectrum/internal/service/llm"
)

// Config holds provider construction parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

type Provider struct {
	client oai.Client
	model  string
	logger *slog.Logger
}

// New creates an OpenAI-backed provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires LLM_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (p *Provider) params(segments []llm.Segment, opts llm.Options) oai.ChatCompletionNewParams {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(segments))
	for _, s := range segments {
		switch s.Role {
		case llm.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(s.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(s.Content))
		default:
			msgs = append(msgs, oai.UserMessage(s.Content))
		}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if opts.Temperature > 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	return params
}

func (p *Provider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(segments, opts))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty response")
	}

	text := resp.Choices[0].Message.Content
	req, remaining := llm.ExtractToolRequest(text)
	return &llm.Result{Text: remaining, ToolRequest: req}, nil
}

func (p *Provider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(segments, opts))
	defer stream.Close()

	var filter tagFilter
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if out := filter.feed(delta); out != "" {
			if err := fn(llm.Chunk{Content: out}); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("chat stream: %w", err)
	}
	if out := filter.flush(); out != "" {
		if err := fn(llm.Chunk{Content: out}); err != nil {
			return nil, err
		}
	}
	if err := fn(llm.Chunk{Final: true}); err != nil {
		return nil, err
	}

	req, remaining := llm.ExtractToolRequest(filter.full())
	return &llm.Result{Text: remaining, ToolRequest: req}, nil
}

// tagFilter withholds inline tool-request tags from forwarded stream output.
// Tags arrive split across deltas, so it also holds back any trailing bytes
// that could still turn into a tag.
type tagFilter struct {
	text    strings.Builder
	emitted int
	tagged  bool
}

// feed appends a delta and returns the part of the output now safe to
// forward, which may be empty.
func (f *tagFilter) feed(delta string) string {
	f.text.WriteString(delta)
	if f.tagged {
		return ""
	}
	text := f.text.String()
	if i := strings.Index(text, llm.ToolRequestTag); i >= 0 {
		f.tagged = true
		out := text[f.emitted:i]
		f.emitted = i
		return out
	}
	safe := len(text) - tagHoldback(text)
	if safe <= f.emitted {
		return ""
	}
	out := text[f.emitted:safe]
	f.emitted = safe
	return out
}

// flush releases anything still held back once the stream has ended.
func (f *tagFilter) flush() string {
	if f.tagged {
		return ""
	}
	text := f.text.String()
	out := text[f.emitted:]
	f.emitted = len(text)
	return out
}

// full returns the complete accumulated output, tag included.
func (f *tagFilter) full() string { return f.text.String() }

// tagHoldback reports how many trailing bytes of text are a prefix of the
// tool-request tag and must not be forwarded yet.
func tagHoldback(text string) int {
	max := len(llm.ToolRequestTag) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, llm.ToolRequestTag[:n]) {
			return n
		}
	}
	return 0
}
