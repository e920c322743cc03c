// Package parser normalizes heterogeneous inbound messages into a canonical
// semantic block used by context assembly. Each modality has its own
// projection into plain text.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

// Envelope is the raw inbound input as received on the wire.
type Envelope struct {
	DialogueID  string         `json:"dialogue_id"`
	SessionID   string         `json:"session_id,omitempty"`
	TurnID      string         `json:"turn_id,omitempty"`
	SenderRole  string         `json:"sender_role"`
	SenderID    string         `json:"sender_id,omitempty"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the envelope's structural requirements.
func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.DialogueID, validation.Required),
		validation.Field(&e.SenderRole, validation.Required,
			validation.In(models.RoleHuman, models.RoleAI, models.RoleSystem)),
		validation.Field(&e.ContentType, validation.Required),
		validation.Field(&e.Content, validation.Required.When(e.ContentType == models.ContentText)),
	)
}

func (e *Envelope) metaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// SemanticBlock is the canonical text-projected form of an inbound message.
type SemanticBlock struct {
	Text        string
	Tags        []string
	Emotions    []string
	Origin      string // sender role
	TS          time.Time
	UserVisible bool
}

// Parser projects envelopes into semantic blocks. Quote replies are resolved
// through the message repository.
type Parser struct {
	messages repositories.MessageRepository
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a parser.
func New(messages repositories.MessageRepository, logger *slog.Logger) *Parser {
	return &Parser{messages: messages, logger: logger, now: time.Now}
}

// Parse validates the envelope and projects it into a semantic block.
func (p *Parser) Parse(ctx context.Context, env *Envelope) (*SemanticBlock, error) {
	if err := env.Validate(); err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "invalid input envelope", err)
	}

	block := &SemanticBlock{
		Origin:      env.SenderRole,
		TS:          p.now().UTC(),
		UserVisible: true,
	}

	switch env.ContentType {
	case models.ContentText, models.ContentMarkdown:
		block.Text = env.Content
		block.Tags = detectTags(env.Content)
		block.Emotions = detectEmotions(env.Content)
		if env.ContentType == models.ContentMarkdown {
			block.Tags = append(block.Tags, "markdown")
		}

	case models.ContentCommand:
		block.Text = env.Content
		block.Tags = []string{"command"}

	case models.ContentImage:
		if caption := env.metaString(models.MetaCaption); caption != "" {
			block.Text = caption
		} else {
			block.Text = "[image]"
		}
		block.Tags = []string{"image"}

	case models.ContentAudio:
		if tr := env.metaString(models.MetaTranscription); tr != "" {
			block.Text = tr
		} else {
			block.Text = "[audio]"
		}
		block.Tags = []string{"audio"}

	case models.ContentToolOutput:
		tool := env.metaString(models.MetaToolUsed)
		if tool == "" {
			tool = "tool"
		}
		block.Text = fmt.Sprintf("%s returned: %s", tool, summarize(env.Content))
		block.Tags = []string{"tool_output"}

	case models.ContentQuoteReply:
		quoted, err := p.resolveQuote(ctx, env)
		if err != nil {
			return nil, err
		}
		block.Text = "> " + quoted + "\n" + env.Content

	case models.ContentPrompt, models.ContentSystemContext:
		block.Text = env.Content
		block.UserVisible = false
		block.Tags = []string{"instruction"}

	default:
		// Unknown modality: fall back to the caption projection when one is
		// supplied, otherwise reject.
		if caption := env.metaString(models.MetaCaption); caption != "" {
			block.Text = caption
			block.Tags = []string{"fallback"}
			break
		}
		return nil, domain.NewError(domain.KindUnsupportedModality,
			"unsupported content type "+env.ContentType)
	}

	return block, nil
}

func (p *Parser) resolveQuote(ctx context.Context, env *Envelope) (string, error) {
	replyTo := env.metaString(models.MetaReplyTo)
	if replyTo == "" {
		return "", domain.NewError(domain.KindInvalidReference, "quote_reply without reply_to")
	}
	quoted, err := p.messages.Get(ctx, replyTo)
	if err != nil {
		return "", domain.WrapError(domain.KindInvalidReference,
			"reply target "+replyTo+" not found", err)
	}
	if quoted.DialogueID != env.DialogueID {
		return "", domain.NewError(domain.KindInvalidReference,
			"reply target belongs to another dialogue")
	}
	return quoted.Content, nil
}

// summarize truncates long tool payloads to a single-sentence projection.
func summarize(content string) string {
	s := strings.TrimSpace(content)
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}

var emotionLexicon = []struct {
	emotion string
	markers []string
}{
	{"happy", []string{"great", "thanks", "love", "awesome", ":)"}},
	{"sad", []string{"unfortunately", "sorry", "miss", ":("}},
	{"angry", []string{"annoyed", "frustrated", "terrible"}},
}

func detectEmotions(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, entry := range emotionLexicon {
		for _, m := range entry.markers {
			if strings.Contains(lower, m) {
				found = append(found, entry.emotion)
				break
			}
		}
	}
	return found
}

func detectTags(text string) []string {
	var tags []string
	if strings.Contains(text, "?") {
		tags = append(tags, "question")
	}
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "please") || strings.Contains(lower, "could you") {
		tags = append(tags, "request")
	}
	return tags
}
