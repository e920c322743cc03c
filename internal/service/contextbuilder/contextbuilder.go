// Package contextbuilder assembles the ordered prompt for a completion call
// from the active session's recent messages, under a character budget.
package contextbuilder

import (
	"context"
	"log/slog"
	"strings"

	"spectrum/internal/config"
	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/service/llm"
)

// fetchLimit bounds how many messages are pulled per build before the
// character budget is applied.
const fetchLimit = 200

// Builder assembles prompts. The persona occupies a fixed header slot and
// does not count against the message budget.
type Builder struct {
	messages repositories.MessageRepository
	persona  *config.Persona
	budget   int
	logger   *slog.Logger
}

// New creates a context builder with the given character budget.
func New(messages repositories.MessageRepository, persona *config.Persona, budget int, logger *slog.Logger) *Builder {
	if budget <= 0 {
		budget = 4000
	}
	return &Builder{messages: messages, persona: persona, budget: budget, logger: logger}
}

// Build returns the prompt segments for the session, oldest first, headed by
// the persona instruction. Messages are taken newest-first until the budget
// is spent; a message is never split. The newest message must always fit.
func (b *Builder) Build(ctx context.Context, sessionID string) ([]llm.Segment, error) {
	recent, err := b.messages.ListBySessionDesc(ctx, sessionID, fetchLimit)
	if err != nil {
		return nil, err
	}

	remaining := b.budget
	var picked []llm.Segment // newest first
	for i, m := range recent {
		seg, ok := b.project(ctx, &m)
		if !ok {
			continue
		}
		cost := len(seg.Content)
		if cost > remaining {
			if i == 0 {
				return nil, domain.NewError(domain.KindContextOverflow,
					"newest message exceeds the context budget")
			}
			break
		}
		remaining -= cost
		picked = append(picked, seg)
	}

	segments := make([]llm.Segment, 0, len(picked)+1)
	segments = append(segments, llm.Segment{
		Role:    llm.RoleSystem,
		Content: b.persona.SystemInstruction(),
	})
	for i := len(picked) - 1; i >= 0; i-- {
		segments = append(segments, picked[i])
	}
	return segments, nil
}

// project maps a stored message to its prompt segment. Tool results carry a
// structured marker so the model can tell them apart from organic turns.
func (b *Builder) project(ctx context.Context, m *models.Message) (llm.Segment, bool) {
	role := llm.RoleUser
	switch m.SenderRole {
	case models.RoleAI:
		role = llm.RoleAssistant
	case models.RoleSystem:
		role = llm.RoleSystem
	}

	switch m.ContentType {
	case models.ContentImage:
		text := m.MetaString(models.MetaCaption)
		if text == "" {
			text = "[image]"
		}
		return llm.Segment{Role: role, Content: text}, true

	case models.ContentAudio:
		text := m.MetaString(models.MetaTranscription)
		if text == "" {
			text = "[audio]"
		}
		return llm.Segment{Role: role, Content: text}, true

	case models.ContentToolOutput:
		tool := m.MetaString(models.MetaToolUsed)
		if tool == "" {
			tool = "tool"
		}
		return llm.Segment{Role: llm.RoleUser, Content: "[tool:" + tool + "] " + m.Content}, true

	case models.ContentQuoteReply:
		content := strings.TrimSpace(m.Content)
		if content == "" {
			return llm.Segment{}, false
		}
		// Re-attach the quoted line; the reply is stored bare.
		if replyTo := m.MetaString(models.MetaReplyTo); replyTo != "" {
			if quoted, err := b.messages.Get(ctx, replyTo); err == nil {
				content = "> " + quoted.Content + "\n" + content
			}
		}
		return llm.Segment{Role: role, Content: content}, true

	case models.ContentPrompt, models.ContentSystemContext:
		return llm.Segment{Role: llm.RoleSystem, Content: m.Content}, true

	default:
		content := strings.TrimSpace(m.Content)
		if content == "" {
			return llm.Segment{}, false
		}
		return llm.Segment{Role: role, Content: content}, true
	}
}
