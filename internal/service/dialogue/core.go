// Package dialogue contains the orchestration core: the pipeline that drives
// one inbound input through parsing, context assembly, completion rounds,
// the tool loop and persistence, plus the turn and session lifecycle owners.
package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spectrum/internal/config"
	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/service/contextbuilder"
	"spectrum/internal/service/llm"
	"spectrum/internal/service/mixer"
	"spectrum/internal/service/notify"
	"spectrum/internal/service/parser"
	"spectrum/internal/service/tools"
)

// maxToolRounds bounds the LLM↔tool loop within one turn. Exceeding it
// finalizes the last model output.
const maxToolRounds = 4

// MetaPipelineDeadlineSeconds is the per-dialogue override for the
// end-to-end pipeline deadline.
const MetaPipelineDeadlineSeconds = "pipeline_deadline_seconds"

// Result statuses beyond the turn statuses.
const (
	StatusRecorded = "recorded"
	StatusPartial  = "partial"
)

// Result is the outcome of one ProcessInput call.
type Result struct {
	MessageID   string `json:"message_id"`
	Status      string `json:"status"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	DialogueID  string `json:"dialogue_id"`
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id"`
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store    *repositories.Store
	Parser   *parser.Parser
	Builder  *contextbuilder.Builder
	Provider llm.Provider
	Invoker  *tools.Invoker
	Mixer    *mixer.Mixer
	Hub      *notify.Hub
	Turns    *TurnManager
	Sessions *SessionManager
	Config   *config.Config
	Logger   *slog.Logger
}

// Core is the pipeline engine. Two concurrent inputs on the same dialogue
// are serialized by a per-dialogue lock; every state transition of the
// dialogue's open turn and session happens under that lock.
type Core struct {
	store    *repositories.Store
	parser   *parser.Parser
	builder  *contextbuilder.Builder
	provider llm.Provider
	invoker  *tools.Invoker
	mixer    *mixer.Mixer
	hub      *notify.Hub
	turns    *TurnManager
	sessions *SessionManager
	cfg      *config.Config
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewCore assembles the orchestrator.
func NewCore(deps Deps) *Core {
	return &Core{
		store:    deps.Store,
		parser:   deps.Parser,
		builder:  deps.Builder,
		provider: deps.Provider,
		invoker:  deps.Invoker,
		mixer:    deps.Mixer,
		hub:      deps.Hub,
		turns:    deps.Turns,
		sessions: deps.Sessions,
		cfg:      deps.Config,
		logger:   deps.Logger,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

func (c *Core) lockFor(dialogueID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[dialogueID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[dialogueID] = l
	}
	return l
}

func pipelineDeadline(d *models.Dialogue, fallback time.Duration) time.Duration {
	if d.Metadata != nil {
		if v, ok := d.Metadata[MetaPipelineDeadlineSeconds].(float64); ok && v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	}
	return fallback
}

// participants lists every participant id of the dialogue, for fan-out.
func (c *Core) participants(d *models.Dialogue) []string {
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, existing := range ids {
			if existing == id {
				return
			}
		}
		ids = append(ids, id)
	}
	if d.HumanID != nil {
		add(*d.HumanID)
	}
	if d.AIID != nil {
		add(*d.AIID)
	}
	if d.RelationID != nil {
		add(*d.RelationID)
	}
	if d.Metadata != nil {
		if peer, ok := d.Metadata["peer_ai_id"].(string); ok {
			add(peer)
		}
	}
	for _, m := range d.GroupMembers() {
		add(m)
	}
	return ids
}

// counterpartyRole resolves the implicit responder for the dialogue type.
// Group types have none; their turns are broadcasts.
func counterpartyRole(d *models.Dialogue, senderRole string) string {
	switch d.DialogueType {
	case models.DialogueHumanAI:
		if senderRole == models.RoleHuman {
			return models.RoleAI
		}
		return models.RoleHuman
	case models.DialogueAISelf, models.DialogueAIAI:
		return models.RoleAI
	case models.DialogueHumanHumanPrivate:
		return models.RoleHuman
	default:
		return models.RoleSystem
	}
}

// ProcessInput runs the main pipeline for one inbound envelope.
func (c *Core) ProcessInput(ctx context.Context, env *parser.Envelope) (*Result, error) {
	if env.DialogueID == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "dialogue_id is required")
	}
	d, err := c.store.Dialogues.Get(ctx, env.DialogueID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pipelineDeadline(d, c.cfg.PipelineDeadline))
	defer cancel()

	lock := c.lockFor(d.ID)
	lock.Lock()
	defer lock.Unlock()

	// Lazy sweep so expired turns never accept late responses.
	if _, err := c.turns.Sweep(ctx); err != nil {
		c.logger.Warn("lazy sweep failed", "error", err)
	}

	d, err = c.store.Dialogues.Get(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !d.IsActive {
		return nil, domain.NewError(domain.KindDialogueClosed, "dialogue "+d.ID+" is closed")
	}

	// Validation failures surface to the caller without creating a turn.
	block, err := c.parser.Parse(ctx, env)
	if err != nil {
		return nil, err
	}

	session, err := c.sessions.EnsureActiveSession(ctx, d, models.SessionDialogue)
	if err != nil {
		return nil, err
	}

	broadcast := d.IsGroup()
	var turn *models.Turn
	reusedTurn := env.TurnID != ""
	if reusedTurn {
		turn, err = c.store.Turns.Get(ctx, env.TurnID)
		if err != nil {
			return nil, err
		}
		if turn.DialogueID != d.ID {
			return nil, domain.NewError(domain.KindInvalidReference, "turn belongs to another dialogue")
		}
		if turn.Terminal() {
			return nil, domain.NewError(domain.KindTurnClosed, "turn "+turn.ID+" already closed")
		}
	} else {
		responder := counterpartyRole(d, env.SenderRole)
		turn, err = c.turns.OpenTurn(ctx, d, session.ID, env.SenderRole, responder, broadcast)
		if err != nil {
			return nil, err
		}
	}

	inbound := &models.Message{
		DialogueID:  d.ID,
		SessionID:   session.ID,
		TurnID:      turn.ID,
		SenderRole:  env.SenderRole,
		SenderID:    env.SenderID,
		Content:     env.Content,
		ContentType: env.ContentType,
		Metadata:    messageMetadata(env, block),
	}
	if err := c.store.Messages.Create(ctx, inbound); err != nil {
		return nil, err
	}
	c.touch(ctx, d.ID, inbound.CreatedAt)
	c.logEvent(ctx, d.ID, turn.ID, "input_received", map[string]any{
		"message_id": inbound.ID, "content_type": env.ContentType, "sender_role": env.SenderRole,
	})

	participants := c.participants(d)
	if block.UserVisible {
		c.hub.Message(participants, inbound)
	}

	// A message into an existing turn from its responder is the response.
	if reusedTurn && env.SenderRole == turn.ResponderRole {
		if err := c.turns.AttachResponse(ctx, d, turn, inbound); err != nil {
			return nil, err
		}
		return &Result{
			MessageID: inbound.ID, Status: turn.Status,
			Content: inbound.Content, ContentType: inbound.ContentType,
			DialogueID: d.ID, SessionID: session.ID, TurnID: turn.ID,
		}, nil
	}

	if broadcast || turn.ResponderRole != models.RoleAI || d.AIID == nil {
		return &Result{
			MessageID: inbound.ID, Status: StatusRecorded,
			Content: inbound.Content, ContentType: inbound.ContentType,
			DialogueID: d.ID, SessionID: session.ID, TurnID: turn.ID,
		}, nil
	}

	return c.respond(ctx, d, session, turn, block, participants)
}

// respond drives the completion rounds and the bounded tool loop, then
// commits the assistant message and closes the turn.
func (c *Core) respond(ctx context.Context, d *models.Dialogue, session *models.Session, turn *models.Turn, block *parser.SemanticBlock, participants []string) (*Result, error) {
	opts := llm.Options{Model: c.cfg.LLMModel}

	var text string
	var toolsUsed []string
	for round := 0; round < maxToolRounds; round++ {
		segments, err := c.builder.Build(ctx, session.ID)
		if err != nil {
			return nil, err
		}

		// The partial accumulator covers this round only; earlier rounds'
		// preamble is not part of a cancellation partial.
		var streamed string
		res, err := c.provider.Stream(ctx, segments, opts, func(chunk llm.Chunk) error {
			if chunk.Content != "" {
				streamed += chunk.Content
				c.hub.StreamChunk(participants, map[string]any{
					"dialogue_id": d.ID, "turn_id": turn.ID,
					"content": chunk.Content, "is_final": false,
				})
			}
			return nil
		})
		if err != nil {
			return c.recoverLLM(ctx, d, session, turn, participants, streamed, err)
		}
		if res.ToolRequest == nil {
			text = res.Text
			break
		}
		text = res.Text // last model output, kept in case the loop bound hits

		call, invErr := c.invoker.Invoke(ctx, &tools.Request{
			DialogueID: d.ID,
			TurnID:     turn.ID,
			ToolID:     res.ToolRequest.ToolID,
			Parameters: res.ToolRequest.Parameters,
		})
		if invErr != nil {
			c.logEvent(ctx, d.ID, turn.ID, "tool_failed", map[string]any{
				"tool_id": res.ToolRequest.ToolID, "error": invErr.Error(),
			})
			return c.finalize(ctx, d, session, turn, participants,
				"I could not complete the "+res.ToolRequest.ToolID+" request.",
				nil, "", domain.Kind(invErr))
		}
		toolsUsed = append(toolsUsed, res.ToolRequest.ToolID)

		toolMsg := &models.Message{
			DialogueID:  d.ID,
			SessionID:   session.ID,
			TurnID:      turn.ID,
			SenderRole:  models.RoleSystem,
			Content:     toolSummary(call),
			ContentType: models.ContentToolOutput,
			Metadata:    map[string]any{models.MetaToolUsed: res.ToolRequest.ToolID},
		}
		if err := c.store.Messages.Create(ctx, toolMsg); err != nil {
			return nil, err
		}
		c.logEvent(ctx, d.ID, turn.ID, "tool_invoked", map[string]any{
			"tool_id": res.ToolRequest.ToolID, "latency_ms": call.LatencyMS,
		})
	}

	emotion := ""
	if len(block.Emotions) > 0 {
		emotion = block.Emotions[0]
	}
	return c.finalize(ctx, d, session, turn, participants, text, toolsUsed, emotion, "")
}

// finalize composes and commits the assistant message, closes the turn and
// fans out the completion events. errorKind, when set, marks a recovered
// pipeline failure surfaced as a user-facing message.
func (c *Core) finalize(ctx context.Context, d *models.Dialogue, session *models.Session, turn *models.Turn, participants []string, text string, toolsUsed []string, emotion, errorKind string) (*Result, error) {
	content := c.mixer.Compose(mixer.Input{Text: text, ToolsUsed: toolsUsed, Emotion: emotion})

	meta := map[string]any{}
	if len(toolsUsed) > 0 {
		meta[models.MetaToolUsed] = toolsUsed[len(toolsUsed)-1]
	}
	if errorKind != "" {
		meta[models.MetaErrorKind] = errorKind
	}
	aiMsg := &models.Message{
		DialogueID:  d.ID,
		SessionID:   session.ID,
		TurnID:      turn.ID,
		SenderRole:  models.RoleAI,
		Content:     content,
		ContentType: models.ContentText,
		Metadata:    meta,
	}
	if d.AIID != nil {
		aiMsg.SenderID = *d.AIID
	}
	if err := c.store.Messages.Create(ctx, aiMsg); err != nil {
		return nil, err
	}

	if err := c.turns.AttachResponse(ctx, d, turn, aiMsg); err != nil {
		return nil, err
	}
	c.touch(ctx, d.ID, aiMsg.CreatedAt)
	c.logEvent(ctx, d.ID, turn.ID, "response_committed", map[string]any{
		"message_id": aiMsg.ID, "error_kind": errorKind,
	})

	c.hub.StreamChunk(participants, map[string]any{
		"dialogue_id": d.ID, "turn_id": turn.ID,
		"content": content, "is_final": true,
	})
	c.hub.Message(participants, aiMsg)

	return &Result{
		MessageID: aiMsg.ID, Status: turn.Status,
		Content: content, ContentType: aiMsg.ContentType,
		DialogueID: d.ID, SessionID: session.ID, TurnID: turn.ID,
	}, nil
}

// recoverLLM handles a failed completion round. Cancellation is not an
// error: any partial text is committed with metadata.partial=true and the
// turn stays pending. Other failures finalize the turn with a user-facing
// error message.
func (c *Core) recoverLLM(ctx context.Context, d *models.Dialogue, session *models.Session, turn *models.Turn, participants []string, partial string, cause error) (*Result, error) {
	// Persistence in recovery paths must outlive the pipeline deadline.
	detached := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		msg := &models.Message{
			DialogueID:  d.ID,
			SessionID:   session.ID,
			TurnID:      turn.ID,
			SenderRole:  models.RoleAI,
			Content:     partial,
			ContentType: models.ContentText,
			Metadata:    map[string]any{models.MetaPartial: true},
		}
		if d.AIID != nil {
			msg.SenderID = *d.AIID
		}
		if err := c.store.Messages.Create(detached, msg); err != nil {
			return nil, err
		}
		c.logEvent(detached, d.ID, turn.ID, "pipeline_cancelled", map[string]any{
			"message_id": msg.ID, "error": cause.Error(),
		})
		return &Result{
			MessageID: msg.ID, Status: StatusPartial,
			Content: partial, ContentType: msg.ContentType,
			DialogueID: d.ID, SessionID: session.ID, TurnID: turn.ID,
		}, nil
	}

	kind := domain.KindLLMFailure
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = domain.KindLLMTimeout
	}
	c.logEvent(detached, d.ID, turn.ID, "pipeline_error", map[string]any{
		"error_kind": kind, "error": cause.Error(),
	})
	return c.finalize(detached, d, session, turn, participants,
		"I ran into a problem generating a response. Please try again.",
		nil, "", kind)
}

func (c *Core) touch(ctx context.Context, dialogueID string, at time.Time) {
	if err := c.store.Dialogues.TouchActivity(ctx, dialogueID, at); err != nil {
		c.logger.Warn("touch activity failed", "dialogue_id", dialogueID, "error", err)
	}
}

func (c *Core) logEvent(ctx context.Context, dialogueID, turnID, event string, detail map[string]any) {
	e := &models.EventLog{DialogueID: dialogueID, TurnID: turnID, Event: event, Detail: detail}
	if err := c.store.Events.Append(ctx, e); err != nil {
		c.logger.Warn("event log append failed", "event", event, "error", err)
	}
}

func messageMetadata(env *parser.Envelope, block *parser.SemanticBlock) map[string]any {
	meta := make(map[string]any, len(env.Metadata)+2)
	for k, v := range env.Metadata {
		meta[k] = v
	}
	if len(block.Tags) > 0 {
		meta["tags"] = block.Tags
	}
	if len(block.Emotions) > 0 {
		meta["emotions"] = block.Emotions
	}
	return meta
}

// toolSummary projects a tool result to its text form for the transcript.
func toolSummary(call *models.ToolCall) string {
	if m, ok := call.Result.(map[string]any); ok {
		if s, ok := m["summary"].(string); ok && s != "" {
			return s
		}
	}
	raw, err := json.Marshal(call.Result)
	if err != nil {
		return fmt.Sprintf("%v", call.Result)
	}
	return string(raw)
}
