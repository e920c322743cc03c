package dialogue

import (
	"context"
	"log/slog"
	"time"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

// Dialogue metadata keys honored by the turn manager.
const (
	// MetaResponseWindowHours overrides the response window, as an hour count.
	MetaResponseWindowHours = "response_window_hours"
	// MetaBroadcast marks turns of group dialogues, which have no implicit
	// responder and are exempt from the response-window sweep.
	MetaBroadcast = "broadcast"
)

// TurnManager owns turn state transitions and the response-window sweep.
type TurnManager struct {
	store  *repositories.Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewTurnManager creates a turn manager with the default response window.
func NewTurnManager(store *repositories.Store, window time.Duration, logger *slog.Logger) *TurnManager {
	return &TurnManager{store: store, window: window, logger: logger, now: time.Now}
}

func (m *TurnManager) windowFor(d *models.Dialogue) time.Duration {
	return d.MetadataDuration(MetaResponseWindowHours, m.window)
}

// OpenTurn creates a pending turn. Broadcast turns carry no response window.
func (m *TurnManager) OpenTurn(ctx context.Context, d *models.Dialogue, sessionID, initiatorRole, responderRole string, broadcast bool) (*models.Turn, error) {
	t := &models.Turn{
		DialogueID:    d.ID,
		SessionID:     sessionID,
		InitiatorRole: initiatorRole,
		ResponderRole: responderRole,
		Status:        models.TurnPending,
	}
	if broadcast {
		t.Metadata = map[string]any{MetaBroadcast: true}
	}
	if err := m.store.Turns.Create(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Debug("turn opened", "dialogue_id", d.ID, "turn_id", t.ID,
		"initiator", initiatorRole, "responder", responderRole)
	return t, nil
}

// AttachResponse transitions a pending turn to responded when the message
// comes from the responder role inside the response window. A message past
// the deadline expires the turn instead.
func (m *TurnManager) AttachResponse(ctx context.Context, d *models.Dialogue, t *models.Turn, msg *models.Message) error {
	if t.Terminal() {
		return domain.NewError(domain.KindTurnClosed, "turn "+t.ID+" already closed")
	}
	if msg.SenderRole != t.ResponderRole {
		return domain.NewError(domain.KindInvalidInput,
			"response sender role "+msg.SenderRole+" does not match responder "+t.ResponderRole)
	}

	deadline := t.Deadline(m.windowFor(d))
	if msg.CreatedAt.After(deadline) {
		if err := m.expire(ctx, t, deadline); err != nil {
			return err
		}
		return domain.NewError(domain.KindTurnClosed, "response window elapsed for turn "+t.ID)
	}

	closed := msg.CreatedAt
	rt := closed.Sub(t.StartedAt).Seconds()
	t.Status = models.TurnResponded
	t.ClosedAt = &closed
	t.ResponseTime = &rt
	return m.store.Turns.Update(ctx, t)
}

func (m *TurnManager) expire(ctx context.Context, t *models.Turn, deadline time.Time) error {
	t.Status = models.TurnUnresponded
	t.ClosedAt = &deadline
	return m.store.Turns.Update(ctx, t)
}

func broadcastTurn(t *models.Turn) bool {
	if t.Metadata == nil {
		return false
	}
	b, ok := t.Metadata[MetaBroadcast].(bool)
	return ok && b
}

// Sweep transitions every expired pending turn to unresponded and returns
// how many turns it closed. Broadcast turns are skipped.
func (m *TurnManager) Sweep(ctx context.Context) (int, error) {
	pending, err := m.store.Turns.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	swept := 0
	windows := make(map[string]time.Duration)
	for i := range pending {
		t := &pending[i]
		if broadcastTurn(t) {
			continue
		}

		window, ok := windows[t.DialogueID]
		if !ok {
			d, err := m.store.Dialogues.Get(ctx, t.DialogueID)
			if err != nil {
				m.logger.Warn("sweep: dialogue lookup failed", "dialogue_id", t.DialogueID, "error", err)
				continue
			}
			window = m.windowFor(d)
			windows[t.DialogueID] = window
		}

		deadline := t.Deadline(window)
		if now.Before(deadline) {
			continue
		}
		if err := m.expire(ctx, t, deadline); err != nil {
			m.logger.Warn("sweep: expire failed", "turn_id", t.ID, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		m.logger.Info("turn sweep", "expired", swept)
	}
	return swept, nil
}

// Run sweeps on the given interval until the context ends.
func (m *TurnManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("turn sweep failed", "error", err)
			}
		}
	}
}
