package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

// MetaSessionTimeoutHours is the per-dialogue override for the session idle
// threshold, stored in dialogue metadata as an hour count.
const MetaSessionTimeoutHours = "session_timeout_hours"

// SessionManager opens and closes sessions within a dialogue based on idle
// thresholds. All calls happen under the dialogue's pipeline lock.
type SessionManager struct {
	store  *repositories.Store
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionManager creates a session manager with the default idle threshold.
func NewSessionManager(store *repositories.Store, idle time.Duration, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, idle: idle, logger: logger, now: time.Now}
}

func (m *SessionManager) idleFor(d *models.Dialogue) time.Duration {
	return d.MetadataDuration(MetaSessionTimeoutHours, m.idle)
}

// EnsureActiveSession returns the dialogue's open session, rolling it over
// when its most recent turn closed longer ago than the idle threshold.
func (m *SessionManager) EnsureActiveSession(ctx context.Context, d *models.Dialogue, sessionType string) (*models.Session, error) {
	open, err := m.store.Sessions.GetOpenByDialogue(ctx, d.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return m.create(ctx, d, sessionType)
		}
		return nil, err
	}

	if m.expired(ctx, d, open) {
		if err := m.Close(ctx, open, "closed after idle timeout"); err != nil {
			return nil, err
		}
		return m.create(ctx, d, sessionType)
	}
	return open, nil
}

// expired reports whether the session's latest turn closed longer ago than
// the idle threshold. A session with no turns, or with a still-open turn,
// never expires.
func (m *SessionManager) expired(ctx context.Context, d *models.Dialogue, s *models.Session) bool {
	latest, err := m.store.Turns.LatestBySession(ctx, s.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("latest turn lookup failed", "session_id", s.ID, "error", err)
		}
		return false
	}
	if latest.ClosedAt == nil {
		return false
	}
	return m.now().Sub(*latest.ClosedAt) > m.idleFor(d)
}

func (m *SessionManager) create(ctx context.Context, d *models.Dialogue, sessionType string) (*models.Session, error) {
	s := &models.Session{
		DialogueID:  d.ID,
		SessionType: sessionType,
		CreatedBy:   models.RoleSystem,
	}
	if err := m.store.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Debug("session opened", "dialogue_id", d.ID, "session_id", s.ID, "type", sessionType)
	return s, nil
}

// Close ends the session and records a closing description.
func (m *SessionManager) Close(ctx context.Context, s *models.Session, description string) error {
	if s.EndAt != nil {
		return nil
	}
	end := m.now().UTC()
	s.EndAt = &end
	if description != "" {
		s.Description = description
	}
	if err := m.store.Sessions.Update(ctx, s); err != nil {
		return err
	}
	m.logger.Debug("session closed", "session_id", s.ID)
	return nil
}
