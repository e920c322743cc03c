// Package repositories defines the persistence contracts for the four-layer
// dialogue data model plus the auxiliary logs. Implementations must assign
// creation timestamps and the per-store monotonic sequence themselves;
// client-supplied clocks are never trusted for ordering.
package repositories

import (
	"context"
	"time"

	"spectrum/internal/domain/models"
)

// Filter is the unified query filter shared by the /api/query endpoints.
// Zero values mean "no constraint".
type Filter struct {
	DialogueID    string
	SessionID     string
	TurnID        string
	DialogueType  string
	SenderRole    string
	InitiatorRole string
	ResponderRole string
	Status        string
	ContentType   string
	ActiveOnly    bool
	Since         *time.Time
	Until         *time.Time
	Query         string // substring match on content/title
	Page          int    // 1-based
	PageSize      int
}

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps page and page size into their allowed ranges.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the item offset for the normalized filter.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Normalized returns the filter with page bounds clamped. A nil filter is an
// unconstrained first page, so callers may pass nil for a plain listing.
func (f *Filter) Normalized() *Filter {
	if f == nil {
		f = &Filter{}
	}
	f.Normalize()
	return f
}

// Page is the pagination envelope returned by query endpoints.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPage assembles a page envelope from a result window.
func NewPage[T any](items []T, total int64, f *Filter) *Page[T] {
	totalPages := int((total + int64(f.PageSize) - 1) / int64(f.PageSize))
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: totalPages,
	}
}

// DialogueRepository persists Dialogue records.
type DialogueRepository interface {
	Create(ctx context.Context, d *models.Dialogue) error
	Get(ctx context.Context, id string) (*models.Dialogue, error)
	Update(ctx context.Context, d *models.Dialogue) error
	// FindByParticipants locates an existing active dialogue whose
	// ParticipantKey matches, enforcing the one-dialogue-per-tuple invariant
	// at creation time. The key covers metadata participants (ai_ai peers,
	// group members), not just the column triple.
	FindByParticipants(ctx context.Context, dialogueType, participantKey string) (*models.Dialogue, error)
	List(ctx context.Context, f *Filter) (*Page[models.Dialogue], error)
	// TouchActivity advances last_activity_at, keeping it monotonic.
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

// SessionRepository persists Session records.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	GetOpenByDialogue(ctx context.Context, dialogueID string) (*models.Session, error)
	List(ctx context.Context, f *Filter) (*Page[models.Session], error)
}

// TurnRepository persists Turn records.
type TurnRepository interface {
	Create(ctx context.Context, t *models.Turn) error
	Get(ctx context.Context, id string) (*models.Turn, error)
	Update(ctx context.Context, t *models.Turn) error
	// LatestBySession returns the most recently started turn of the session,
	// or ErrNotFound.
	LatestBySession(ctx context.Context, sessionID string) (*models.Turn, error)
	// ListPending returns all pending turns, oldest first. Used by the sweeper.
	ListPending(ctx context.Context) ([]models.Turn, error)
	List(ctx context.Context, f *Filter) (*Page[models.Turn], error)
}

// MessageRepository persists Message records. Create assigns CreatedAt and
// the monotonic Seq tiebreak.
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	ListByTurn(ctx context.Context, turnID string) ([]models.Message, error)
	// ListBySessionDesc returns up to limit messages of the session, newest
	// first. The context builder consumes these until its budget is spent.
	ListBySessionDesc(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	List(ctx context.Context, f *Filter) (*Page[models.Message], error)
}

// ToolCallRepository persists tool invocation audit records.
type ToolCallRepository interface {
	Create(ctx context.Context, tc *models.ToolCall) error
	List(ctx context.Context, f *Filter) (*Page[models.ToolCall], error)
}

// EventLogRepository is the append-only pipeline trace.
type EventLogRepository interface {
	Append(ctx context.Context, e *models.EventLog) error
	List(ctx context.Context, f *Filter) (*Page[models.EventLog], error)
}

// IntrospectionRepository persists self-reflection session records.
type IntrospectionRepository interface {
	Create(ctx context.Context, s *models.IntrospectionSession) error
	Get(ctx context.Context, id string) (*models.IntrospectionSession, error)
	Update(ctx context.Context, s *models.IntrospectionSession) error
	ListByDialogue(ctx context.Context, dialogueID string) ([]models.IntrospectionSession, error)
}

// Store bundles every repository for wiring convenience.
type Store struct {
	Dialogues     DialogueRepository
	Sessions      SessionRepository
	Turns         TurnRepository
	Messages      MessageRepository
	ToolCalls     ToolCallRepository
	Events        EventLogRepository
	Introspection IntrospectionRepository
}
