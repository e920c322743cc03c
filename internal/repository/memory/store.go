// Package memory implements the repository contracts with an in-process
// store, selected when DB_URL is the literal "memory". It mirrors the
// postgres implementation's semantics: server-assigned timestamps, a global
// monotonic sequence for ordering tiebreaks, and copy-on-read records.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type core struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	dialogues     map[string]*models.Dialogue
	sessions      map[string]*models.Session
	turns         map[string]*models.Turn
	messages      map[string]*models.Message
	msgOrder      []string // insertion order, the Seq tiebreak
	toolCalls     []*models.ToolCall
	events        []*models.EventLog
	introspection map[string]*models.IntrospectionSession
	introOrder    []string
}

// Option configures the store.
type Option func(*core)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

// New creates an in-memory store implementing every repository interface.
func New(opts ...Option) *repositories.Store {
	c := &core{
		now:           time.Now,
		dialogues:     make(map[string]*models.Dialogue),
		sessions:      make(map[string]*models.Session),
		turns:         make(map[string]*models.Turn),
		messages:      make(map[string]*models.Message),
		introspection: make(map[string]*models.IntrospectionSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &repositories.Store{
		Dialogues:     &dialogueRepo{c},
		Sessions:      &sessionRepo{c},
		Turns:         &turnRepo{c},
		Messages:      &messageRepo{c},
		ToolCalls:     &toolCallRepo{c},
		Events:        &eventLogRepo{c},
		Introspection: &introspectionRepo{c},
	}
}

func (c *core) nextSeq() int64 {
	c.seq++
	return c.seq
}

func newID() string { return uuid.NewString() }

func matchTime(t time.Time, since, until *time.Time) bool {
	if since != nil && t.Before(*since) {
		return false
	}
	if until != nil && t.After(*until) {
		return false
	}
	return true
}

func paginate[T any](items []T, f *repositories.Filter) *repositories.Page[T] {
	f.Normalize()
	total := int64(len(items))
	start := f.Offset()
	if start > len(items) {
		start = len(items)
	}
	end := start + f.PageSize
	if end > len(items) {
		end = len(items)
	}
	window := make([]T, end-start)
	copy(window, items[start:end])
	return repositories.NewPage(window, total, f)
}

// ---- dialogues ----

type dialogueRepo struct{ *core }

func copyDialogue(d *models.Dialogue) *models.Dialogue {
	out := *d
	out.Metadata = copyMeta(d.Metadata)
	return &out
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *dialogueRepo) Create(_ context.Context, d *models.Dialogue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = newID()
	}
	now := r.now()
	d.CreatedAt = now
	d.LastActivityAt = now
	d.IsActive = true
	r.dialogues[d.ID] = copyDialogue(d)
	return nil
}

func (r *dialogueRepo) Get(_ context.Context, id string) (*models.Dialogue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dialogues[id]
	if !ok {
		return nil, domain.NewError(domain.KindDialogueNotFound, "dialogue "+id+" not found")
	}
	return copyDialogue(d), nil
}

func (r *dialogueRepo) Update(_ context.Context, d *models.Dialogue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.dialogues[d.ID]
	if !ok {
		return domain.NewError(domain.KindDialogueNotFound, "dialogue "+d.ID+" not found")
	}
	// last_activity_at is monotonically non-decreasing.
	if d.LastActivityAt.Before(stored.LastActivityAt) {
		d.LastActivityAt = stored.LastActivityAt
	}
	r.dialogues[d.ID] = copyDialogue(d)
	return nil
}

func (r *dialogueRepo) FindByParticipants(_ context.Context, dialogueType, participantKey string) (*models.Dialogue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.dialogues {
		if d.DialogueType == dialogueType && d.IsActive && d.ParticipantKey() == participantKey {
			return copyDialogue(d), nil
		}
	}
	return nil, domain.NewError(domain.KindNotFound, "no dialogue for participant tuple")
}

func (r *dialogueRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.Dialogue], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.Dialogue
	for _, d := range r.dialogues {
		if f.DialogueType != "" && d.DialogueType != f.DialogueType {
			continue
		}
		if f.ActiveOnly && !d.IsActive {
			continue
		}
		if !matchTime(d.CreatedAt, f.Since, f.Until) {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(d.Title), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, *copyDialogue(d))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return paginate(out, f), nil
}

func (r *dialogueRepo) TouchActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialogues[id]
	if !ok {
		return domain.NewError(domain.KindDialogueNotFound, "dialogue "+id+" not found")
	}
	if at.After(d.LastActivityAt) {
		d.LastActivityAt = at
	}
	return nil
}

// ---- sessions ----

type sessionRepo struct{ *core }

func copySession(s *models.Session) *models.Session {
	out := *s
	out.Metadata = copyMeta(s.Metadata)
	if s.EndAt != nil {
		end := *s.EndAt
		out.EndAt = &end
	}
	return &out
}

func (r *sessionRepo) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = newID()
	}
	if s.StartAt.IsZero() {
		s.StartAt = r.now()
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *sessionRepo) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "session "+id+" not found")
	}
	return copySession(s), nil
}

func (r *sessionRepo) Update(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return domain.NewError(domain.KindNotFound, "session "+s.ID+" not found")
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *sessionRepo) GetOpenByDialogue(_ context.Context, dialogueID string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.DialogueID == dialogueID && s.EndAt == nil {
			return copySession(s), nil
		}
	}
	return nil, domain.NewError(domain.KindNotFound, "no open session for dialogue "+dialogueID)
}

func (r *sessionRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.Session], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.Session
	for _, s := range r.sessions {
		if f.DialogueID != "" && s.DialogueID != f.DialogueID {
			continue
		}
		if f.ActiveOnly && s.EndAt != nil {
			continue
		}
		if !matchTime(s.StartAt, f.Since, f.Until) {
			continue
		}
		out = append(out, *copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return paginate(out, f), nil
}

// ---- turns ----

type turnRepo struct{ *core }

func copyTurn(t *models.Turn) *models.Turn {
	out := *t
	out.Metadata = copyMeta(t.Metadata)
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		out.ClosedAt = &closed
	}
	if t.ResponseTime != nil {
		rt := *t.ResponseTime
		out.ResponseTime = &rt
	}
	return &out
}

func (r *turnRepo) Create(_ context.Context, t *models.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = newID()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = r.now()
	}
	if t.Status == "" {
		t.Status = models.TurnPending
	}
	r.turns[t.ID] = copyTurn(t)
	return nil
}

func (r *turnRepo) Get(_ context.Context, id string) (*models.Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.turns[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "turn "+id+" not found")
	}
	return copyTurn(t), nil
}

func (r *turnRepo) Update(_ context.Context, t *models.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.turns[t.ID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "turn "+t.ID+" not found")
	}
	// Terminal states are immutable.
	if stored.Terminal() && stored.Status != t.Status {
		return domain.NewError(domain.KindTurnClosed, "turn "+t.ID+" already "+stored.Status)
	}
	r.turns[t.ID] = copyTurn(t)
	return nil
}

func (r *turnRepo) LatestBySession(_ context.Context, sessionID string) (*models.Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Turn
	for _, t := range r.turns {
		if t.SessionID != sessionID {
			continue
		}
		if latest == nil || t.StartedAt.After(latest.StartedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, domain.NewError(domain.KindNotFound, "no turns in session "+sessionID)
	}
	return copyTurn(latest), nil
}

func (r *turnRepo) ListPending(_ context.Context) ([]models.Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Turn
	for _, t := range r.turns {
		if t.Status == models.TurnPending {
			out = append(out, *copyTurn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *turnRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.Turn], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.Turn
	for _, t := range r.turns {
		if f.DialogueID != "" && t.DialogueID != f.DialogueID {
			continue
		}
		if f.SessionID != "" && t.SessionID != f.SessionID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.InitiatorRole != "" && t.InitiatorRole != f.InitiatorRole {
			continue
		}
		if f.ResponderRole != "" && t.ResponderRole != f.ResponderRole {
			continue
		}
		if !matchTime(t.StartedAt, f.Since, f.Until) {
			continue
		}
		out = append(out, *copyTurn(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return paginate(out, f), nil
}

// ---- messages ----

type messageRepo struct{ *core }

func copyMessage(m *models.Message) *models.Message {
	out := *m
	out.Metadata = copyMeta(m.Metadata)
	return &out
}

func (r *messageRepo) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = newID()
	}
	// The store owns ordering: wall clock plus monotonic sequence.
	m.CreatedAt = r.now()
	m.Seq = r.nextSeq()
	r.messages[m.ID] = copyMessage(m)
	r.msgOrder = append(r.msgOrder, m.ID)
	return nil
}

func (r *messageRepo) Get(_ context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "message "+id+" not found")
	}
	return copyMessage(m), nil
}

func (r *messageRepo) ListByTurn(_ context.Context, turnID string) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Message
	for _, id := range r.msgOrder {
		if m := r.messages[id]; m.TurnID == turnID {
			out = append(out, *copyMessage(m))
		}
	}
	sortMessages(out)
	return out, nil
}

func (r *messageRepo) ListBySessionDesc(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Message
	for _, id := range r.msgOrder {
		if m := r.messages[id]; m.SessionID == sessionID {
			out = append(out, *copyMessage(m))
		}
	}
	sortMessages(out)
	// Newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.Message], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.Message
	for _, id := range r.msgOrder {
		m := r.messages[id]
		if f.DialogueID != "" && m.DialogueID != f.DialogueID {
			continue
		}
		if f.SessionID != "" && m.SessionID != f.SessionID {
			continue
		}
		if f.TurnID != "" && m.TurnID != f.TurnID {
			continue
		}
		if f.SenderRole != "" && m.SenderRole != f.SenderRole {
			continue
		}
		if f.ContentType != "" && m.ContentType != f.ContentType {
			continue
		}
		if !matchTime(m.CreatedAt, f.Since, f.Until) {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, *copyMessage(m))
	}
	sortMessages(out)
	return paginate(out, f), nil
}

func sortMessages(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// ---- tool calls ----

type toolCallRepo struct{ *core }

func (r *toolCallRepo) Create(_ context.Context, tc *models.ToolCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tc.ID == "" {
		tc.ID = newID()
	}
	tc.CreatedAt = r.now()
	cp := *tc
	r.toolCalls = append(r.toolCalls, &cp)
	return nil
}

func (r *toolCallRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.ToolCall], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.ToolCall
	for _, tc := range r.toolCalls {
		if f.DialogueID != "" && tc.DialogueID != f.DialogueID {
			continue
		}
		if f.TurnID != "" && tc.TurnID != f.TurnID {
			continue
		}
		if !matchTime(tc.CreatedAt, f.Since, f.Until) {
			continue
		}
		out = append(out, *tc)
	}
	return paginate(out, f), nil
}

// ---- event log ----

type eventLogRepo struct{ *core }

func (r *eventLogRepo) Append(_ context.Context, e *models.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = r.now()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *eventLogRepo) List(_ context.Context, f *repositories.Filter) (*repositories.Page[models.EventLog], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f = f.Normalized()

	var out []models.EventLog
	for _, e := range r.events {
		if f.DialogueID != "" && e.DialogueID != f.DialogueID {
			continue
		}
		if f.TurnID != "" && e.TurnID != f.TurnID {
			continue
		}
		out = append(out, *e)
	}
	return paginate(out, f), nil
}

// ---- introspection ----

type introspectionRepo struct{ *core }

func copyIntrospection(s *models.IntrospectionSession) *models.IntrospectionSession {
	out := *s
	out.Metadata = copyMeta(s.Metadata)
	out.Steps = make([]models.IntrospectionStep, len(s.Steps))
	copy(out.Steps, s.Steps)
	if s.CompletedAt != nil {
		done := *s.CompletedAt
		out.CompletedAt = &done
	}
	return &out
}

func (r *introspectionRepo) Create(_ context.Context, s *models.IntrospectionSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = newID()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = r.now()
	}
	r.introspection[s.ID] = copyIntrospection(s)
	r.introOrder = append(r.introOrder, s.ID)
	return nil
}

func (r *introspectionRepo) Get(_ context.Context, id string) (*models.IntrospectionSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.introspection[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "introspection session "+id+" not found")
	}
	return copyIntrospection(s), nil
}

func (r *introspectionRepo) Update(_ context.Context, s *models.IntrospectionSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.introspection[s.ID]; !ok {
		return domain.NewError(domain.KindNotFound, "introspection session "+s.ID+" not found")
	}
	r.introspection[s.ID] = copyIntrospection(s)
	return nil
}

func (r *introspectionRepo) ListByDialogue(_ context.Context, dialogueID string) ([]models.IntrospectionSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.IntrospectionSession
	for _, id := range r.introOrder {
		if s := r.introspection[id]; s.DialogueID == dialogueID {
			out = append(out, *copyIntrospection(s))
		}
	}
	return out, nil
}
