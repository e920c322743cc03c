package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*repositories.Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func strPtr(s string) *string { return &s }

func TestMessageOrderingSeqTiebreak(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	// Same wall-clock instant for every message: ordering must fall back to
	// the insertion sequence.
	var ids []string
	for i := 0; i < 5; i++ {
		m := &models.Message{DialogueID: "d1", SessionID: "s1", TurnID: "t1",
			SenderRole: models.RoleHuman, Content: "msg", ContentType: models.ContentText}
		if err := store.Messages.Create(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
		ids = append(ids, m.ID)
	}

	got, err := store.Messages.ListByTurn(ctx, "t1")
	if err != nil {
		t.Fatalf("list by turn: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], m.ID)
		}
		if i > 0 && got[i].Seq <= got[i-1].Seq {
			t.Errorf("seq not strictly increasing at %d", i)
		}
	}
}

func TestMessageCreateAssignsServerTimestamp(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	m := &models.Message{DialogueID: "d1", SessionID: "s1", TurnID: "t1",
		SenderRole: models.RoleHuman, Content: "hello", ContentType: models.ContentText,
		CreatedAt: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)} // client clock, must be ignored
	if err := store.Messages.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !m.CreatedAt.Equal(clock.Now()) {
		t.Errorf("expected server-assigned timestamp %v, got %v", clock.Now(), m.CreatedAt)
	}
}

func TestDialogueLastActivityMonotonic(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	d := &models.Dialogue{DialogueType: models.DialogueHumanAI,
		HumanID: strPtr("h1"), AIID: strPtr("a1")}
	if err := store.Dialogues.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := clock.Now().Add(time.Hour)
	if err := store.Dialogues.TouchActivity(ctx, d.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// An earlier touch must not move the clock backwards.
	if err := store.Dialogues.TouchActivity(ctx, d.ID, clock.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := store.Dialogues.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("expected last_activity_at %v, got %v", later, got.LastActivityAt)
	}
}

func TestTurnTerminalStatesImmutable(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	turn := &models.Turn{DialogueID: "d1", SessionID: "s1",
		InitiatorRole: models.RoleHuman, ResponderRole: models.RoleAI}
	if err := store.Turns.Create(ctx, turn); err != nil {
		t.Fatalf("create: %v", err)
	}

	closed := time.Now()
	turn.Status = models.TurnResponded
	turn.ClosedAt = &closed
	if err := store.Turns.Update(ctx, turn); err != nil {
		t.Fatalf("close: %v", err)
	}

	turn.Status = models.TurnUnresponded
	err := store.Turns.Update(ctx, turn)
	if err == nil {
		t.Fatal("expected terminal transition to fail")
	}
	if !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestFindByParticipants(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	d := &models.Dialogue{DialogueType: models.DialogueHumanAI,
		HumanID: strPtr("h1"), AIID: strPtr("a1")}
	if err := store.Dialogues.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := store.Dialogues.FindByParticipants(ctx, models.DialogueHumanAI, d.ParticipantKey())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != d.ID {
		t.Errorf("expected %s, got %s", d.ID, found.ID)
	}

	other := &models.Dialogue{DialogueType: models.DialogueHumanAI,
		HumanID: strPtr("h2"), AIID: strPtr("a1")}
	_, err = store.Dialogues.FindByParticipants(ctx, models.DialogueHumanAI, other.ParticipantKey())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown tuple, got %v", err)
	}
}

func TestFindByParticipantsMetadataIdentity(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first := &models.Dialogue{DialogueType: models.DialogueAIAI,
		AIID: strPtr("a1"), Metadata: map[string]any{"peer_ai_id": "b1"}}
	if err := store.Dialogues.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A different peer is a different conversation.
	otherPeer := &models.Dialogue{DialogueType: models.DialogueAIAI,
		AIID: strPtr("a1"), Metadata: map[string]any{"peer_ai_id": "b2"}}
	if _, err := store.Dialogues.FindByParticipants(ctx, models.DialogueAIAI, otherPeer.ParticipantKey()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a different peer, got %v", err)
	}

	found, err := store.Dialogues.FindByParticipants(ctx, models.DialogueAIAI, first.ParticipantKey())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, found.ID)
	}

	// Member order does not change a group's identity.
	group := &models.Dialogue{DialogueType: models.DialogueHumanHumanGroup,
		Metadata: map[string]any{"members": []any{"u1", "u2"}}}
	if err := store.Dialogues.Create(ctx, group); err != nil {
		t.Fatalf("create group: %v", err)
	}
	reordered := &models.Dialogue{DialogueType: models.DialogueHumanHumanGroup,
		Metadata: map[string]any{"members": []any{"u2", "u1"}}}
	found, err = store.Dialogues.FindByParticipants(ctx, models.DialogueHumanHumanGroup, reordered.ParticipantKey())
	if err != nil {
		t.Fatalf("find group: %v", err)
	}
	if found.ID != group.ID {
		t.Errorf("expected %s, got %s", group.ID, found.ID)
	}
}

func TestListNilFilter(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	m := &models.Message{DialogueID: "d1", SessionID: "s1", TurnID: "t1",
		SenderRole: models.RoleHuman, Content: "hi", ContentType: models.ContentText}
	if err := store.Messages.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := store.Messages.List(ctx, nil)
	if err != nil {
		t.Fatalf("list with nil filter: %v", err)
	}
	if page.Total != 1 || page.PageSize != repositories.DefaultPageSize {
		t.Errorf("expected total 1 with default page size, got total=%d size=%d",
			page.Total, page.PageSize)
	}
	if _, err := store.Dialogues.List(ctx, nil); err != nil {
		t.Errorf("dialogue list with nil filter: %v", err)
	}
	if _, err := store.ToolCalls.List(ctx, nil); err != nil {
		t.Errorf("tool call list with nil filter: %v", err)
	}
}

func TestMessagePaginationCoversAllExactlyOnce(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		m := &models.Message{DialogueID: "d1", SessionID: "s1", TurnID: "t1",
			SenderRole: models.RoleHuman, Content: "m", ContentType: models.ContentText}
		if err := store.Messages.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	seen := make(map[string]int)
	page := 1
	for {
		f := &repositories.Filter{DialogueID: "d1", Page: page, PageSize: 20}
		res, err := store.Messages.List(ctx, f)
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		if res.Total != 45 {
			t.Fatalf("expected total 45, got %d", res.Total)
		}
		if res.TotalPages != 3 {
			t.Fatalf("expected 3 pages, got %d", res.TotalPages)
		}
		for _, m := range res.Items {
			seen[m.ID]++
		}
		if page >= res.TotalPages {
			break
		}
		page++
	}

	if len(seen) != 45 {
		t.Errorf("expected 45 distinct messages, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %s returned %d times", id, n)
		}
	}
}

func TestPageSizeClamped(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	f := &repositories.Filter{PageSize: 500}
	res, err := store.Messages.List(ctx, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.PageSize != repositories.MaxPageSize {
		t.Errorf("expected page size clamped to %d, got %d", repositories.MaxPageSize, res.PageSize)
	}

	f = &repositories.Filter{}
	res, err = store.Messages.List(ctx, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.PageSize != repositories.DefaultPageSize {
		t.Errorf("expected default page size %d, got %d", repositories.DefaultPageSize, res.PageSize)
	}
}
