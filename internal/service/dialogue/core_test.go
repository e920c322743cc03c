package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"spectrum/internal/config"
	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/repository/memory"
	"spectrum/internal/service/contextbuilder"
	"spectrum/internal/service/llm"
	"spectrum/internal/service/llm/providers/mock"
	"spectrum/internal/service/mixer"
	"spectrum/internal/service/notify"
	"spectrum/internal/service/parser"
	"spectrum/internal/service/tools"
	"spectrum/internal/service/tools/builtin"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingProvider counts completion rounds around the mock backend.
type countingProvider struct {
	inner llm.Provider
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *countingProvider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Complete(ctx, segments, opts)
}

func (p *countingProvider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Stream(ctx, segments, opts, fn)
}

type fixture struct {
	core     *Core
	store    *repositories.Store
	clock    *fakeClock
	hub      *notify.Hub
	provider *countingProvider
	turns    *TurnManager
	sessions *SessionManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clock.Now))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		LLMModel:         "mock-model",
		MaxContextLength: 4000,
		ResponseWindow:   3 * time.Hour,
		SessionTimeout:   time.Hour,
		PipelineDeadline: 2 * time.Minute,
	}

	registry := tools.NewRegistry()
	if err := builtin.Register(registry, cfg); err != nil {
		t.Fatalf("register builtin tools: %v", err)
	}
	invoker := tools.NewInvoker(registry, store.ToolCalls, logger)

	hub := notify.NewHub(logger)
	turns := NewTurnManager(store, cfg.ResponseWindow, logger)
	turns.now = clock.Now
	sessions := NewSessionManager(store, cfg.SessionTimeout, logger)
	sessions.now = clock.Now

	provider := &countingProvider{inner: mock.New()}
	core := NewCore(Deps{
		Store:    store,
		Parser:   parser.New(store.Messages, logger),
		Builder:  contextbuilder.New(store.Messages, config.DefaultPersona(), cfg.MaxContextLength, logger),
		Provider: provider,
		Invoker:  invoker,
		Mixer:    mixer.New(cfg.MaxContextLength),
		Hub:      hub,
		Turns:    turns,
		Sessions: sessions,
		Config:   cfg,
		Logger:   logger,
	})
	core.now = clock.Now

	return &fixture{core: core, store: store, clock: clock, hub: hub,
		provider: provider, turns: turns, sessions: sessions}
}

func (f *fixture) createHumanAI(t *testing.T, meta map[string]any) *models.Dialogue {
	t.Helper()
	d, created, err := f.core.CreateDialogue(context.Background(), &CreateRequest{
		DialogueType: models.DialogueHumanAI,
		HumanID:      "h1",
		AIID:         "a1",
		Metadata:     meta,
	})
	if err != nil {
		t.Fatalf("create dialogue: %v", err)
	}
	if !created {
		t.Fatal("expected a new dialogue")
	}
	return d
}

func humanText(dialogueID, content string) *parser.Envelope {
	return &parser.Envelope{
		DialogueID:  dialogueID,
		SenderRole:  models.RoleHuman,
		SenderID:    "h1",
		Content:     content,
		ContentType: models.ContentText,
	}
}

func TestSimpleExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	client := f.hub.Subscribe("h1")
	defer f.hub.Unsubscribe(client)

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Hello there"))
	if err != nil {
		t.Fatalf("process input: %v", err)
	}
	if res.Status != models.TurnResponded {
		t.Errorf("expected status responded, got %s", res.Status)
	}
	if res.Content == "" {
		t.Error("expected non-empty assistant content")
	}

	turn, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != models.TurnResponded {
		t.Errorf("expected turn responded, got %s", turn.Status)
	}
	if turn.ClosedAt == nil || turn.ResponseTime == nil {
		t.Error("expected closed_at and response_time on a responded turn")
	}
	if turn.InitiatorRole != models.RoleHuman || turn.ResponderRole != models.RoleAI {
		t.Errorf("unexpected turn roles: %s→%s", turn.InitiatorRole, turn.ResponderRole)
	}

	msgs, err := f.store.Messages.ListByTurn(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderRole != models.RoleHuman || msgs[1].SenderRole != models.RoleAI {
		t.Errorf("unexpected message roles: %s, %s", msgs[0].SenderRole, msgs[1].SenderRole)
	}
	if msgs[1].Content != res.Content {
		t.Error("persisted assistant content differs from result")
	}

	// The subscribed participant sees both the inbound and the response.
	var messageEvents, finalChunks int
drain:
	for {
		select {
		case ev := <-client.Events:
			switch ev.Type {
			case notify.EventMessage:
				messageEvents++
			case notify.EventStreamChunk:
				if data, ok := ev.Data.(map[string]any); ok {
					if final, _ := data["is_final"].(bool); final {
						finalChunks++
					}
				}
			}
		default:
			break drain
		}
	}
	if messageEvents != 2 {
		t.Errorf("expected 2 message events, got %d", messageEvents)
	}
	if finalChunks != 1 {
		t.Errorf("expected 1 final stream chunk, got %d", finalChunks)
	}
}

func TestToolLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Will it rain in Paris tomorrow?"))
	if err != nil {
		t.Fatalf("process input: %v", err)
	}
	if res.Status != models.TurnResponded {
		t.Errorf("expected status responded, got %s", res.Status)
	}
	if got := f.provider.Calls(); got != 2 {
		t.Errorf("expected exactly 2 completion rounds, got %d", got)
	}

	calls, err := f.store.ToolCalls.List(ctx, &repositories.Filter{DialogueID: d.ID})
	if err != nil {
		t.Fatalf("list tool calls: %v", err)
	}
	if calls.Total != 1 {
		t.Fatalf("expected 1 tool call, got %d", calls.Total)
	}
	call := calls.Items[0]
	if call.ToolID != "weather" || !call.Success {
		t.Errorf("expected successful weather call, got %s success=%v", call.ToolID, call.Success)
	}
	if call.Parameters["city"] != "Paris" {
		t.Errorf("expected city Paris, got %v", call.Parameters["city"])
	}

	msgs, err := f.store.Messages.ListByTurn(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (human, tool, ai), got %d", len(msgs))
	}
	wantRoles := []string{models.RoleHuman, models.RoleSystem, models.RoleAI}
	for i, role := range wantRoles {
		if msgs[i].SenderRole != role {
			t.Errorf("message %d: expected role %s, got %s", i, role, msgs[i].SenderRole)
		}
	}
	if msgs[1].ContentType != models.ContentToolOutput {
		t.Errorf("expected tool_output content type, got %s", msgs[1].ContentType)
	}
	if msgs[2].MetaString(models.MetaToolUsed) != "weather" {
		t.Errorf("expected tool_used=weather on the response, got %q",
			msgs[2].MetaString(models.MetaToolUsed))
	}
}

func TestUnrespondedTurnSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	// AI-initiated turn: responder is the human, so nothing auto-responds.
	res, err := f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		SenderRole:  models.RoleAI,
		SenderID:    "a1",
		Content:     "Are you still there?",
		ContentType: models.ContentText,
	})
	if err != nil {
		t.Fatalf("process input: %v", err)
	}
	if res.Status != StatusRecorded {
		t.Errorf("expected status recorded, got %s", res.Status)
	}
	first, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if first.Status != models.TurnPending {
		t.Fatalf("expected pending turn, got %s", first.Status)
	}

	f.clock.Advance(3*time.Hour + time.Minute)
	swept, err := f.turns.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept turn, got %d", swept)
	}

	first, err = f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if first.Status != models.TurnUnresponded {
		t.Errorf("expected unresponded, got %s", first.Status)
	}
	wantClosed := first.StartedAt.Add(3 * time.Hour)
	if first.ClosedAt == nil || !first.ClosedAt.Equal(wantClosed) {
		t.Errorf("expected closed_at at the window deadline %v, got %v", wantClosed, first.ClosedAt)
	}

	// The late human message opens a fresh turn instead of reviving the old one.
	res2, err := f.core.ProcessInput(ctx, humanText(d.ID, "Sorry, I am back now"))
	if err != nil {
		t.Fatalf("process late input: %v", err)
	}
	if res2.TurnID == res.TurnID {
		t.Error("expected a new turn for the late message")
	}
	if res2.Status != models.TurnResponded {
		t.Errorf("expected new turn responded, got %s", res2.Status)
	}
	if res2.SessionID != res.SessionID {
		t.Error("expected the session to survive a 3h gap short of the idle check")
	}
}

func TestSessionRollover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	res1, err := f.core.ProcessInput(ctx, humanText(d.ID, "First message"))
	if err != nil {
		t.Fatalf("input 1: %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	res2, err := f.core.ProcessInput(ctx, humanText(d.ID, "Second message"))
	if err != nil {
		t.Fatalf("input 2: %v", err)
	}
	if res2.SessionID != res1.SessionID {
		t.Error("expected the same session after a 10 minute gap")
	}

	f.clock.Advance(70 * time.Minute)
	res3, err := f.core.ProcessInput(ctx, humanText(d.ID, "Third message"))
	if err != nil {
		t.Fatalf("input 3: %v", err)
	}
	if res3.SessionID == res1.SessionID {
		t.Error("expected a new session after a 70 minute gap")
	}

	sessions, err := f.store.Sessions.List(ctx, &repositories.Filter{DialogueID: d.ID})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if sessions.Total != 2 {
		t.Fatalf("expected 2 sessions, got %d", sessions.Total)
	}
	var open, closed int
	for _, s := range sessions.Items {
		if s.Open() {
			open++
		} else {
			closed++
		}
	}
	if open != 1 || closed != 1 {
		t.Errorf("expected 1 open and 1 closed session, got %d open %d closed", open, closed)
	}
}

func TestIdleSessionRetained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	res1, err := f.core.ProcessInput(ctx, humanText(d.ID, "Hello"))
	if err != nil {
		t.Fatalf("input 1: %v", err)
	}
	f.clock.Advance(59 * time.Minute)
	res2, err := f.core.ProcessInput(ctx, humanText(d.ID, "Still here"))
	if err != nil {
		t.Fatalf("input 2: %v", err)
	}
	if res2.SessionID != res1.SessionID {
		t.Error("expected session retained just under the idle threshold")
	}
}

func TestConcurrentInputsSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i, content := range []string{"Tell me about mountains", "Tell me about rivers"} {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			results[i], errs[i] = f.core.ProcessInput(ctx, humanText(d.ID, content))
		}(i, content)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("input %d: %v", i, err)
		}
		if results[i].Status != models.TurnResponded {
			t.Errorf("input %d: expected responded, got %s", i, results[i].Status)
		}
	}
	if results[0].TurnID == results[1].TurnID {
		t.Fatal("expected two distinct turns")
	}

	// Per-turn message ranges must not interleave: the lock serializes the
	// two pipelines, so one turn's seqs all precede the other's.
	ranges := make([][2]int64, 2)
	for i, res := range results {
		msgs, err := f.store.Messages.ListByTurn(ctx, res.TurnID)
		if err != nil {
			t.Fatalf("list turn %d: %v", i, err)
		}
		if len(msgs) != 2 {
			t.Fatalf("turn %d: expected 2 messages, got %d", i, len(msgs))
		}
		if msgs[0].SenderRole != models.RoleHuman || msgs[1].SenderRole != models.RoleAI {
			t.Errorf("turn %d: unexpected roles %s, %s", i, msgs[0].SenderRole, msgs[1].SenderRole)
		}
		ranges[i] = [2]int64{msgs[0].Seq, msgs[1].Seq}
	}
	a, b := ranges[0], ranges[1]
	if a[0] > b[0] {
		a, b = b, a
	}
	if a[1] > b[0] {
		t.Errorf("turn message ranges interleave: %v vs %v", ranges[0], ranges[1])
	}
}

func TestClosedDialogueRejectsInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	if _, err := f.core.CloseDialogue(ctx, d.ID); err != nil {
		t.Fatalf("close dialogue: %v", err)
	}

	_, err := f.core.ProcessInput(ctx, humanText(d.ID, "Anyone home?"))
	if domain.Kind(err) != domain.KindDialogueClosed {
		t.Errorf("expected DialogueClosed, got %v", err)
	}
}

func TestInvalidInputCreatesNoTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	_, err := f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		SenderRole:  models.RoleHuman,
		Content:     "payload",
		ContentType: "hologram",
	})
	if domain.Kind(err) != domain.KindUnsupportedModality {
		t.Fatalf("expected UnsupportedModality, got %v", err)
	}

	turns, err := f.store.Turns.List(ctx, &repositories.Filter{DialogueID: d.ID})
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if turns.Total != 0 {
		t.Errorf("expected no turns after a rejected input, got %d", turns.Total)
	}
	msgs, err := f.store.Messages.List(ctx, &repositories.Filter{DialogueID: d.ID})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if msgs.Total != 0 {
		t.Errorf("expected no messages after a rejected input, got %d", msgs.Total)
	}
}

func TestDialogueDeduplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	again, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
		DialogueType: models.DialogueHumanAI,
		HumanID:      "h1",
		AIID:         "a1",
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("expected the existing dialogue to be reused")
	}
	if again.ID != d.ID {
		t.Errorf("expected dialogue %s, got %s", d.ID, again.ID)
	}
}

func TestDialogueDeduplicationDistinguishesMetadataParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("ai_ai peers", func(t *testing.T) {
		first, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueAIAI, AIID: "a1",
			Metadata: map[string]any{"peer_ai_id": "b1"},
		})
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}

		second, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueAIAI, AIID: "a1",
			Metadata: map[string]any{"peer_ai_id": "b2"},
		})
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if !created {
			t.Error("expected a new dialogue for a different peer")
		}
		if second.ID == first.ID {
			t.Errorf("expected distinct dialogues, both got %s", first.ID)
		}

		same, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueAIAI, AIID: "a1",
			Metadata: map[string]any{"peer_ai_id": "b1"},
		})
		if err != nil {
			t.Fatalf("repeat create: %v", err)
		}
		if created || same.ID != first.ID {
			t.Errorf("expected the b1 dialogue reused, got created=%v id=%s", created, same.ID)
		}
	})

	t.Run("group members", func(t *testing.T) {
		first, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueHumanHumanGroup,
			Metadata:     map[string]any{"members": []any{"u1", "u2"}},
		})
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}

		second, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueHumanHumanGroup,
			Metadata:     map[string]any{"members": []any{"u3", "u4"}},
		})
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if !created {
			t.Error("expected a new dialogue for different members")
		}
		if second.ID == first.ID {
			t.Errorf("expected distinct dialogues, both got %s", first.ID)
		}

		same, created, err := f.core.CreateDialogue(ctx, &CreateRequest{
			DialogueType: models.DialogueHumanHumanGroup,
			Metadata:     map[string]any{"members": []any{"u2", "u1"}},
		})
		if err != nil {
			t.Fatalf("reordered create: %v", err)
		}
		if created || same.ID != first.ID {
			t.Errorf("expected member order ignored, got created=%v id=%s", created, same.ID)
		}
	})
}

func TestCreateDialogueParticipantValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"human_ai missing ai", CreateRequest{DialogueType: models.DialogueHumanAI, HumanID: "h1"}},
		{"ai_self missing ai", CreateRequest{DialogueType: models.DialogueAISelf}},
		{"ai_ai missing peer", CreateRequest{DialogueType: models.DialogueAIAI, AIID: "a1"}},
		{"private missing relation", CreateRequest{DialogueType: models.DialogueHumanHumanPrivate, HumanID: "h1"}},
		{"group single member", CreateRequest{DialogueType: models.DialogueHumanHumanGroup,
			Metadata: map[string]any{"members": []any{"h1"}}}},
		{"unknown type", CreateRequest{DialogueType: "carrier_pigeon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.core.CreateDialogue(ctx, &tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestCloseDialogueClosesOpenWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)

	// Leave a pending AI-initiated turn behind.
	res, err := f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		SenderRole:  models.RoleAI,
		SenderID:    "a1",
		Content:     "Checking in",
		ContentType: models.ContentText,
	})
	if err != nil {
		t.Fatalf("process input: %v", err)
	}

	closed, err := f.core.CloseDialogue(ctx, d.ID)
	if err != nil {
		t.Fatalf("close dialogue: %v", err)
	}
	if closed.IsActive {
		t.Error("expected dialogue deactivated")
	}

	turn, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != models.TurnUnresponded {
		t.Errorf("expected open turn expired on close, got %s", turn.Status)
	}
	if turn.Metadata["closed_by"] != "dialogue_close" {
		t.Errorf("expected closed_by marker, got %v", turn.Metadata["closed_by"])
	}

	session, err := f.store.Sessions.Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Open() {
		t.Error("expected session closed")
	}

	// Closing again is a no-op.
	if _, err := f.core.CloseDialogue(ctx, d.ID); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestResponseWindowMetadataOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, map[string]any{MetaResponseWindowHours: float64(1)})

	res, err := f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		SenderRole:  models.RoleAI,
		SenderID:    "a1",
		Content:     "Ping",
		ContentType: models.ContentText,
	})
	if err != nil {
		t.Fatalf("process input: %v", err)
	}

	f.clock.Advance(61 * time.Minute)
	swept, err := f.turns.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected the shortened window to expire the turn, got %d swept", swept)
	}

	turn, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != models.TurnUnresponded {
		t.Errorf("expected unresponded, got %s", turn.Status)
	}
}

func TestBroadcastTurnsExemptFromSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.core.CreateDialogue(ctx, &CreateRequest{
		DialogueType: models.DialogueHumanAIGroup,
		AIID:         "a1",
		Metadata:     map[string]any{"members": []any{"h1", "h2"}},
	})
	if err != nil {
		t.Fatalf("create group dialogue: %v", err)
	}

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Hello everyone"))
	if err != nil {
		t.Fatalf("process input: %v", err)
	}
	if res.Status != StatusRecorded {
		t.Errorf("expected broadcast input recorded without auto-response, got %s", res.Status)
	}

	f.clock.Advance(100 * time.Hour)
	swept, err := f.turns.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("expected broadcast turn skipped by the sweep, got %d", swept)
	}

	turn, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != models.TurnPending {
		t.Errorf("expected broadcast turn still pending, got %s", turn.Status)
	}
}

// blockingProvider emits one chunk, then waits for the context to expire.
type blockingProvider struct{}

func (p *blockingProvider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	if err := fn(llm.Chunk{Content: "I was think"}); err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipelineCancellationKeepsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, map[string]any{MetaPipelineDeadlineSeconds: 0.05})
	f.core.provider = &blockingProvider{}

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Hello"))
	if err != nil {
		t.Fatalf("expected cancellation handled without error, got %v", err)
	}
	if res.Status != StatusPartial {
		t.Errorf("expected partial status, got %s", res.Status)
	}
	if res.Content != "I was think" {
		t.Errorf("expected the streamed prefix kept, got %q", res.Content)
	}

	msg, err := f.store.Messages.Get(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if partial, _ := msg.Metadata[models.MetaPartial].(bool); !partial {
		t.Error("expected metadata.partial=true on the saved message")
	}

	turn, err := f.store.Turns.Get(ctx, res.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if turn.Status != models.TurnPending {
		t.Errorf("expected turn left pending after cancellation, got %s", turn.Status)
	}
}

// toolThenBlockProvider streams a preamble and requests a tool on the first
// round, then streams a fragment and waits out the context on the second.
type toolThenBlockProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *toolThenBlockProvider) round() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.calls
}

func (p *toolThenBlockProvider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *toolThenBlockProvider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	if p.round() == 1 {
		if err := fn(llm.Chunk{Content: "Checking the forecast."}); err != nil {
			return nil, err
		}
		return &llm.Result{ToolRequest: &llm.ToolRequest{
			ToolID:     "weather",
			Parameters: map[string]any{"city": "Paris"},
		}}, nil
	}
	if err := fn(llm.Chunk{Content: "It will"}); err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancellationPartialExcludesEarlierRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, map[string]any{MetaPipelineDeadlineSeconds: 0.05})
	f.core.provider = &toolThenBlockProvider{}

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Will it rain tomorrow?"))
	if err != nil {
		t.Fatalf("expected cancellation handled without error, got %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("expected partial status, got %s", res.Status)
	}
	if res.Content != "It will" {
		t.Errorf("expected only the final round's fragment kept, got %q", res.Content)
	}

	msg, err := f.store.Messages.Get(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if strings.Contains(msg.Content, "Checking the forecast.") {
		t.Errorf("expected the first round's preamble dropped, got %q", msg.Content)
	}
}

// failingProvider fails every completion outright.
type failingProvider struct{}

func (p *failingProvider) Complete(ctx context.Context, segments []llm.Segment, opts llm.Options) (*llm.Result, error) {
	return nil, errors.New("backend exploded")
}

func (p *failingProvider) Stream(ctx context.Context, segments []llm.Segment, opts llm.Options, fn func(llm.Chunk) error) (*llm.Result, error) {
	return nil, errors.New("backend exploded")
}

func TestLLMFailureFinalizesTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createHumanAI(t, nil)
	f.core.provider = &failingProvider{}

	res, err := f.core.ProcessInput(ctx, humanText(d.ID, "Hello"))
	if err != nil {
		t.Fatalf("expected failure recovered into a message, got %v", err)
	}
	if res.Status != models.TurnResponded {
		t.Errorf("expected turn finalized, got %s", res.Status)
	}

	msg, err := f.store.Messages.Get(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.MetaString(models.MetaErrorKind) != domain.KindLLMFailure {
		t.Errorf("expected error_kind LLMFailure, got %q", msg.MetaString(models.MetaErrorKind))
	}
	if msg.Content == "" {
		t.Error("expected a user-facing error message")
	}
}

func TestReusedTurnResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Human↔human private dialogue: the pipeline records, never generates.
	d, _, err := f.core.CreateDialogue(ctx, &CreateRequest{
		DialogueType: models.DialogueHumanHumanPrivate,
		HumanID:      "h1",
		RelationID:   "h2",
	})
	if err != nil {
		t.Fatalf("create dialogue: %v", err)
	}

	res1, err := f.core.ProcessInput(ctx, humanText(d.ID, "Lunch tomorrow?"))
	if err != nil {
		t.Fatalf("first input: %v", err)
	}
	if res1.Status != StatusRecorded {
		t.Fatalf("expected recorded, got %s", res1.Status)
	}

	// The counterpart answers into the open turn.
	res2, err := f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		TurnID:      res1.TurnID,
		SenderRole:  models.RoleHuman,
		SenderID:    "h2",
		Content:     "Sure, noon works",
		ContentType: models.ContentText,
	})
	if err != nil {
		t.Fatalf("second input: %v", err)
	}
	if res2.Status != models.TurnResponded {
		t.Errorf("expected the reply to close the turn, got %s", res2.Status)
	}
	if res2.TurnID != res1.TurnID {
		t.Error("expected the reply to land in the same turn")
	}

	// A third message into the now-closed turn is rejected.
	_, err = f.core.ProcessInput(ctx, &parser.Envelope{
		DialogueID:  d.ID,
		TurnID:      res1.TurnID,
		SenderRole:  models.RoleHuman,
		SenderID:    "h1",
		Content:     "Great",
		ContentType: models.ContentText,
	})
	if domain.Kind(err) != domain.KindTurnClosed {
		t.Errorf("expected TurnClosed, got %v", err)
	}
}
