package contextbuilder

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"spectrum/internal/config"
	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/repository/memory"
	"spectrum/internal/service/llm"
)

func seed(t *testing.T, store interface {
	Create(ctx context.Context, m *models.Message) error
}, sessionID, role, content, contentType string, meta map[string]any) {
	t.Helper()
	m := &models.Message{
		DialogueID: "d1", SessionID: sessionID, TurnID: "t1",
		SenderRole: role, Content: content, ContentType: contentType, Metadata: meta,
	}
	if err := store.Create(context.Background(), m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func TestBuildOrdersOldestFirstWithPersonaHeader(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(store.Messages, config.DefaultPersona(), 4000, logger)
	ctx := context.Background()

	seed(t, store.Messages, "s1", models.RoleHuman, "first", models.ContentText, nil)
	seed(t, store.Messages, "s1", models.RoleAI, "second", models.ContentText, nil)
	seed(t, store.Messages, "s1", models.RoleHuman, "third", models.ContentText, nil)

	segments, err := b.Build(ctx, "s1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(segments) != 4 {
		t.Fatalf("expected persona + 3 messages, got %d segments", len(segments))
	}
	if segments[0].Role != llm.RoleSystem || !strings.Contains(segments[0].Content, "You are") {
		t.Errorf("expected persona header, got %+v", segments[0])
	}
	wantContents := []string{"first", "second", "third"}
	wantRoles := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	for i, want := range wantContents {
		if segments[i+1].Content != want {
			t.Errorf("segment %d: expected %q, got %q", i+1, want, segments[i+1].Content)
		}
		if segments[i+1].Role != wantRoles[i] {
			t.Errorf("segment %d: expected role %s, got %s", i+1, wantRoles[i], segments[i+1].Role)
		}
	}
}

func TestBuildDropsOldestWhenOverBudget(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Budget fits two of the three 40-char messages.
	b := New(store.Messages, config.DefaultPersona(), 100, logger)
	ctx := context.Background()

	old := strings.Repeat("a", 40)
	mid := strings.Repeat("b", 40)
	newest := strings.Repeat("c", 40)
	seed(t, store.Messages, "s1", models.RoleHuman, old, models.ContentText, nil)
	seed(t, store.Messages, "s1", models.RoleAI, mid, models.ContentText, nil)
	seed(t, store.Messages, "s1", models.RoleHuman, newest, models.ContentText, nil)

	segments, err := b.Build(ctx, "s1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(segments) != 3 { // persona + 2 newest
		t.Fatalf("expected the oldest message dropped, got %d segments", len(segments))
	}
	if segments[1].Content != mid || segments[2].Content != newest {
		t.Errorf("expected the two newest kept in order, got %q, %q",
			segments[1].Content, segments[2].Content)
	}
}

func TestBuildNewestMessageMustFit(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(store.Messages, config.DefaultPersona(), 50, logger)
	ctx := context.Background()

	seed(t, store.Messages, "s1", models.RoleHuman, strings.Repeat("x", 200), models.ContentText, nil)

	_, err := b.Build(ctx, "s1")
	if domain.Kind(err) != domain.KindContextOverflow {
		t.Errorf("expected ContextOverflow, got %v", err)
	}
}

func TestBuildProjections(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(store.Messages, config.DefaultPersona(), 4000, logger)
	ctx := context.Background()

	seed(t, store.Messages, "s1", models.RoleHuman, "", models.ContentImage,
		map[string]any{models.MetaCaption: "a red kite"})
	seed(t, store.Messages, "s1", models.RoleSystem, "clear skies, 22°C", models.ContentToolOutput,
		map[string]any{models.MetaToolUsed: "weather"})
	seed(t, store.Messages, "s1", models.RoleHuman, "hidden steering", models.ContentPrompt, nil)
	seed(t, store.Messages, "s1", models.RoleHuman, "   ", models.ContentText, nil) // blank, skipped

	segments, err := b.Build(ctx, "s1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(segments) != 4 { // persona + image + tool + prompt
		t.Fatalf("expected 4 segments, got %d", len(segments))
	}
	if segments[1].Content != "a red kite" {
		t.Errorf("expected image caption, got %q", segments[1].Content)
	}
	if segments[2].Content != "[tool:weather] clear skies, 22°C" || segments[2].Role != llm.RoleUser {
		t.Errorf("unexpected tool projection: %+v", segments[2])
	}
	if segments[3].Role != llm.RoleSystem {
		t.Errorf("expected prompt projected as system, got %s", segments[3].Role)
	}
}

func TestBuildQuoteReplyCarriesQuotedLine(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(store.Messages, config.DefaultPersona(), 4000, logger)
	ctx := context.Background()

	original := &models.Message{
		DialogueID: "d1", SessionID: "s1", TurnID: "t1",
		SenderRole: models.RoleHuman, Content: "original remark", ContentType: models.ContentText,
	}
	if err := store.Messages.Create(ctx, original); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	seed(t, store.Messages, "s1", models.RoleHuman, "replying to that", models.ContentQuoteReply,
		map[string]any{models.MetaReplyTo: original.ID})

	segments, err := b.Build(ctx, "s1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(segments) != 3 { // persona + original + reply
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	want := "> original remark\nreplying to that"
	if segments[2].Content != want {
		t.Errorf("expected %q, got %q", want, segments[2].Content)
	}

	// A dangling reference degrades to the bare reply.
	seed(t, store.Messages, "s2", models.RoleHuman, "orphan reply", models.ContentQuoteReply,
		map[string]any{models.MetaReplyTo: "no-such-message"})
	segments, err = b.Build(ctx, "s2")
	if err != nil {
		t.Fatalf("build s2: %v", err)
	}
	if segments[1].Content != "orphan reply" {
		t.Errorf("expected the bare reply kept, got %q", segments[1].Content)
	}
}

func TestBuildEmptySession(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(store.Messages, config.DefaultPersona(), 4000, logger)

	segments, err := b.Build(context.Background(), "empty")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(segments) != 1 {
		t.Errorf("expected only the persona header, got %d segments", len(segments))
	}
}
