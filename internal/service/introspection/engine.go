// Package introspection drives the multi-step self-reflection sub-pipeline
// inside ai_self dialogues. Steps run sequentially; a failed step is
// recorded and the run continues with the next one.
package introspection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/service/dialogue"
	"spectrum/internal/service/llm"
	"spectrum/internal/service/tools"
)

// stepPlan is one planned reflection step. Every step runs through a tool so
// the transcript records concrete inputs and outputs.
type stepPlan struct {
	purpose   string
	toolID    string
	params    func(goal string) map[string]any
	moodShift string
}

func searchStep(purpose, queryPrefix, moodShift string) stepPlan {
	return stepPlan{
		purpose: purpose,
		toolID:  "search",
		params: func(goal string) map[string]any {
			return map[string]any{"query": queryPrefix + " " + goal}
		},
		moodShift: moodShift,
	}
}

var defaultPlan = []stepPlan{
	searchStep("recall recent experiences", "recent experiences for", "curious"),
	searchStep("analyze recurring patterns", "patterns and themes in", "thoughtful"),
	searchStep("derive an insight", "lessons learned from", "settled"),
	searchStep("plan the next period", "next steps after", "motivated"),
}

var goalPlans = map[string][]stepPlan{
	"performance_review": {
		searchStep("collect completed work", "completed work during", "focused"),
		searchStep("measure outcomes", "outcomes and metrics of", "analytical"),
		searchStep("identify growth areas", "improvement opportunities in", "thoughtful"),
		searchStep("set goals", "goals following", "motivated"),
	},
	"error_analysis": {
		searchStep("collect recent errors", "recent mistakes during", "concerned"),
		searchStep("find root causes", "root causes behind", "analytical"),
		searchStep("plan corrections", "corrective actions for", "resolved"),
	},
}

// planFor selects the step set for the goal, falling back to the generic
// reflection plan.
func planFor(goal string) []stepPlan {
	if plan, ok := goalPlans[goal]; ok {
		return plan
	}
	return defaultPlan
}

// Engine runs goal-driven reflection sessions.
type Engine struct {
	store    *repositories.Store
	sessions *dialogue.SessionManager
	turns    *dialogue.TurnManager
	invoker  *tools.Invoker
	provider llm.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an introspection engine.
func New(store *repositories.Store, sessions *dialogue.SessionManager, turns *dialogue.TurnManager, invoker *tools.Invoker, provider llm.Provider, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		sessions: sessions,
		turns:    turns,
		invoker:  invoker,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes a full reflection for the given goal inside an ai_self
// dialogue: one self_reflection session, one tool-mediated step per plan
// entry, and a final summary turn.
func (e *Engine) Run(ctx context.Context, dialogueID, goal string) (*models.IntrospectionSession, error) {
	d, err := e.store.Dialogues.Get(ctx, dialogueID)
	if err != nil {
		return nil, err
	}
	if d.DialogueType != models.DialogueAISelf {
		return nil, domain.NewError(domain.KindInvalidInput,
			"introspection requires an ai_self dialogue")
	}
	if !d.IsActive {
		return nil, domain.NewError(domain.KindDialogueClosed, "dialogue "+d.ID+" is closed")
	}
	if goal == "" {
		goal = "general_reflection"
	}

	session, err := e.sessions.EnsureActiveSession(ctx, d, models.SessionSelfReflection)
	if err != nil {
		return nil, err
	}

	run := &models.IntrospectionSession{
		DialogueID: d.ID,
		SessionID:  session.ID,
		Goal:       goal,
	}
	if d.AIID != nil {
		run.AIID = *d.AIID
	}
	if err := e.store.Introspection.Create(ctx, run); err != nil {
		return nil, err
	}
	e.logger.Info("introspection started", "dialogue_id", d.ID, "goal", goal)

	for _, plan := range planFor(goal) {
		step := e.runStep(ctx, d, run, plan)
		run.Steps = append(run.Steps, step)
		if err := e.store.Introspection.Update(ctx, run); err != nil {
			return nil, err
		}
	}

	summary := e.summarize(ctx, run)
	run.Summary = summary
	done := e.now().UTC()
	run.CompletedAt = &done
	if err := e.store.Introspection.Update(ctx, run); err != nil {
		return nil, err
	}

	if err := e.commitSummaryTurn(ctx, d, session, summary); err != nil {
		return nil, err
	}
	e.logger.Info("introspection completed", "dialogue_id", d.ID, "steps", len(run.Steps))
	return run, nil
}

func (e *Engine) runStep(ctx context.Context, d *models.Dialogue, run *models.IntrospectionSession, plan stepPlan) models.IntrospectionStep {
	step := models.IntrospectionStep{
		Purpose:   plan.purpose,
		ToolUsed:  plan.toolID,
		ToolInput: plan.params(run.Goal),
		MoodShift: plan.moodShift,
		Timestamp: e.now().UTC(),
	}

	call, err := e.invoker.Invoke(ctx, &tools.Request{
		DialogueID: d.ID,
		ToolID:     plan.toolID,
		Parameters: step.ToolInput,
	})
	if err != nil {
		step.Status = models.StepFailed
		step.Error = err.Error()
		e.logger.Warn("introspection step failed", "purpose", plan.purpose, "error", err)
		return step
	}

	step.ToolOutput = call.Result
	step.GeneratedEntry = fmt.Sprintf("While trying to %s, I found: %s",
		plan.purpose, resultSummary(call.Result))
	step.Status = models.StepCompleted
	return step
}

// summarize asks the model to aggregate the completed steps, falling back to
// a deterministic digest when the model is unavailable.
func (e *Engine) summarize(ctx context.Context, run *models.IntrospectionSession) string {
	prompt := "Summarize this self-reflection on the goal " + run.Goal + ":"
	completed := 0
	for _, step := range run.Steps {
		if step.Status != models.StepCompleted {
			continue
		}
		completed++
		prompt += "\n- " + step.GeneratedEntry
	}

	res, err := e.provider.Complete(ctx, []llm.Segment{
		{Role: llm.RoleSystem, Content: "You are reviewing your own recent reflections."},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{})
	if err == nil && res.ToolRequest == nil && res.Text != "" {
		return res.Text
	}
	if err != nil {
		e.logger.Warn("introspection summary fallback", "error", err)
	}
	return fmt.Sprintf("Reflection on %q: %d of %d steps completed.",
		run.Goal, completed, len(run.Steps))
}

// commitSummaryTurn records the reflection summary as a self-addressed
// responded turn in the reflection session.
func (e *Engine) commitSummaryTurn(ctx context.Context, d *models.Dialogue, session *models.Session, summary string) error {
	turn, err := e.turns.OpenTurn(ctx, d, session.ID, models.RoleAI, models.RoleAI, false)
	if err != nil {
		return err
	}

	msg := &models.Message{
		DialogueID:  d.ID,
		SessionID:   session.ID,
		TurnID:      turn.ID,
		SenderRole:  models.RoleAI,
		Content:     summary,
		ContentType: models.ContentText,
		Metadata:    map[string]any{"introspection_summary": true},
	}
	if d.AIID != nil {
		msg.SenderID = *d.AIID
	}
	if err := e.store.Messages.Create(ctx, msg); err != nil {
		return err
	}
	return e.turns.AttachResponse(ctx, d, turn, msg)
}

func resultSummary(result any) string {
	if m, ok := result.(map[string]any); ok {
		if s, ok := m["summary"].(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("%v", result)
}
