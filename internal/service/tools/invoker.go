package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

// defaultTimeout applies to tools that declare none.
const defaultTimeout = 10 * time.Second

// Request identifies one tool invocation within a turn.
type Request struct {
	DialogueID string
	TurnID     string
	ToolID     string
	Parameters map[string]any
}

// Invoker dispatches validated tool calls and writes the audit record for
// each invocation. Concurrent identical calls on the same dialogue are
// collapsed into one execution.
type Invoker struct {
	registry *Registry
	calls    repositories.ToolCallRepository
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewInvoker creates an invoker over the given catalog.
func NewInvoker(registry *Registry, calls repositories.ToolCallRepository, logger *slog.Logger) *Invoker {
	return &Invoker{registry: registry, calls: calls, logger: logger, now: time.Now}
}

// Invoke resolves, validates and executes the requested tool. The returned
// ToolCall is recorded whether or not execution succeeded; the error carries
// the failure kind for the pipeline to recover from.
func (inv *Invoker) Invoke(ctx context.Context, req *Request) (*models.ToolCall, error) {
	tool, ok := inv.registry.Get(req.ToolID)
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "unknown tool "+req.ToolID)
	}
	if err := tool.ValidateParams(req.Parameters); err != nil {
		return nil, domain.WrapError(domain.KindInvalidParameters,
			"invalid parameters for tool "+req.ToolID, err)
	}

	key := req.DialogueID + "|" + req.ToolID + "|" + paramHash(req.Parameters)
	v, err, _ := inv.group.Do(key, func() (any, error) {
		return inv.execute(ctx, tool, req)
	})
	if v == nil {
		return nil, err
	}
	return v.(*models.ToolCall), err
}

func (inv *Invoker) execute(ctx context.Context, tool *Tool, req *Request) (*models.ToolCall, error) {
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := inv.now()
	result, execErr := tool.Execute(execCtx, req.Parameters)
	latency := inv.now().Sub(start).Milliseconds()

	call := &models.ToolCall{
		DialogueID: req.DialogueID,
		TurnID:     req.TurnID,
		ToolID:     req.ToolID,
		Parameters: req.Parameters,
		Success:    execErr == nil,
		Result:     result,
		LatencyMS:  latency,
	}

	var retErr error
	if execErr != nil {
		call.Error = execErr.Error()
		kind := domain.KindToolFailure
		if errors.Is(execErr, context.DeadlineExceeded) {
			kind = domain.KindToolTimeout
		}
		retErr = domain.WrapError(kind, "tool "+req.ToolID+" failed", execErr)
	}

	if err := inv.calls.Create(ctx, call); err != nil {
		inv.logger.Error("record tool call", "tool", req.ToolID, "error", err)
	}
	return call, retErr
}

// paramHash canonicalizes parameters for the dedup key. encoding/json sorts
// map keys, so equal parameter sets hash identically.
func paramHash(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
