package postgres

import (
	"context"
	"fmt"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type toolCallRepo struct {
	cfg *RepositoryConfig
}

func (r *toolCallRepo) Create(ctx context.Context, tc *models.ToolCall) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, turn_id, tool_id, parameters, success, result, error, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, r.cfg.Tables.ToolCalls)

	params := tc.Parameters
	if params == nil {
		params = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		tc.DialogueID, tc.TurnID, tc.ToolID, params, tc.Success, tc.Result, tc.Error, tc.LatencyMS,
	).Scan(&tc.ID, &tc.CreatedAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create tool call", err)
	}
	return nil
}

func (r *toolCallRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.ToolCall], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueID != "" {
		w.add("dialogue_id = $%d", f.DialogueID)
	}
	if f.TurnID != "" {
		w.add("turn_id = $%d", f.TurnID)
	}
	if f.Query != "" {
		w.add("tool_id = $%d", f.Query)
	}
	w.timeRange("created_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.ToolCalls, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count tool calls", err)
	}

	query := fmt.Sprintf(`
		SELECT id, dialogue_id, turn_id, tool_id, parameters, success, result, error, latency_ms, created_at
		FROM %s%s ORDER BY created_at DESC%s
	`, r.cfg.Tables.ToolCalls, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list tool calls", err)
	}
	defer rows.Close()

	var items []models.ToolCall
	for rows.Next() {
		var tc models.ToolCall
		err := rows.Scan(&tc.ID, &tc.DialogueID, &tc.TurnID, &tc.ToolID, &tc.Parameters,
			&tc.Success, &tc.Result, &tc.Error, &tc.LatencyMS, &tc.CreatedAt)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan tool call", err)
		}
		items = append(items, tc)
	}
	return repositories.NewPage(items, total, f), nil
}

type eventLogRepo struct {
	cfg *RepositoryConfig
}

func (r *eventLogRepo) Append(ctx context.Context, e *models.EventLog) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, turn_id, event, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, r.cfg.Tables.EventLog)

	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query, e.DialogueID, e.TurnID, e.Event, detail).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "append event", err)
	}
	return nil
}

func (r *eventLogRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.EventLog], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueID != "" {
		w.add("dialogue_id = $%d", f.DialogueID)
	}
	if f.TurnID != "" {
		w.add("turn_id = $%d", f.TurnID)
	}
	if f.Query != "" {
		w.add("event = $%d", f.Query)
	}
	w.timeRange("created_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.EventLog, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count events", err)
	}

	query := fmt.Sprintf(`
		SELECT id, dialogue_id, turn_id, event, detail, created_at
		FROM %s%s ORDER BY created_at ASC%s
	`, r.cfg.Tables.EventLog, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list events", err)
	}
	defer rows.Close()

	var items []models.EventLog
	for rows.Next() {
		var e models.EventLog
		if err := rows.Scan(&e.ID, &e.DialogueID, &e.TurnID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan event", err)
		}
		items = append(items, e)
	}
	return repositories.NewPage(items, total, f), nil
}
