package postgres

import (
	"context"
	"fmt"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type turnRepo struct {
	cfg *RepositoryConfig
}

const turnColumns = `id, dialogue_id, session_id, initiator_role, responder_role, started_at, closed_at, status, response_time, metadata`

func scanTurn(row interface{ Scan(...any) error }) (*models.Turn, error) {
	var t models.Turn
	err := row.Scan(
		&t.ID, &t.DialogueID, &t.SessionID, &t.InitiatorRole, &t.ResponderRole,
		&t.StartedAt, &t.ClosedAt, &t.Status, &t.ResponseTime, &t.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *turnRepo) Create(ctx context.Context, t *models.Turn) error {
	if t.Status == "" {
		t.Status = models.TurnPending
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, session_id, initiator_role, responder_role, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started_at
	`, r.cfg.Tables.Turns)

	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		t.DialogueID, t.SessionID, t.InitiatorRole, t.ResponderRole, t.Status, meta,
	).Scan(&t.ID, &t.StartedAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create turn", err)
	}
	return nil
}

func (r *turnRepo) Get(ctx context.Context, id string) (*models.Turn, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, turnColumns, r.cfg.Tables.Turns)

	t, err := scanTurn(r.cfg.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "turn "+id+" not found")
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get turn", err)
	}
	return t, nil
}

// Update refuses to move a turn out of a terminal status. The WHERE guard
// makes the transition atomic under concurrent sweeps.
func (r *turnRepo) Update(ctx context.Context, t *models.Turn) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET closed_at = $2, status = $3, response_time = $4, metadata = $5
		WHERE id = $1 AND (status = $6 OR status = $3)
	`, r.cfg.Tables.Turns)

	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := r.cfg.Pool.Exec(ctx, query,
		t.ID, t.ClosedAt, t.Status, t.ResponseTime, meta, models.TurnPending)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "update turn", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, t.ID); getErr != nil {
			return getErr
		}
		return domain.NewError(domain.KindTurnClosed, "turn "+t.ID+" already closed")
	}
	return nil
}

func (r *turnRepo) LatestBySession(ctx context.Context, sessionID string) (*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE session_id = $1 ORDER BY started_at DESC LIMIT 1
	`, turnColumns, r.cfg.Tables.Turns)

	t, err := scanTurn(r.cfg.Pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "no turns in session "+sessionID)
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "latest turn", err)
	}
	return t, nil
}

func (r *turnRepo) ListPending(ctx context.Context) ([]models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = $1 ORDER BY started_at ASC
	`, turnColumns, r.cfg.Tables.Turns)

	rows, err := r.cfg.Pool.Query(ctx, query, models.TurnPending)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list pending turns", err)
	}
	defer rows.Close()

	var items []models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan turn", err)
		}
		items = append(items, *t)
	}
	return items, nil
}

func (r *turnRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.Turn], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueID != "" {
		w.add("dialogue_id = $%d", f.DialogueID)
	}
	if f.SessionID != "" {
		w.add("session_id = $%d", f.SessionID)
	}
	if f.InitiatorRole != "" {
		w.add("initiator_role = $%d", f.InitiatorRole)
	}
	if f.ResponderRole != "" {
		w.add("responder_role = $%d", f.ResponderRole)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	w.timeRange("started_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.Turns, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count turns", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY started_at DESC%s`,
		turnColumns, r.cfg.Tables.Turns, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list turns", err)
	}
	defer rows.Close()

	var items []models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan turn", err)
		}
		items = append(items, *t)
	}
	return repositories.NewPage(items, total, f), nil
}
