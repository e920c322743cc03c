package postgres

import (
	"context"
	"fmt"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type messageRepo struct {
	cfg *RepositoryConfig
}

const messageColumns = `id, dialogue_id, session_id, turn_id, sender_role, sender_id, content, content_type, created_at, seq, metadata`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID, &m.DialogueID, &m.SessionID, &m.TurnID, &m.SenderRole,
		&m.SenderID, &m.Content, &m.ContentType, &m.CreatedAt, &m.Seq, &m.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create stores the message; created_at and seq come back from the server so
// ordering never depends on caller clocks.
func (r *messageRepo) Create(ctx context.Context, m *models.Message) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, session_id, turn_id, sender_role, sender_id, content, content_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, seq
	`, r.cfg.Tables.Messages)

	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		m.DialogueID, m.SessionID, m.TurnID, m.SenderRole, m.SenderID,
		m.Content, m.ContentType, meta,
	).Scan(&m.ID, &m.CreatedAt, &m.Seq)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create message", err)
	}
	return nil
}

func (r *messageRepo) Get(ctx context.Context, id string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, r.cfg.Tables.Messages)

	m, err := scanMessage(r.cfg.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "message "+id+" not found")
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get message", err)
	}
	return m, nil
}

func (r *messageRepo) ListByTurn(ctx context.Context, turnID string) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE turn_id = $1 ORDER BY created_at ASC, seq ASC
	`, messageColumns, r.cfg.Tables.Messages)

	rows, err := r.cfg.Pool.Query(ctx, query, turnID)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list turn messages", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *messageRepo) ListBySessionDesc(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE session_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2
	`, messageColumns, r.cfg.Tables.Messages)

	rows, err := r.cfg.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list session messages", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *messageRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.Message], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueID != "" {
		w.add("dialogue_id = $%d", f.DialogueID)
	}
	if f.SessionID != "" {
		w.add("session_id = $%d", f.SessionID)
	}
	if f.TurnID != "" {
		w.add("turn_id = $%d", f.TurnID)
	}
	if f.SenderRole != "" {
		w.add("sender_role = $%d", f.SenderRole)
	}
	if f.ContentType != "" {
		w.add("content_type = $%d", f.ContentType)
	}
	if f.Query != "" {
		w.add("content ILIKE '%%' || $%d || '%%'", f.Query)
	}
	w.timeRange("created_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.Messages, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count messages", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at ASC, seq ASC%s`,
		messageColumns, r.cfg.Tables.Messages, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list messages", err)
	}
	defer rows.Close()

	items, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return repositories.NewPage(items, total, f), nil
}

func collectMessages(rows interface {
	Next() bool
	Scan(...any) error
}) ([]models.Message, error) {
	var items []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan message", err)
		}
		items = append(items, *m)
	}
	return items, nil
}
