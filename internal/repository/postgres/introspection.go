package postgres

import (
	"context"
	"fmt"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
)

type introspectionRepo struct {
	cfg *RepositoryConfig
}

const introspectionColumns = `id, dialogue_id, session_id, ai_id, goal, steps, summary, started_at, completed_at, metadata`

func scanIntrospection(row interface{ Scan(...any) error }) (*models.IntrospectionSession, error) {
	var s models.IntrospectionSession
	err := row.Scan(
		&s.ID, &s.DialogueID, &s.SessionID, &s.AIID, &s.Goal, &s.Steps,
		&s.Summary, &s.StartedAt, &s.CompletedAt, &s.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *introspectionRepo) Create(ctx context.Context, s *models.IntrospectionSession) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, session_id, ai_id, goal, steps, summary, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, started_at
	`, r.cfg.Tables.Introspection)

	steps := s.Steps
	if steps == nil {
		steps = []models.IntrospectionStep{}
	}
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		s.DialogueID, s.SessionID, s.AIID, s.Goal, steps, s.Summary, meta,
	).Scan(&s.ID, &s.StartedAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create introspection session", err)
	}
	return nil
}

func (r *introspectionRepo) Get(ctx context.Context, id string) (*models.IntrospectionSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, introspectionColumns, r.cfg.Tables.Introspection)

	s, err := scanIntrospection(r.cfg.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "introspection session "+id+" not found")
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get introspection session", err)
	}
	return s, nil
}

func (r *introspectionRepo) Update(ctx context.Context, s *models.IntrospectionSession) error {
	query := fmt.Sprintf(`
		UPDATE %s SET steps = $2, summary = $3, completed_at = $4, metadata = $5 WHERE id = $1
	`, r.cfg.Tables.Introspection)

	steps := s.Steps
	if steps == nil {
		steps = []models.IntrospectionStep{}
	}
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := r.cfg.Pool.Exec(ctx, query, s.ID, steps, s.Summary, s.CompletedAt, meta)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "update introspection session", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "introspection session "+s.ID+" not found")
	}
	return nil
}

func (r *introspectionRepo) ListByDialogue(ctx context.Context, dialogueID string) ([]models.IntrospectionSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE dialogue_id = $1 ORDER BY started_at ASC
	`, introspectionColumns, r.cfg.Tables.Introspection)

	rows, err := r.cfg.Pool.Query(ctx, query, dialogueID)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list introspection sessions", err)
	}
	defer rows.Close()

	var items []models.IntrospectionSession
	for rows.Next() {
		s, err := scanIntrospection(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan introspection session", err)
		}
		items = append(items, *s)
	}
	return items, nil
}
