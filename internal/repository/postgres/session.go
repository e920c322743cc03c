package postgres

import (
	"context"
	"fmt"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type sessionRepo struct {
	cfg *RepositoryConfig
}

const sessionColumns = `id, dialogue_id, session_type, start_at, end_at, description, created_by, metadata`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.DialogueID, &s.SessionType, &s.StartAt, &s.EndAt,
		&s.Description, &s.CreatedBy, &s.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_id, session_type, description, created_by, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, start_at
	`, r.cfg.Tables.Sessions)

	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		s.DialogueID, s.SessionType, s.Description, s.CreatedBy, meta,
	).Scan(&s.ID, &s.StartAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create session", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sessionColumns, r.cfg.Tables.Sessions)

	s, err := scanSession(r.cfg.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "session "+id+" not found")
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get session", err)
	}
	return s, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *models.Session) error {
	query := fmt.Sprintf(`
		UPDATE %s SET end_at = $2, description = $3, metadata = $4 WHERE id = $1
	`, r.cfg.Tables.Sessions)

	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := r.cfg.Pool.Exec(ctx, query, s.ID, s.EndAt, s.Description, meta)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "update session", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "session "+s.ID+" not found")
	}
	return nil
}

func (r *sessionRepo) GetOpenByDialogue(ctx context.Context, dialogueID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE dialogue_id = $1 AND end_at IS NULL
		ORDER BY start_at DESC
		LIMIT 1
	`, sessionColumns, r.cfg.Tables.Sessions)

	s, err := scanSession(r.cfg.Pool.QueryRow(ctx, query, dialogueID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindNotFound, "no open session for dialogue "+dialogueID)
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get open session", err)
	}
	return s, nil
}

func (r *sessionRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.Session], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueID != "" {
		w.add("dialogue_id = $%d", f.DialogueID)
	}
	if f.ActiveOnly {
		w.conds = append(w.conds, "end_at IS NULL")
	}
	w.timeRange("start_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.Sessions, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count sessions", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY start_at DESC%s`,
		sessionColumns, r.cfg.Tables.Sessions, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list sessions", err)
	}
	defer rows.Close()

	var items []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan session", err)
		}
		items = append(items, *s)
	}
	return repositories.NewPage(items, total, f), nil
}
