package postgres

import (
	"context"
	"fmt"
	"time"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
	"spectrum/internal/domain/repositories"
)

type dialogueRepo struct {
	cfg *RepositoryConfig
}

func (r *dialogueRepo) Create(ctx context.Context, d *models.Dialogue) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dialogue_type, human_id, ai_id, relation_id, title, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, last_activity_at, is_active
	`, r.cfg.Tables.Dialogues)

	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := r.cfg.Pool.QueryRow(ctx, query,
		d.DialogueType, d.HumanID, d.AIID, d.RelationID, d.Title, d.Description, meta,
	).Scan(&d.ID, &d.CreatedAt, &d.LastActivityAt, &d.IsActive)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "create dialogue", err)
	}
	return nil
}

const dialogueColumns = `id, dialogue_type, human_id, ai_id, relation_id, title, description, created_at, last_activity_at, is_active, metadata`

func scanDialogue(row interface{ Scan(...any) error }) (*models.Dialogue, error) {
	var d models.Dialogue
	err := row.Scan(
		&d.ID, &d.DialogueType, &d.HumanID, &d.AIID, &d.RelationID,
		&d.Title, &d.Description, &d.CreatedAt, &d.LastActivityAt,
		&d.IsActive, &d.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *dialogueRepo) Get(ctx context.Context, id string) (*models.Dialogue, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, dialogueColumns, r.cfg.Tables.Dialogues)

	d, err := scanDialogue(r.cfg.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, domain.NewError(domain.KindDialogueNotFound, "dialogue "+id+" not found")
		}
		return nil, domain.WrapError(domain.KindStorageFailure, "get dialogue", err)
	}
	return d, nil
}

func (r *dialogueRepo) Update(ctx context.Context, d *models.Dialogue) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $2, description = $3, is_active = $4, metadata = $5,
		    last_activity_at = GREATEST(last_activity_at, $6)
		WHERE id = $1
	`, r.cfg.Tables.Dialogues)

	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := r.cfg.Pool.Exec(ctx, query, d.ID, d.Title, d.Description, d.IsActive, meta, d.LastActivityAt)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "update dialogue", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindDialogueNotFound, "dialogue "+d.ID+" not found")
	}
	return nil
}

func (r *dialogueRepo) FindByParticipants(ctx context.Context, dialogueType, participantKey string) (*models.Dialogue, error) {
	// Metadata participants (ai_ai peers, group members) are part of the
	// identity, so candidates of the type are matched on the computed key.
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE dialogue_type = $1 AND is_active
	`, dialogueColumns, r.cfg.Tables.Dialogues)

	rows, err := r.cfg.Pool.Query(ctx, query, dialogueType)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "find dialogue", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan dialogue", err)
		}
		if d.ParticipantKey() == participantKey {
			return d, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "find dialogue", err)
	}
	return nil, domain.NewError(domain.KindNotFound, "no dialogue for participant tuple")
}

func (r *dialogueRepo) List(ctx context.Context, f *repositories.Filter) (*repositories.Page[models.Dialogue], error) {
	f = f.Normalized()

	w := &whereClause{}
	if f.DialogueType != "" {
		w.add("dialogue_type = $%d", f.DialogueType)
	}
	if f.ActiveOnly {
		w.conds = append(w.conds, "is_active")
	}
	if f.Query != "" {
		w.add("title ILIKE '%%' || $%d || '%%'", f.Query)
	}
	w.timeRange("created_at", f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s%s`, r.cfg.Tables.Dialogues, w.sql())
	if err := r.cfg.Pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "count dialogues", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY last_activity_at DESC%s`,
		dialogueColumns, r.cfg.Tables.Dialogues, w.sql(), w.limitOffset(f))

	rows, err := r.cfg.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "list dialogues", err)
	}
	defer rows.Close()

	var items []models.Dialogue
	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorageFailure, "scan dialogue", err)
		}
		items = append(items, *d)
	}
	return repositories.NewPage(items, total, f), nil
}

func (r *dialogueRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $1
	`, r.cfg.Tables.Dialogues)

	tag, err := r.cfg.Pool.Exec(ctx, query, id, at)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "touch dialogue", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindDialogueNotFound, "dialogue "+id+" not found")
	}
	return nil
}
