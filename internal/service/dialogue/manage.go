package dialogue

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"spectrum/internal/domain"
	"spectrum/internal/domain/models"
)

// CreateRequest describes a dialogue to create. Which participant fields are
// required depends on the dialogue type.
type CreateRequest struct {
	DialogueType string         `json:"dialogue_type"`
	HumanID      string         `json:"human_id,omitempty"`
	AIID         string         `json:"ai_id,omitempty"`
	RelationID   string         `json:"relation_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the structural requirements common to all types.
func (r CreateRequest) Validate() error {
	types := make([]any, len(models.AllDialogueTypes))
	for i, t := range models.AllDialogueTypes {
		types[i] = t
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.DialogueType, validation.Required, validation.In(types...)),
	)
}

// validateParticipants enforces the per-type participant tuple.
func validateParticipants(r *CreateRequest) error {
	requires := func(ok bool, what string) error {
		if !ok {
			return domain.NewError(domain.KindInvalidInput,
				r.DialogueType+" dialogue requires "+what)
		}
		return nil
	}

	switch r.DialogueType {
	case models.DialogueHumanAI:
		if err := requires(r.HumanID != "" && r.AIID != "", "human_id and ai_id"); err != nil {
			return err
		}
	case models.DialogueAISelf:
		if err := requires(r.AIID != "", "ai_id"); err != nil {
			return err
		}
	case models.DialogueAIAI:
		peer, _ := metaString(r.Metadata, "peer_ai_id")
		if err := requires(r.AIID != "" && peer != "", "ai_id and metadata.peer_ai_id"); err != nil {
			return err
		}
	case models.DialogueHumanHumanPrivate:
		if err := requires(r.HumanID != "" && r.RelationID != "", "human_id and relation_id"); err != nil {
			return err
		}
	case models.DialogueHumanHumanGroup:
		if err := requires(len(memberList(r.Metadata)) >= 2, "metadata.members with at least two entries"); err != nil {
			return err
		}
	case models.DialogueHumanAIGroup:
		if err := requires(r.AIID != "" && len(memberList(r.Metadata)) >= 1,
			"ai_id and metadata.members"); err != nil {
			return err
		}
	case models.DialogueAIMultiHuman:
		if err := requires(r.AIID != "" && len(memberList(r.Metadata)) >= 2,
			"ai_id and metadata.members with at least two entries"); err != nil {
			return err
		}
	}
	return nil
}

func metaString(meta map[string]any, key string) (string, bool) {
	if meta == nil {
		return "", false
	}
	s, ok := meta[key].(string)
	return s, ok
}

func memberList(meta map[string]any) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta["members"].([]any)
	if !ok {
		return nil
	}
	members := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			members = append(members, s)
		}
	}
	return members
}

// CreateDialogue validates participants for the type and persists the
// dialogue. An existing active dialogue with the same participant tuple is
// returned instead of creating a duplicate; the second return value reports
// whether a new dialogue was created.
func (c *Core) CreateDialogue(ctx context.Context, req *CreateRequest) (*models.Dialogue, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, domain.WrapError(domain.KindInvalidInput, "invalid dialogue request", err)
	}
	if err := validateParticipants(req); err != nil {
		return nil, false, err
	}

	d := &models.Dialogue{
		DialogueType: req.DialogueType,
		HumanID:      optional(req.HumanID),
		AIID:         optional(req.AIID),
		RelationID:   optional(req.RelationID),
		Title:        req.Title,
		Description:  req.Description,
		Metadata:     req.Metadata,
	}

	existing, err := c.store.Dialogues.FindByParticipants(ctx, d.DialogueType, d.ParticipantKey())
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	if err := c.store.Dialogues.Create(ctx, d); err != nil {
		return nil, false, err
	}
	c.logEvent(ctx, d.ID, "", "dialogue_created", map[string]any{"dialogue_type": d.DialogueType})
	c.logger.Info("dialogue created", "dialogue_id", d.ID, "type", d.DialogueType)
	return d, true, nil
}

// CloseDialogue deactivates the dialogue and closes its open session and
// turn. Closing an already-closed dialogue is a no-op.
func (c *Core) CloseDialogue(ctx context.Context, id string) (*models.Dialogue, error) {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := c.store.Dialogues.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsActive {
		return d, nil
	}

	session, err := c.store.Sessions.GetOpenByDialogue(ctx, d.ID)
	if err == nil {
		if latest, err := c.store.Turns.LatestBySession(ctx, session.ID); err == nil && !latest.Terminal() {
			now := c.now().UTC()
			latest.Status = models.TurnUnresponded
			latest.ClosedAt = &now
			if latest.Metadata == nil {
				latest.Metadata = map[string]any{}
			}
			latest.Metadata["closed_by"] = "dialogue_close"
			if err := c.store.Turns.Update(ctx, latest); err != nil {
				return nil, err
			}
		}
		if err := c.sessions.Close(ctx, session, "dialogue closed"); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	d.IsActive = false
	if err := c.store.Dialogues.Update(ctx, d); err != nil {
		return nil, err
	}
	c.logEvent(ctx, d.ID, "", "dialogue_closed", nil)
	c.hub.DialogueUpdate(c.participants(d), d)
	c.logger.Info("dialogue closed", "dialogue_id", d.ID)
	return d, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
