package models

import (
	"sort"
	"strings"
	"time"
)

// Dialogue types - the seven supported participant topologies.
const (
	DialogueHumanAI           = "human_ai"
	DialogueAISelf            = "ai_self"
	DialogueAIAI              = "ai_ai"
	DialogueHumanHumanPrivate = "human_human_private"
	DialogueHumanHumanGroup   = "human_human_group"
	DialogueHumanAIGroup      = "human_ai_group"
	DialogueAIMultiHuman      = "ai_multi_human"
)

// AllDialogueTypes lists every supported dialogue type.
var AllDialogueTypes = []string{
	DialogueHumanAI,
	DialogueAISelf,
	DialogueAIAI,
	DialogueHumanHumanPrivate,
	DialogueHumanHumanGroup,
	DialogueHumanAIGroup,
	DialogueAIMultiHuman,
}

// GroupDialogueTypes lists the broadcast (no implicit responder) types.
var GroupDialogueTypes = []string{
	DialogueHumanHumanGroup,
	DialogueHumanAIGroup,
	DialogueAIMultiHuman,
}

// Sender / participant roles.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Dialogue is the unique persistent container for an interaction line
// between a fixed set of participants.
type Dialogue struct {
	ID             string         `json:"id" db:"id"`
	DialogueType   string         `json:"dialogue_type" db:"dialogue_type"`
	HumanID        *string        `json:"human_id,omitempty" db:"human_id"`
	AIID           *string        `json:"ai_id,omitempty" db:"ai_id"`
	RelationID     *string        `json:"relation_id,omitempty" db:"relation_id"`
	Title          string         `json:"title,omitempty" db:"title"`
	Description    string         `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at" db:"last_activity_at"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// IsGroup reports whether the dialogue has no implicit responder.
func (d *Dialogue) IsGroup() bool {
	for _, t := range GroupDialogueTypes {
		if d.DialogueType == t {
			return true
		}
	}
	return false
}

// MetadataDuration reads an hour-count override from metadata
// (e.g. "response_window_hours"). Returns fallback when absent or invalid.
func (d *Dialogue) MetadataDuration(key string, fallback time.Duration) time.Duration {
	if d.Metadata == nil {
		return fallback
	}
	switch v := d.Metadata[key].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Hour))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Hour
		}
	}
	return fallback
}

// ParticipantKey returns the normalized participant identity of the
// dialogue: the column participants plus the type-specific metadata ones
// (the ai_ai peer, group member lists, order-insensitive). Two active
// dialogues of the same type with equal keys are the same conversation.
func (d *Dialogue) ParticipantKey() string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	parts := []string{deref(d.HumanID), deref(d.AIID), deref(d.RelationID)}
	if d.Metadata != nil {
		if peer, ok := d.Metadata["peer_ai_id"].(string); ok {
			parts = append(parts, peer)
		}
	}
	if members := d.GroupMembers(); len(members) > 0 {
		sorted := make([]string, len(members))
		copy(sorted, members)
		sort.Strings(sorted)
		parts = append(parts, sorted...)
	}
	return strings.Join(parts, "|")
}

// GroupMembers returns the member id list stored in metadata for group types.
func (d *Dialogue) GroupMembers() []string {
	if d.Metadata == nil {
		return nil
	}
	raw, ok := d.Metadata["members"].([]any)
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
