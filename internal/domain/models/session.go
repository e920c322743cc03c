package models

import (
	"time"
)

// Session types.
const (
	SessionDialogue       = "dialogue"
	SessionSelfReflection = "self_reflection"
)

// Session is a contiguous context segment inside a Dialogue, bounded by
// idle timeout or explicit creation. At most one Session per Dialogue is
// open (EndAt == nil) at a time.
type Session struct {
	ID          string         `json:"id" db:"id"`
	DialogueID  string         `json:"dialogue_id" db:"dialogue_id"`
	SessionType string         `json:"session_type" db:"session_type"`
	StartAt     time.Time      `json:"start_at" db:"start_at"`
	EndAt       *time.Time     `json:"end_at,omitempty" db:"end_at"`
	Description string         `json:"description,omitempty" db:"description"`
	CreatedBy   string         `json:"created_by" db:"created_by"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// Open reports whether the session is still accepting turns.
func (s *Session) Open() bool { return s.EndAt == nil }
