package models

import (
	"time"
)

// Turn statuses. A turn starts pending and transitions exactly once, either
// to responded (matching response inside the window) or to unresponded
// (window expired). Both terminal states are immutable.
const (
	TurnPending     = "pending"
	TurnResponded   = "responded"
	TurnUnresponded = "unresponded"
)

// Turn is a single initiator→responder interaction attempt with a bounded
// response window.
type Turn struct {
	ID            string         `json:"id" db:"id"`
	DialogueID    string         `json:"dialogue_id" db:"dialogue_id"`
	SessionID     string         `json:"session_id" db:"session_id"`
	InitiatorRole string         `json:"initiator_role" db:"initiator_role"`
	ResponderRole string         `json:"responder_role" db:"responder_role"`
	StartedAt     time.Time      `json:"started_at" db:"started_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
	Status        string         `json:"status" db:"status"`
	ResponseTime  *float64       `json:"response_time,omitempty" db:"response_time"` // seconds
	Metadata      map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// Deadline returns the instant after which a pending turn becomes unresponded.
func (t *Turn) Deadline(window time.Duration) time.Time {
	return t.StartedAt.Add(window)
}

// Terminal reports whether the turn reached an immutable state.
func (t *Turn) Terminal() bool {
	return t.Status == TurnResponded || t.Status == TurnUnresponded
}
