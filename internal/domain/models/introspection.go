package models

import (
	"time"
)

// Introspection step statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// IntrospectionStep is one tool-mediated step inside a self-reflection run.
type IntrospectionStep struct {
	Purpose        string         `json:"purpose"`
	ToolUsed       string         `json:"tool_used,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	ToolOutput     any            `json:"tool_output,omitempty"`
	MoodShift      string         `json:"mood_shift,omitempty"`
	GeneratedEntry string         `json:"generated_entry,omitempty"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// IntrospectionSession records a goal-driven self-reflection run inside an
// ai_self dialogue.
type IntrospectionSession struct {
	ID          string              `json:"id" db:"id"`
	DialogueID  string              `json:"dialogue_id" db:"dialogue_id"`
	SessionID   string              `json:"session_id" db:"session_id"`
	AIID        string              `json:"ai_id" db:"ai_id"`
	Goal        string              `json:"goal" db:"goal"`
	Steps       []IntrospectionStep `json:"steps" db:"steps"`
	Summary     string              `json:"summary,omitempty" db:"summary"`
	StartedAt   time.Time           `json:"started_at" db:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
	Metadata    map[string]any      `json:"metadata,omitempty" db:"metadata"`
}

// CollaborationSession records a multi-agent task with its participant list.
type CollaborationSession struct {
	ID           string         `json:"id" db:"id"`
	DialogueID   string         `json:"dialogue_id" db:"dialogue_id"`
	Task         string         `json:"task" db:"task"`
	Participants []string       `json:"participants" db:"participants"`
	Status       string         `json:"status" db:"status"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// CollaborationMessage is one contribution inside a collaboration session.
type CollaborationMessage struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Content       string    `json:"content" db:"content"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
