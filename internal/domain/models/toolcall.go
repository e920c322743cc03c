package models

import (
	"time"
)

// ToolCall is the per-invocation audit record written by the tool invoker.
type ToolCall struct {
	ID         string         `json:"id" db:"id"`
	DialogueID string         `json:"dialogue_id,omitempty" db:"dialogue_id"`
	TurnID     string         `json:"turn_id,omitempty" db:"turn_id"`
	ToolID     string         `json:"tool_id" db:"tool_id"`
	Parameters map[string]any `json:"parameters,omitempty" db:"parameters"`
	Success    bool           `json:"success" db:"success"`
	Result     any            `json:"result,omitempty" db:"result"`
	Error      string         `json:"error,omitempty" db:"error"`
	LatencyMS  int64          `json:"latency_ms" db:"latency_ms"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// EventLog is an append-only pipeline trace record.
type EventLog struct {
	ID         string         `json:"id" db:"id"`
	DialogueID string         `json:"dialogue_id,omitempty" db:"dialogue_id"`
	TurnID     string         `json:"turn_id,omitempty" db:"turn_id"`
	Event      string         `json:"event" db:"event"`
	Detail     map[string]any `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
