package models

import (
	"time"
)

// Message content types.
const (
	ContentText          = "text"
	ContentImage         = "image"
	ContentAudio         = "audio"
	ContentToolInput     = "tool_input"
	ContentToolOutput    = "tool_output"
	ContentSystemContext = "system_context"
	ContentPrompt        = "prompt"
	ContentMarkdown      = "markdown"
	ContentQuoteReply    = "quote_reply"
	ContentCommand       = "command"
)

// Well-known metadata keys.
const (
	MetaCaption       = "caption"
	MetaTranscription = "transcription"
	MetaReplyTo       = "reply_to"
	MetaToolUsed      = "tool_used"
	MetaEmotion       = "emotion"
	MetaErrorKind     = "error_kind"
	MetaPartial       = "partial"
)

// Message is the atomic information unit. Ordering within a Turn is by
// CreatedAt with Seq (assigned by the repository at write time) as the
// monotonic tiebreak.
type Message struct {
	ID          string         `json:"id" db:"id"`
	DialogueID  string         `json:"dialogue_id" db:"dialogue_id"`
	SessionID   string         `json:"session_id" db:"session_id"`
	TurnID      string         `json:"turn_id" db:"turn_id"`
	SenderRole  string         `json:"sender_role" db:"sender_role"`
	SenderID    string         `json:"sender_id,omitempty" db:"sender_id"`
	Content     string         `json:"content" db:"content"`
	ContentType string         `json:"content_type" db:"content_type"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	Seq         int64          `json:"seq" db:"seq"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// MetaString reads a string metadata field, "" when absent.
func (m *Message) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if s, ok := m.Metadata[key].(string); ok {
		return s
	}
	return ""
}
