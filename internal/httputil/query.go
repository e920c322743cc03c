package httputil

import (
	"net/http"
	"strconv"
	"time"

	"spectrum/internal/domain/repositories"
)

// ParseFilter reads the unified query filter from request query parameters.
// Unknown or malformed values fall back to their zero values; pagination is
// clamped by Filter.Normalize downstream.
func ParseFilter(r *http.Request) *repositories.Filter {
	q := r.URL.Query()
	f := &repositories.Filter{
		DialogueID:    q.Get("dialogue_id"),
		SessionID:     q.Get("session_id"),
		TurnID:        q.Get("turn_id"),
		DialogueType:  q.Get("dialogue_type"),
		SenderRole:    q.Get("sender_role"),
		InitiatorRole: q.Get("initiator_role"),
		ResponderRole: q.Get("responder_role"),
		Status:        q.Get("status"),
		ContentType:   q.Get("content_type"),
		ActiveOnly:    q.Get("active") == "true",
		Query:         q.Get("query"),
	}

	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.PageSize = n
		}
	}
	if t, ok := parseTime(q.Get("since")); ok {
		f.Since = &t
	}
	if t, ok := parseTime(q.Get("until")); ok {
		f.Until = &t
	}
	return f
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
