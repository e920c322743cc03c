package domain

import (
	"errors"
	"net/http"
)

// Error kinds surfaced to clients and recorded in the event log.
const (
	KindInvalidInput        = "InvalidInput"
	KindInvalidReference    = "InvalidReference"
	KindUnsupportedModality = "UnsupportedModality"
	KindDialogueNotFound    = "DialogueNotFound"
	KindDialogueClosed      = "DialogueClosed"
	KindTurnClosed          = "TurnClosed"
	KindInvalidParameters   = "InvalidParameters"
	KindToolTimeout         = "ToolTimeout"
	KindToolFailure         = "ToolFailure"
	KindLLMTimeout          = "LLMTimeout"
	KindLLMFailure          = "LLMFailure"
	KindContextOverflow     = "ContextOverflow"
	KindStorageFailure      = "StorageFailure"
	KindNotFound            = "NotFound"
	KindUnauthorized        = "Unauthorized"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Error is the domain error carrying a kind string and an optional cause.
type Error struct {
	Kind    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode implements the HTTPError interface.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidInput, KindInvalidReference, KindUnsupportedModality,
		KindInvalidParameters, KindContextOverflow:
		return http.StatusBadRequest
	case KindDialogueNotFound, KindNotFound:
		return http.StatusNotFound
	case KindDialogueClosed, KindTurnClosed:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindToolTimeout, KindLLMTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Is allows errors.Is matching against the kind sentinels below.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound || e.Kind == KindDialogueNotFound
	case ErrValidation:
		return e.StatusCode() == http.StatusBadRequest
	case ErrClosed:
		return e.Kind == KindDialogueClosed || e.Kind == KindTurnClosed
	}
	return false
}

// NewError creates a domain error of the given kind.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a domain error of the given kind wrapping a cause.
func WrapError(kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Kind extracts the kind string from an error chain, or "" if none.
func Kind(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrClosed     = errors.New("already closed")
)
