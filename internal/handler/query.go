package handler

import (
	"net/http"

	"spectrum/internal/httputil"
)

// QueryDialogues is the unified dialogue query endpoint.
func (h *Handler) QueryDialogues(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Dialogues.List(r.Context(), httputil.ParseFilter(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}

// QuerySessions is the unified session query endpoint.
func (h *Handler) QuerySessions(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Sessions.List(r.Context(), httputil.ParseFilter(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}

// QueryTurns is the unified turn query endpoint.
func (h *Handler) QueryTurns(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Turns.List(r.Context(), httputil.ParseFilter(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}

// QueryMessages is the unified message query endpoint.
func (h *Handler) QueryMessages(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Messages.List(r.Context(), httputil.ParseFilter(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}
