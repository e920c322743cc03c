package handler

import (
	"net/http"

	"spectrum/internal/httputil"
	"spectrum/internal/service/parser"
)

// Input accepts an inbound envelope and runs the pipeline.
func (h *Handler) Input(w http.ResponseWriter, r *http.Request) {
	var env parser.Envelope
	if err := httputil.ParseJSON(w, r, &env); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.core.ProcessInput(r.Context(), &env)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// Health reports liveness and the number of connected stream clients.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.hub.ConnectedCount(),
	})
}
