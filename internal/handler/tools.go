package handler

import (
	"net/http"

	"spectrum/internal/httputil"
	"spectrum/internal/service/tools"
)

// ListTools returns the tool catalog.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"items": h.registry.List(),
	})
}

// ToolCategories returns the distinct tool categories.
func (h *Handler) ToolCategories(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"categories": h.registry.Categories(),
	})
}

type invokeToolRequest struct {
	ToolID     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters"`
	DialogueID string         `json:"dialogue_id,omitempty"`
	TurnID     string         `json:"turn_id,omitempty"`
}

// InvokeTool runs a tool directly, outside the pipeline. The audit record is
// written either way.
func (h *Handler) InvokeTool(w http.ResponseWriter, r *http.Request) {
	var req invokeToolRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ToolID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tool_id is required")
		return
	}

	call, err := h.invoker.Invoke(r.Context(), &tools.Request{
		DialogueID: req.DialogueID,
		TurnID:     req.TurnID,
		ToolID:     req.ToolID,
		Parameters: req.Parameters,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, call)
}
