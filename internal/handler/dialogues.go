package handler

import (
	"net/http"

	"spectrum/internal/httputil"
	"spectrum/internal/service/dialogue"
)

// CreateDialogue creates a dialogue of the type named in the body. An
// existing dialogue for the same participant tuple is returned with 200
// instead of creating a duplicate.
func (h *Handler) CreateDialogue(w http.ResponseWriter, r *http.Request) {
	var req dialogue.CreateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.create(w, r, &req)
}

// createTyped returns a creator handler with the dialogue type fixed by the
// route.
func (h *Handler) createTyped(dialogueType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dialogue.CreateRequest
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.DialogueType = dialogueType
		h.create(w, r, &req)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, req *dialogue.CreateRequest) {
	d, created, err := h.core.CreateDialogue(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.RespondJSON(w, status, d)
}

// CreateAISelf creates an ai_self dialogue. When the request carries an
// introspection goal in metadata, a reflection run starts immediately and
// its record is returned alongside the dialogue.
func (h *Handler) CreateAISelf(w http.ResponseWriter, r *http.Request) {
	var req dialogue.CreateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.DialogueType = "ai_self"

	d, created, err := h.core.CreateDialogue(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	goal, _ := d.Metadata["goal"].(string)
	if goal == "" {
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		httputil.RespondJSON(w, status, d)
		return
	}

	run, err := h.engine.Run(r.Context(), d.ID, goal)
	if err != nil {
		handleError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.RespondJSON(w, status, map[string]any{
		"dialogue":      d,
		"introspection": run,
	})
}

// ListDialogues lists dialogues with the unified filter.
func (h *Handler) ListDialogues(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Dialogues.List(r.Context(), httputil.ParseFilter(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}

// GetDialogue fetches one dialogue by id.
func (h *Handler) GetDialogue(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Dialogues.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, d)
}

// CloseDialogue deactivates a dialogue; closing twice is a no-op.
func (h *Handler) CloseDialogue(w http.ResponseWriter, r *http.Request) {
	d, err := h.core.CloseDialogue(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, d)
}

type introspectRequest struct {
	Goal string `json:"goal"`
}

// RunIntrospection starts a reflection run on an ai_self dialogue.
func (h *Handler) RunIntrospection(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.engine.Run(r.Context(), r.PathValue("id"), req.Goal)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, run)
}

// ListIntrospections returns every reflection run of the dialogue.
func (h *Handler) ListIntrospections(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Introspection.ListByDialogue(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"items": runs})
}
