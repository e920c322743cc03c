package handler

import (
	"net/http"

	"spectrum/internal/httputil"
)

type notifyRequest struct {
	Participants []string `json:"participants"`
	Data         any      `json:"data"`
}

// notifyKind returns a handler publishing an event of the given kind to the
// listed participants' stream clients.
func (h *Handler) notifyKind(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notifyRequest
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Participants) == 0 {
			httputil.RespondError(w, http.StatusBadRequest, "participants is required")
			return
		}

		h.hub.Publish(req.Participants, kind, req.Data)
		httputil.RespondJSON(w, http.StatusAccepted, map[string]any{"delivered": true})
	}
}
