package handler

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"spectrum/internal/httputil"
)

// clientFrame is a client→server WebSocket frame.
type clientFrame struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// WebSocket upgrades the connection and streams hub events to the client as
// {type, data, timestamp} frames until either side disconnects.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(client)
	h.logger.Info("websocket connected", "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames; any read error ends the connection.
	go func() {
		defer cancel()
		for {
			var frame clientFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			// Only ping is defined today; unknown actions are ignored.
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-client.Events:
			if !ok {
				// Hub dropped us (queue overflow).
				conn.Close(websocket.StatusPolicyViolation, "delivery queue overflow")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
