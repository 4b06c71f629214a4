package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed cross-origin by editor plugins and the companion
	// UI; auth is the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleNotificationsWS serves GET /ws/notifications. Auth required (token in
// query string for websocket clients). Unread notifications are replayed on
// connect, oldest first, then the connection receives live pushes and accepts
// {"ack": "<id>"} frames.
func (h *Handlers) HandleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if ctxutil.IsAnonymous(ctx) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
			"authentication required")
		return
	}
	userID := ctxutil.UserIDFromContext(ctx)

	replay, err := h.notify.Unread(ctx, userID, h.replayLimit)
	if err != nil {
		h.logger.Warn("server: unread replay lookup failed", "user", userID, "error", err)
		replay = nil
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Debug("server: websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(ctx, userID, ws, replay, h.notify)
}
