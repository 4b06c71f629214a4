package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// HandleListNotifications serves GET /api/notifications.
func (h *Handlers) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(r, "offset", 0)

	list, err := h.notify.List(r.Context(), ctxutil.UserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeList(w, r, list, nil, limit, offset, len(list) == limit)
}

// HandleMarkNotificationRead serves POST /api/notifications/{id}/read.
func (h *Handlers) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notification id")
		return
	}
	if err := h.notify.MarkRead(r.Context(), ctxutil.UserIDFromContext(r.Context()), id); err != nil {
		writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAllNotificationsRead serves POST /api/notifications/read-all.
func (h *Handlers) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notify.MarkAllRead(r.Context(), ctxutil.UserIDFromContext(r.Context()))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"marked": n})
}
