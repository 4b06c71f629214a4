package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// HandleListEntities serves GET /api/entities.
func (h *Handlers) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)
	entities, err := h.db.ListEntities(r.Context(),
		ctxutil.UserIDFromContext(r.Context()), r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeList(w, r, entities, nil, limit, offset, len(entities) == limit)
}

// HandleGetEntity serves GET /api/entities/{id}.
func (h *Handlers) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}
	userID := ctxutil.UserIDFromContext(r.Context())
	e, err := h.db.GetEntity(r.Context(), userID, id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	decisions, err := h.db.EntityDecisions(r.Context(), userID, id, 50)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	e.DecisionCount = len(decisions)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"entity":    e,
		"decisions": decisions,
	})
}

// HandleCreateEntity serves POST /api/entities. Auth required.
func (h *Handlers) HandleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var e model.Entity
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if e.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if e.Type == "" {
		e.Type = model.EntityTechnology
	}
	e.UserID = ctxutil.UserIDFromContext(r.Context())

	created, err := h.db.CreateEntity(r.Context(), e)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.resolver.InvalidateEntity(r.Context(), e.UserID)
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleUpdateEntity serves PUT /api/entities/{id}. Resolver caches for the
// user are flushed so renamed or re-aliased entities take effect immediately.
func (h *Handlers) HandleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}
	var e model.Entity
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if e.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	e.ID = id
	e.UserID = ctxutil.UserIDFromContext(r.Context())

	if err := h.db.UpdateEntity(r.Context(), e); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.resolver.InvalidateEntity(r.Context(), e.UserID)
	writeJSON(w, r, http.StatusOK, e)
}

// HandleDeleteEntity serves DELETE /api/entities/{id}. Blocked with 409 while
// decisions still reference the entity unless force=true.
func (h *Handlers) HandleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}
	userID := ctxutil.UserIDFromContext(r.Context())
	force := r.URL.Query().Get("force") == "true"

	if err := h.db.DeleteEntity(r.Context(), userID, id, force); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.resolver.InvalidateEntity(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}
