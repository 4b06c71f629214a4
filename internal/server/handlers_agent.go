package server

import (
	"errors"
	"net/http"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// HandleAgentSummary serves GET /api/agent/summary.
func (h *Handlers) HandleAgentSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := ctxutil.UserIDFromContext(ctx)
	project := r.URL.Query().Get("project")

	// Dormant scan failures degrade the summary instead of failing it.
	dormant, err := h.dormant.Scan(ctx, userID)
	if err != nil {
		h.logger.Warn("server: dormant scan failed for summary", "error", err)
	}

	summary, err := h.agent.Summary(ctx, userID, project, dormant)
	if err != nil {
		h.logger.Error("server: summary failed", "error", err)
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// HandleAgentContext serves POST /api/agent/context.
func (h *Handlers) HandleAgentContext(w http.ResponseWriter, r *http.Request) {
	var req model.ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	resp, err := h.agent.Context(r.Context(), ctxutil.UserIDFromContext(r.Context()), req)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleAgentEntityContext serves GET /api/agent/context/{name}.
func (h *Handlers) HandleAgentEntityContext(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "entity name is required")
		return
	}
	ec, err := h.agent.ContextForEntity(r.Context(), ctxutil.UserIDFromContext(r.Context()), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown entity")
			return
		}
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ec)
}

// HandleAgentCheck serves POST /api/agent/check.
func (h *Handlers) HandleAgentCheck(w http.ResponseWriter, r *http.Request) {
	var req model.CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	resp, err := h.agent.Check(r.Context(), ctxutil.UserIDFromContext(r.Context()), req)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleAgentRemember serves POST /api/agent/remember. Auth required.
func (h *Handlers) HandleAgentRemember(w http.ResponseWriter, r *http.Request) {
	var req model.RememberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	userID := ctxutil.UserIDFromContext(r.Context())
	d, resolutions, err := h.agent.Remember(r.Context(), userID, req)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	if h.exporter != nil && h.exporter.Enabled() {
		if err := h.exporter.Append(d.Project, []model.Decision{d}); err != nil {
			h.logger.Warn("server: markdown export failed", "decision", d.ID, "error", err)
		}
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"decision":    d,
		"resolutions": resolutions,
	})
}
