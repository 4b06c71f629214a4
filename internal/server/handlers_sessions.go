package server

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// HandleCreateSession serves POST /api/sessions: opens an interactive capture
// session for streaming messages.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project string `json:"project"`
	}
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	s, err := h.db.CreateCaptureSession(r.Context(), model.CaptureSession{
		UserID:  ctxutil.UserIDFromContext(r.Context()),
		Project: req.Project,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, s)
}

// HandleSessionMessage serves POST /api/sessions/{id}/messages: enqueues one
// message into the per-session batcher. The durable write happens on flush.
func (h *Handlers) HandleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	var req struct {
		Role    model.Role `json:"role"`
		Content string     `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "content is required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}

	if err := h.batcher.Enqueue(r.Context(), model.CaptureMessage{
		SessionID: sessionID,
		UserID:    ctxutil.UserIDFromContext(r.Context()),
		Role:      req.Role,
		Content:   req.Content,
	}); err != nil {
		writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleCompleteSession serves POST /api/sessions/{id}/complete: force-flushes
// buffered messages and closes the session.
func (h *Handlers) HandleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	ctx := r.Context()
	if err := h.batcher.CompleteSession(ctx, sessionID); err != nil {
		writeMappedError(w, r, err)
		return
	}
	if err := h.db.CompleteCaptureSession(ctx, ctxutil.UserIDFromContext(ctx), sessionID); err != nil {
		writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIngestLog serves POST /api/ingest/log: accepts a line-delimited
// conversation log and runs the full extraction pipeline.
func (h *Handlers) HandleIngestLog(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	sourceFile := r.URL.Query().Get("source")

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
			"request body too large")
		return
	}
	if len(content) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "log body is empty")
		return
	}

	res, err := h.ingest.IngestLog(r.Context(),
		ctxutil.UserIDFromContext(r.Context()), project, sourceFile, content)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
