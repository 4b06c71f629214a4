package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

const maxBulkItems = 500

// HandleListDecisions serves GET /api/decisions.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	userID := ctxutil.UserIDFromContext(r.Context())
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(r, "offset", 0)
	project := r.URL.Query().Get("project")

	decisions, total, err := h.db.ListDecisions(r.Context(), userID, project, limit, offset)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeList(w, r, decisions, &total, limit, offset, offset+len(decisions) < total)
}

// HandleGetDecision serves GET /api/decisions/{id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}
	userID := ctxutil.UserIDFromContext(r.Context())
	d, err := h.db.GetDecision(r.Context(), userID, id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	d.Entities, err = h.db.DecisionEntities(r.Context(), userID, id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	d.Candidates, err = h.db.CandidatesByDecision(r.Context(), id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleCreateDecision serves POST /api/decisions. Auth required.
func (h *Handlers) HandleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var d model.Decision
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if errs := validateDecision(d); len(errs) > 0 {
		writeValidationErrors(w, r, errs)
		return
	}
	d.UserID = ctxutil.UserIDFromContext(r.Context())
	if d.Source == "" {
		d.Source = model.SourceManual
	}
	d.ClampConfidence()

	draft := model.DecisionDraft{Decision: d}
	stored, _, err := h.writer.PersistDraft(r.Context(), d.UserID, draft, nil)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, stored)
}

// HandleUpdateDecision serves PUT /api/decisions/{id}. The human override
// fields and edit count are maintained by the storage layer.
func (h *Handlers) HandleUpdateDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}
	var d model.Decision
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	d.ID = id
	d.UserID = ctxutil.UserIDFromContext(r.Context())
	d.ClampConfidence()

	updated, err := h.db.UpdateDecision(r.Context(), d)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteDecision serves DELETE /api/decisions/{id}.
func (h *Handlers) HandleDeleteDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}
	if err := h.db.DeleteDecision(r.Context(), ctxutil.UserIDFromContext(r.Context()), id); err != nil {
		writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBulkImport serves POST /api/decisions/bulk. Imports independently per
// item; failures are reported per index without aborting the rest.
func (h *Handlers) HandleBulkImport(w http.ResponseWriter, r *http.Request) {
	var req model.BulkImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(req.Decisions) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decisions list is empty")
		return
	}
	if len(req.Decisions) > maxBulkItems {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
			fmt.Sprintf("at most %d decisions per request", maxBulkItems))
		return
	}

	ctx := r.Context()
	userID := ctxutil.UserIDFromContext(ctx)
	var resp model.BulkImportResponse
	for i, d := range req.Decisions {
		if errs := validateDecision(d); len(errs) > 0 {
			resp.Errors = append(resp.Errors, model.BulkItemError{
				Index: i, Message: errs[0].Field + ": " + errs[0].Message,
			})
			continue
		}
		if req.SkipDuplicates {
			exists, err := h.db.DecisionExists(ctx, userID, d.AgentDecision, d.Trigger)
			if err != nil {
				resp.Errors = append(resp.Errors, model.BulkItemError{Index: i, Message: err.Error()})
				continue
			}
			if exists {
				resp.Skipped++
				continue
			}
		}
		d.UserID = userID
		if d.Source == "" {
			d.Source = model.SourceImport
		}
		d.ClampConfidence()
		if _, _, err := h.writer.PersistDraft(ctx, userID, model.DecisionDraft{Decision: d}, nil); err != nil {
			resp.Errors = append(resp.Errors, model.BulkItemError{Index: i, Message: err.Error()})
			continue
		}
		resp.Imported++
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func validateDecision(d model.Decision) []model.FieldError {
	var errs []model.FieldError
	if d.AgentDecision == "" {
		errs = append(errs, model.FieldError{Field: "agent_decision", Message: "is required"})
	}
	if d.Trigger == "" {
		errs = append(errs, model.FieldError{Field: "trigger", Message: "is required"})
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, model.FieldError{Field: "confidence", Message: "must be in [0,1]"})
	}
	return errs
}
