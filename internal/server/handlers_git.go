package server

import (
	"net/http"
	"strings"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// HandleGitCommit serves POST /api/git/commit. Auth required: commits must
// belong to a tenant for linking to work.
func (h *Handlers) HandleGitCommit(w http.ResponseWriter, r *http.Request) {
	var hook model.CommitWebhook
	if err := decodeJSON(r, &hook); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var errs []model.FieldError
	if hook.SHA == "" {
		errs = append(errs, model.FieldError{Field: "sha", Message: "is required"})
	}
	if hook.CommittedAt.IsZero() {
		errs = append(errs, model.FieldError{Field: "committed_at", Message: "is required"})
	}
	if len(errs) > 0 {
		writeValidationErrors(w, r, errs)
		return
	}

	res, err := h.commits.HandleCommit(r.Context(), ctxutil.UserIDFromContext(r.Context()), hook)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.CommitWebhookResponse{
		SHA:             res.SHA,
		LinkedDecisions: res.LinkedDecisions,
		CreatedTouches:  res.CreatedTouches,
	})
}

// HandleGitPRContext serves GET /api/git/pr-context?files=a.go,b.go: the
// decisions whose affected files intersect the changed set.
func (h *Handlers) HandleGitPRContext(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("files")
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}

	decisions, err := h.agent.DecisionsForFiles(r.Context(),
		ctxutil.UserIDFromContext(r.Context()), files, queryInt(r, "limit", 20))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"files":     files,
		"decisions": decisions,
	})
}
