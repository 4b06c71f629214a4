package server

import (
	"net/http"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// searchResponse combines decision and entity hits plus matching candidates.
type searchResponse struct {
	Decisions  []model.SearchResult      `json:"decisions"`
	Candidates []model.CandidateDecision `json:"candidates,omitempty"`
}

// HandleSearch serves GET /api/search?query=... Full-text first, substring
// fallback when full-text finds nothing, plus candidate-text matches so
// rejected alternatives are discoverable.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		query = r.URL.Query().Get("q")
	}
	if query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	project := r.URL.Query().Get("project")

	ctx := r.Context()
	userID := ctxutil.UserIDFromContext(ctx)

	decisions, err := h.db.SearchDecisionsFTS(ctx, userID, query, project, limit)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	if len(decisions) == 0 {
		decisions, err = h.db.SearchDecisionsContains(ctx, userID, query, project, limit)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
	}

	candidates, err := h.db.SearchCandidates(ctx, userID, query, limit)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, searchResponse{
		Decisions:  decisions,
		Candidates: candidates,
	})
}
