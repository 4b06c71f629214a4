package server

import (
	"net/http"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/model"
)

// HandleDormantAlternatives serves GET /api/analytics/dormant-alternatives:
// rejected options that never resurfaced in a later decision, ranked by
// reconsider score.
func (h *Handlers) HandleDormantAlternatives(w http.ResponseWriter, r *http.Request) {
	alts, err := h.dormant.Scan(r.Context(), ctxutil.UserIDFromContext(r.Context()))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 0 && len(alts) > limit {
		alts = alts[:limit]
	}
	if alts == nil {
		alts = []model.DormantAlternative{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"dormant_alternatives": alts})
}
