package agent

import (
	"context"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/model"
)

// hybrid weights for merging lexical and vector hits.
const (
	lexicalWeight = 0.4
	vectorWeight  = 0.6
)

// HybridSearch combines full-text and vector search over decisions. Lexical
// search falls back to substring matching when full-text finds nothing, so
// short or partial queries still work.
func (s *Service) HybridSearch(ctx context.Context, userID, query, project string, limit int) ([]model.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	lexical, err := s.db.SearchDecisionsFTS(ctx, userID, query, project, limit*2)
	if err != nil {
		return nil, err
	}
	if len(lexical) == 0 {
		lexical, err = s.db.SearchDecisionsContains(ctx, userID, query, project, limit*2)
		if err != nil {
			return nil, err
		}
	}

	var vector []model.SearchResult
	if s.embedder != nil && s.embedder.Enabled() {
		vec, err := s.embedder.EmbedOne(ctx, query, embedder.InputQuery)
		if err != nil {
			s.logger.Warn("agent: query embedding failed, lexical only", "error", err)
		} else {
			vector, err = s.db.FindSimilarDecisionsByEmbedding(ctx, userID,
				pgvector.NewVector(vec), project, 0, limit*2)
			if err != nil {
				return nil, err
			}
		}
	}

	merged := mergeResults(lexical, vector)
	if s.cfg.RerankingEnabled {
		merged = rerank(query, merged, s.cfg.RerankingTopK)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// rerank re-orders the top K hits by blending the hybrid score with query-term
// coverage of the decision text. Cheap cross-check against embedding drift;
// hits below position K keep their order.
func rerank(query string, results []model.SearchResult, topK int) []model.SearchResult {
	if topK <= 0 || len(results) < 2 {
		return results
	}
	k := topK
	if k > len(results) {
		k = len(results)
	}

	head := make([]model.SearchResult, k)
	copy(head, results[:k])
	for i := range head {
		if head[i].Decision == nil {
			continue
		}
		d := head[i].Decision
		text := d.AgentDecision + " " + d.Trigger + " " + d.AgentRationale
		head[i].Score = 0.7*head[i].Score + 0.3*termCoverage(query, text)
	}
	sort.Slice(head, func(i, j int) bool { return head[i].Score > head[j].Score })
	return append(head, results[k:]...)
}

// termCoverage is the fraction of query terms (length >= 3) present in text,
// case-folded.
func termCoverage(query, text string) float64 {
	lower := strings.ToLower(text)
	terms := strings.Fields(strings.ToLower(query))
	var total, found int
	for _, t := range terms {
		if len(t) < 3 {
			continue
		}
		total++
		if strings.Contains(lower, t) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}

// mergeResults normalizes each side's scores to [0,1] and combines them with
// the hybrid weights. Hits found by both sides score from both.
func mergeResults(lexical, vector []model.SearchResult) []model.SearchResult {
	maxLex := 0.0
	for _, r := range lexical {
		if r.Score > maxLex {
			maxLex = r.Score
		}
	}

	type entry struct {
		res   model.SearchResult
		score float64
	}
	byID := make(map[string]*entry)

	for i, r := range lexical {
		score := 1.0
		if maxLex > 0 {
			score = r.Score / maxLex
		} else {
			// CONTAINS fallback has no ranking signal; decay by position.
			score = 1 - float64(i)/float64(len(lexical)+1)
		}
		byID[r.DecisionID.String()] = &entry{res: r, score: lexicalWeight * score}
	}
	for _, r := range vector {
		if e, ok := byID[r.DecisionID.String()]; ok {
			e.score += vectorWeight * r.Score
		} else {
			byID[r.DecisionID.String()] = &entry{res: r, score: vectorWeight * r.Score}
		}
	}

	out := make([]model.SearchResult, 0, len(byID))
	for _, e := range byID {
		e.res.Score = e.score
		out = append(out, e.res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DecisionID.String() < out[j].DecisionID.String()
	})
	return out
}
