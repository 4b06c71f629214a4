package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/extract"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// Evolution discovers SUPERSEDES, CONTRADICTS, and SIMILAR_TO edges between a
// new decision and the user's recent decisions sharing at least one entity.
type Evolution struct {
	db        *storage.DB
	extractor *extract.Extractor
	cfg       config.Config
	logger    *slog.Logger
}

// NewEvolution creates the evolution analyzer.
func NewEvolution(db *storage.DB, extractor *extract.Extractor, cfg config.Config, logger *slog.Logger) *Evolution {
	return &Evolution{db: db, extractor: extractor, cfg: cfg, logger: logger}
}

// Analyze runs evolution analysis for a newly persisted decision. Edge
// discovery failures on one pair never block the rest.
func (e *Evolution) Analyze(ctx context.Context, userID string, d model.Decision) error {
	priors, err := e.db.RecentDecisionsSharingEntities(ctx, userID, d.ID, e.cfg.EvolutionRecentN)
	if err != nil {
		return fmt.Errorf("graph: evolution candidates: %w", err)
	}

	for _, prior := range priors {
		if err := e.analyzePair(ctx, userID, d, prior); err != nil {
			e.logger.Warn("graph: pair analysis failed",
				"new", d.ID, "prior", prior.ID, "error", err)
		}
	}
	return nil
}

func (e *Evolution) analyzePair(ctx context.Context, userID string, newer, older model.Decision) error {
	// Cosine similarity runs unconditionally: it needs no LLM and SIMILAR_TO
	// at high similarity is useful even when the paired prompt disagrees.
	if sim, ok := CosineSimilarity(newer.Embedding, older.Embedding); ok && sim >= e.cfg.SimilarityThreshold {
		if err := e.writeEdge(ctx, model.DecisionEdge{
			Kind:       model.EdgeSimilarTo,
			FromID:     newer.ID,
			ToID:       older.ID,
			UserID:     userID,
			Confidence: sim,
			Weight:     sim,
			Reasoning:  "embedding cosine similarity",
		}); err != nil {
			return err
		}
	}

	rel, err := e.extractor.AnalyzePair(ctx, newer, older)
	if err != nil {
		return err
	}
	if rel.Kind == "UNRELATED" || rel.Confidence < e.cfg.EvolutionMinConfidence {
		return nil
	}

	edge := model.DecisionEdge{
		UserID:     userID,
		Confidence: rel.Confidence,
		Reasoning:  rel.Reasoning,
	}
	switch rel.Kind {
	case "SUPERSEDES":
		// Asymmetric: the newer decision supersedes the older.
		edge.Kind = model.EdgeSupersedes
		edge.FromID = newer.ID
		edge.ToID = older.ID
	case "CONTRADICTS":
		edge.Kind = model.EdgeContradicts
		edge.FromID = newer.ID
		edge.ToID = older.ID
	case "SIMILAR_TO":
		edge.Kind = model.EdgeSimilarTo
		edge.FromID = newer.ID
		edge.ToID = older.ID
		edge.Weight = rel.Confidence
	}
	return e.writeEdge(ctx, edge)
}

// writeEdge persists an edge unless its undirected twin already exists.
func (e *Evolution) writeEdge(ctx context.Context, edge model.DecisionEdge) error {
	if edge.Kind == model.EdgeContradicts || edge.Kind == model.EdgeSimilarTo {
		exists, err := e.db.DecisionEdgeExists(ctx, edge.Kind, edge.FromID, edge.ToID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return e.db.CreateDecisionEdge(ctx, edge)
}

// CosineSimilarity computes the cosine similarity of two stored embeddings.
// Returns false when either side is missing or dimensions differ.
func CosineSimilarity(a, b *pgvector.Vector) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	av, bv := a.Slice(), b.Slice()
	if len(av) == 0 || len(av) != len(bv) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range av {
		dot += float64(av[i]) * float64(bv[i])
		na += float64(av[i]) * float64(av[i])
		nb += float64(bv[i]) * float64(bv[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
