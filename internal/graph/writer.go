// Package graph persists decisions with their derived structure and discovers
// evolution edges between them.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/resolve"
	"github.com/continuumhq/continuum/internal/storage"
)

// Writer persists decision drafts. Writes are sequenced per decision
// (node, candidates, entity edges, file edges) and merge-on-key so retries
// are harmless.
type Writer struct {
	db       *storage.DB
	resolver *resolve.Resolver
	embedder *embedder.Service
	cfg      config.Config
	logger   *slog.Logger
}

// NewWriter creates the graph writer.
func NewWriter(db *storage.DB, resolver *resolve.Resolver, emb *embedder.Service, cfg config.Config, logger *slog.Logger) *Writer {
	return &Writer{db: db, resolver: resolver, embedder: emb, cfg: cfg, logger: logger}
}

// inferredFilePath matches file-looking references in decision text, for
// AFFECTS edges with source=inferred.
var inferredFilePath = regexp.MustCompile(`\b[\w./-]+\.(go|py|ts|tsx|js|jsx|rs|java|rb|sql|proto|yaml|yml|toml|json)\b`)

// Backoff for transient write conflicts. Ingest workers persist episodes
// concurrently, so deadlocks against the analyzer sweeps do happen.
const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

func (w *Writer) retry(ctx context.Context, fn func() error) error {
	return storage.WithRetry(ctx, writeRetries, writeRetryDelay, fn)
}

// PersistDraft writes one draft: decision node, rejected candidates, INVOLVES
// edges for resolved mentions, AFFECTS edges for tool-call and inferred file
// paths. Returns the stored decision with resolution telemetry.
func (w *Writer) PersistDraft(ctx context.Context, userID string, draft model.DecisionDraft, toolFiles []string) (model.Decision, []model.Resolution, error) {
	d := draft.Decision
	d.UserID = userID

	if w.embedder != nil && w.embedder.Enabled() {
		text := embedder.ComposeDecisionText(d, w.cfg)
		if vec, err := w.embedder.EmbedOne(ctx, text, embedder.InputPassage); err == nil {
			v := pgvector.NewVector(vec)
			d.Embedding = &v
		} else {
			w.logger.Warn("graph: decision embedding failed, persisting without",
				"error", err)
		}
	}

	err := w.retry(ctx, func() error {
		var cerr error
		d, cerr = w.db.CreateDecision(ctx, d)
		return cerr
	})
	if err != nil {
		return model.Decision{}, nil, fmt.Errorf("graph: persist decision: %w", err)
	}

	// Rejected alternatives become candidate nodes. The chosen option is
	// skipped by case-insensitive trimmed comparison.
	for _, opt := range d.RejectedOptions() {
		if err := w.retry(ctx, func() error {
			_, cerr := w.db.CreateCandidate(ctx, model.CandidateDecision{
				DecisionID: d.ID,
				UserID:     userID,
				Text:       opt,
			})
			return cerr
		}); err != nil {
			return model.Decision{}, nil, fmt.Errorf("graph: persist candidate: %w", err)
		}
	}

	var resolutions []model.Resolution
	for _, mention := range draft.Mentions {
		res, err := w.resolver.Resolve(ctx, userID, mention)
		if err != nil {
			w.logger.Warn("graph: mention resolution failed, skipping edge",
				"mention", mention.Name, "error", err)
			continue
		}
		resolutions = append(resolutions, res)
		if err := w.retry(ctx, func() error {
			return w.db.CreateInvolvesEdge(ctx, model.InvolvesEdge{
				DecisionID: d.ID,
				EntityID:   res.EntityID,
				UserID:     userID,
				Role:       mention.Role,
			})
		}); err != nil {
			return model.Decision{}, nil, fmt.Errorf("graph: involves edge: %w", err)
		}
	}

	if err := w.writeAffects(ctx, userID, d, toolFiles); err != nil {
		return model.Decision{}, nil, err
	}
	return d, resolutions, nil
}

func (w *Writer) writeAffects(ctx context.Context, userID string, d model.Decision, toolFiles []string) error {
	seen := make(map[string]bool)
	for _, f := range toolFiles {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		if err := w.retry(ctx, func() error {
			return w.db.CreateAffectsEdge(ctx, model.AffectsEdge{
				DecisionID: d.ID,
				FilePath:   f,
				UserID:     userID,
				Source:     model.AffectsToolCall,
				Confidence: 0.9,
			})
		}); err != nil {
			return fmt.Errorf("graph: affects edge: %w", err)
		}
	}

	// File references inferred from the text land at lower confidence.
	text := d.AgentDecision + "\n" + d.AgentRationale + "\n" + d.Context
	for _, f := range inferredFilePath.FindAllString(text, 20) {
		if seen[f] {
			continue
		}
		seen[f] = true
		if err := w.retry(ctx, func() error {
			return w.db.CreateAffectsEdge(ctx, model.AffectsEdge{
				DecisionID: d.ID,
				FilePath:   f,
				UserID:     userID,
				Source:     model.AffectsInferred,
				Confidence: 0.5,
			})
		}); err != nil {
			return fmt.Errorf("graph: inferred affects edge: %w", err)
		}
	}
	return nil
}
