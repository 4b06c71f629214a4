// Package agent is the service agents consult before and after making a
// change: project summaries, context retrieval with subgraph expansion,
// prior-art checks, and direct decision recording.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/graph"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// ErrValidation wraps request validation failures so the transport layer can
// map them to 400 responses.
var ErrValidation = errors.New("agent: invalid request")

// reviewScoreFloor is the hybrid score above which a prior decision is close
// enough to warrant review before proceeding.
const reviewScoreFloor = 0.5

// Service answers agent queries against the decision graph.
type Service struct {
	db        *storage.DB
	writer    *graph.Writer
	evolution *graph.Evolution
	embedder  *embedder.Service
	cfg       config.Config
	logger    *slog.Logger
}

// New creates the agent-context service.
func New(db *storage.DB, writer *graph.Writer, evolution *graph.Evolution, emb *embedder.Service, cfg config.Config, logger *slog.Logger) *Service {
	return &Service{db: db, writer: writer, evolution: evolution, embedder: emb, cfg: cfg, logger: logger}
}

// Summary builds the project overview: totals, recent decisions, superseded
// and stale sets, dormant alternatives, and unresolved contradictions.
func (s *Service) Summary(ctx context.Context, userID, project string, dormant []model.DormantAlternative) (model.SummaryResponse, error) {
	total, err := s.db.CountDecisions(ctx, userID, project)
	if err != nil {
		return model.SummaryResponse{}, fmt.Errorf("agent: summary count: %w", err)
	}
	recent, _, err := s.db.ListDecisions(ctx, userID, project, 10, 0)
	if err != nil {
		return model.SummaryResponse{}, fmt.Errorf("agent: summary recent: %w", err)
	}
	superseded, err := s.db.SupersededDecisions(ctx, userID, 10)
	if err != nil {
		return model.SummaryResponse{}, fmt.Errorf("agent: summary superseded: %w", err)
	}
	thresholds := map[string]int{
		string(model.ScopeTactical):      s.cfg.StaleTacticalDays,
		string(model.ScopeStrategic):     s.cfg.StaleStrategicDays,
		string(model.ScopeArchitectural): s.cfg.StaleArchitecturalDays,
		string(model.ScopeUnknown):       s.cfg.StaleTacticalDays,
	}
	stale, err := s.db.StaleDecisions(ctx, userID, thresholds, 10)
	if err != nil {
		return model.SummaryResponse{}, fmt.Errorf("agent: summary stale: %w", err)
	}
	contradictions, err := s.db.OpenContradictions(ctx, userID, 10)
	if err != nil {
		return model.SummaryResponse{}, fmt.Errorf("agent: summary contradictions: %w", err)
	}

	return model.SummaryResponse{
		Project:            project,
		TotalDecisions:     total,
		Recent:             recent,
		Superseded:         superseded,
		Stale:              stale,
		Dormant:            dormant,
		OpenContradictions: contradictions,
	}, nil
}

// ContextResult is one context hit with its expanded subgraph.
type ContextResult struct {
	Decision model.Decision       `json:"decision"`
	Score    float64              `json:"score"`
	Entities []model.Entity       `json:"entities,omitempty"`
	Edges    []model.DecisionEdge `json:"edges,omitempty"`
	Files    []string             `json:"affected_files,omitempty"`
}

// ContextResponse is the response for a context query, in either format.
type ContextResponse struct {
	Query    string          `json:"query"`
	Results  []ContextResult `json:"results"`
	Markdown string          `json:"markdown,omitempty"`
}

// Context runs hybrid search and expands each hit one hop: involved entities,
// evolution edges, and affected files.
func (s *Service) Context(ctx context.Context, userID string, req model.ContextRequest) (ContextResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return ContextResponse{}, fmt.Errorf("%w: query is required", ErrValidation)
	}

	hits, err := s.HybridSearch(ctx, userID, req.Query, req.Project, req.Limit)
	if err != nil {
		return ContextResponse{}, fmt.Errorf("agent: context search: %w", err)
	}

	resp := ContextResponse{Query: req.Query}
	for _, h := range hits {
		if h.Decision == nil {
			continue
		}
		r := ContextResult{Decision: *h.Decision, Score: h.Score}

		r.Entities, err = s.db.DecisionEntities(ctx, userID, h.DecisionID)
		if err != nil {
			return ContextResponse{}, fmt.Errorf("agent: context entities: %w", err)
		}
		r.Edges, err = s.db.EdgesForDecision(ctx, userID, h.DecisionID)
		if err != nil {
			return ContextResponse{}, fmt.Errorf("agent: context edges: %w", err)
		}
		r.Files, err = s.db.AffectedFiles(ctx, h.DecisionID)
		if err != nil {
			return ContextResponse{}, fmt.Errorf("agent: context files: %w", err)
		}
		resp.Results = append(resp.Results, r)
	}

	if strings.EqualFold(req.Format, "markdown") {
		resp.Markdown = renderContextMarkdown(req.Query, resp.Results)
	}
	return resp, nil
}

// EntityContext is everything about one entity by name or alias: the canonical
// node and every decision involving it.
type EntityContext struct {
	Entity    model.Entity     `json:"entity"`
	Decisions []model.Decision `json:"decisions"`
}

// ContextForEntity resolves a name to its canonical entity without creating
// anything, then returns its decision history.
func (s *Service) ContextForEntity(ctx context.Context, userID, name string) (EntityContext, error) {
	e, err := s.db.FindEntityByName(ctx, userID, name)
	if errors.Is(err, storage.ErrNotFound) {
		e, err = s.db.FindEntityByAlias(ctx, userID, name)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return EntityContext{}, err
		}
		return EntityContext{}, fmt.Errorf("agent: entity lookup: %w", err)
	}

	decisions, err := s.db.EntityDecisions(ctx, userID, e.ID, 50)
	if err != nil {
		return EntityContext{}, fmt.Errorf("agent: entity decisions: %w", err)
	}
	e.DecisionCount = len(decisions)
	return EntityContext{Entity: e, Decisions: decisions}, nil
}

// Check runs a prior-art check on a proposal. The verdict escalates from
// proceed to review_similar when close prior decisions exist, and to
// resolve_contradiction when any of those decisions sits on an unresolved
// CONTRADICTS edge.
func (s *Service) Check(ctx context.Context, userID string, req model.CheckRequest) (model.CheckResponse, error) {
	if strings.TrimSpace(req.Proposal) == "" {
		return model.CheckResponse{}, fmt.Errorf("%w: proposal is required", ErrValidation)
	}

	hits, err := s.HybridSearch(ctx, userID, req.Proposal, req.Project, 10)
	if err != nil {
		return model.CheckResponse{}, fmt.Errorf("agent: check search: %w", err)
	}

	var similar []model.Decision
	similarIDs := make(map[string]bool)
	for _, h := range hits {
		if h.Score < reviewScoreFloor || h.Decision == nil {
			continue
		}
		similar = append(similar, *h.Decision)
		similarIDs[h.DecisionID.String()] = true
	}

	open, err := s.db.OpenContradictions(ctx, userID, 100)
	if err != nil {
		return model.CheckResponse{}, fmt.Errorf("agent: check contradictions: %w", err)
	}
	var contradictions []model.Decision
	seen := make(map[string]bool)
	for _, edge := range open {
		for _, id := range []string{edge.FromID.String(), edge.ToID.String()} {
			if !similarIDs[id] || seen[id] {
				continue
			}
			seen[id] = true
			for _, d := range similar {
				if d.ID.String() == id {
					contradictions = append(contradictions, d)
				}
			}
		}
	}

	return model.CheckResponse{
		Verdict:        verdict(similar, contradictions),
		Similar:        similar,
		Contradictions: contradictions,
	}, nil
}

func verdict(similar, contradictions []model.Decision) model.CheckVerdict {
	switch {
	case len(contradictions) > 0:
		return model.VerdictResolveContradiction
	case len(similar) > 0:
		return model.VerdictReviewSimilar
	default:
		return model.VerdictProceed
	}
}

// Remember records a decision supplied directly by an agent. Unauthenticated
// callers cannot write; the transport layer enforces that before calling here.
func (s *Service) Remember(ctx context.Context, userID string, req model.RememberRequest) (model.Decision, []model.Resolution, error) {
	if strings.TrimSpace(req.Decision) == "" {
		return model.Decision{}, nil, fmt.Errorf("%w: decision is required", ErrValidation)
	}
	if strings.TrimSpace(req.Trigger) == "" {
		return model.Decision{}, nil, fmt.Errorf("%w: trigger is required", ErrValidation)
	}

	d := model.Decision{
		Project:        req.Project,
		Trigger:        req.Trigger,
		Context:        req.Context,
		AgentDecision:  req.Decision,
		AgentRationale: req.Rationale,
		Options:        req.Options,
		Scope:          parseScope(req.Scope),
		Assumptions:    req.Assumptions,
		Source:         model.SourceAPI,
		Confidence:     0.9,
	}
	if req.Confidence != nil {
		d.Confidence = *req.Confidence
	}
	d.ClampConfidence()
	if len(d.Options) == 0 {
		d.Options = []string{d.AgentDecision}
		d.Provenance.ValidationFlags = append(d.Provenance.ValidationFlags, "options_defaulted")
	}

	draft := model.DecisionDraft{Decision: d, Mentions: req.Entities}
	stored, resolutions, err := s.writer.PersistDraft(ctx, userID, draft, req.AffectedFiles)
	if err != nil {
		return model.Decision{}, nil, err
	}

	// Evolution analysis is best effort; the write already succeeded.
	if s.evolution != nil {
		if err := s.evolution.Analyze(ctx, userID, stored); err != nil {
			s.logger.Warn("agent: evolution analysis failed",
				"decision", stored.ID, "error", err)
		}
	}
	return stored, resolutions, nil
}

func parseScope(s string) model.Scope {
	switch model.Scope(strings.ToLower(strings.TrimSpace(s))) {
	case model.ScopeTactical:
		return model.ScopeTactical
	case model.ScopeStrategic:
		return model.ScopeStrategic
	case model.ScopeArchitectural:
		return model.ScopeArchitectural
	default:
		return model.ScopeUnknown
	}
}

// DecisionsForFiles returns decisions whose AFFECTS set intersects the given
// files, for pull-request context.
func (s *Service) DecisionsForFiles(ctx context.Context, userID string, files []string, limit int) ([]model.Decision, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", ErrValidation)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.db.DecisionsForFiles(ctx, userID, files, limit)
}
