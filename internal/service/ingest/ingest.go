// Package ingest runs the log pipeline end to end: parse episodes, extract
// decision drafts, persist them into the graph, analyze evolution, and mirror
// to markdown export.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/extract"
	"github.com/continuumhq/continuum/internal/graph"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/parser"
	"github.com/continuumhq/continuum/internal/service/export"
	"github.com/continuumhq/continuum/internal/storage"
)

// Result summarizes one ingested log file.
type Result struct {
	SourceFile    string `json:"source_file"`
	Skipped       bool   `json:"skipped"` // Already processed with the same content.
	Conversations int    `json:"conversations"`
	Decisions     int    `json:"decisions"`
}

// Service orchestrates the ingest pipeline. Episodes of one file are
// processed concurrently, bounded so a large log cannot flood the LLM
// provider.
type Service struct {
	db          *storage.DB
	parser      *parser.Parser
	extractor   *extract.Extractor
	writer      *graph.Writer
	evolution   *graph.Evolution
	exporter    *export.Exporter
	concurrency int
	logger      *slog.Logger
}

// New creates the ingest service.
func New(db *storage.DB, p *parser.Parser, ex *extract.Extractor, w *graph.Writer, ev *graph.Evolution, exp *export.Exporter, cfg config.Config, logger *slog.Logger) *Service {
	concurrency := cfg.LLMConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		db:          db,
		parser:      p,
		extractor:   ex,
		writer:      w,
		evolution:   ev,
		exporter:    exp,
		concurrency: concurrency,
		logger:      logger,
	}
}

// IngestLog processes one conversation log. Re-submitting a file with
// unchanged content is a no-op via the processed-files ledger; partial
// extraction failures skip the episode and continue.
func (s *Service) IngestLog(ctx context.Context, userID, project, sourceFile string, content []byte) (Result, error) {
	res := Result{SourceFile: sourceFile}

	hash := storage.HashContent(content)
	if sourceFile != "" {
		done, err := s.db.FileProcessed(ctx, userID, sourceFile, hash)
		if err != nil {
			return res, fmt.Errorf("ingest: ledger check: %w", err)
		}
		if done {
			res.Skipped = true
			return res, nil
		}
	}

	conversations, err := s.parser.Parse(bytes.NewReader(content), project, sourceFile)
	if err != nil {
		return res, fmt.Errorf("ingest: parse: %w", err)
	}
	res.Conversations = len(conversations)

	var mu sync.Mutex
	runBounded(ctx, s.concurrency, conversations, func(conv model.Conversation) {
		n, err := s.processConversation(ctx, userID, conv)
		if err != nil {
			// One bad episode must not sink the file.
			s.logger.Warn("ingest: episode failed, continuing",
				"source", sourceFile, "error", err)
			return
		}
		mu.Lock()
		res.Decisions += n
		mu.Unlock()
	})

	if sourceFile != "" {
		if err := s.db.RecordProcessedFile(ctx, model.ProcessedFile{
			Path:        sourceFile,
			UserID:      userID,
			ContentHash: hash,
			Decisions:   res.Decisions,
		}); err != nil {
			s.logger.Warn("ingest: ledger record failed", "source", sourceFile, "error", err)
		}
	}
	return res, nil
}

// runBounded runs fn over the conversations with at most limit in flight and
// waits for all of them. A cancelled context stops admitting new episodes.
func runBounded(ctx context.Context, limit int, conversations []model.Conversation, fn func(model.Conversation)) {
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for _, conv := range conversations {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(conv model.Conversation) {
			defer wg.Done()
			defer sem.Release(1)
			fn(conv)
		}(conv)
	}
	wg.Wait()
}

func (s *Service) processConversation(ctx context.Context, userID string, conv model.Conversation) (int, error) {
	drafts, err := s.extractor.ExtractDecisions(ctx, conv)
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, nil
	}

	toolFiles := conv.ToolFilePaths()
	var persisted []model.Decision
	for _, draft := range drafts {
		d, _, err := s.writer.PersistDraft(ctx, userID, draft, toolFiles)
		if err != nil {
			return len(persisted), err
		}
		persisted = append(persisted, d)

		if err := s.evolution.Analyze(ctx, userID, d); err != nil {
			s.logger.Warn("ingest: evolution analysis failed",
				"decision", d.ID, "error", err)
		}
	}

	for _, edge := range sequenceEdges(userID, persisted) {
		if err := s.db.CreateDecisionEdge(ctx, edge); err != nil {
			s.logger.Warn("ingest: sequence edge failed",
				"from", edge.FromID, "to", edge.ToID, "error", err)
		}
	}

	if s.exporter != nil {
		if err := s.exporter.WriteConversation(conv, persisted); err != nil {
			s.logger.Warn("ingest: markdown export failed",
				"source", conv.SourceFile, "error", err)
		}
	}
	return len(persisted), nil
}

// sequenceEdges links consecutive decisions of one episode in both temporal
// directions: the later decision FOLLOWS the earlier one, the earlier
// PRECEDES the later.
func sequenceEdges(userID string, persisted []model.Decision) []model.DecisionEdge {
	var edges []model.DecisionEdge
	for i := 1; i < len(persisted); i++ {
		prev, next := persisted[i-1], persisted[i]
		edges = append(edges,
			model.DecisionEdge{
				Kind:      model.EdgeFollows,
				FromID:    next.ID,
				ToID:      prev.ID,
				UserID:    userID,
				Reasoning: "consecutive decisions in the same episode",
			},
			model.DecisionEdge{
				Kind:      model.EdgePrecedes,
				FromID:    prev.ID,
				ToID:      next.ID,
				UserID:    userID,
				Reasoning: "consecutive decisions in the same episode",
			},
		)
	}
	return edges
}
