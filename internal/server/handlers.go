package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/continuumhq/continuum/internal/analyzers"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/batcher"
	"github.com/continuumhq/continuum/internal/graph"
	"github.com/continuumhq/continuum/internal/notify"
	"github.com/continuumhq/continuum/internal/resolve"
	"github.com/continuumhq/continuum/internal/search"
	"github.com/continuumhq/continuum/internal/service/agent"
	"github.com/continuumhq/continuum/internal/service/export"
	"github.com/continuumhq/continuum/internal/service/ingest"
	"github.com/continuumhq/continuum/internal/storage"
)

// DormantScanner ranks rejected alternatives for reconsideration. Satisfied
// by *analyzers.Dormant.
type DormantScanner interface {
	Scan(ctx context.Context, userID string) ([]model.DormantAlternative, error)
}

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	db       *storage.DB
	agent    *agent.Service
	writer   *graph.Writer
	resolver *resolve.Resolver
	batcher  *batcher.Batcher
	ingest   *ingest.Service
	notify   *notify.Service
	hub      *notify.Hub
	commits  *analyzers.CommitLinker
	dormant  DormantScanner
	exporter *export.Exporter
	index    *search.Index // nil unless Qdrant is configured
	redis    *redis.Client // nil unless Redis is configured

	logger      *slog.Logger
	version     string
	replayLimit int
}

// HandlersDeps bundles handler dependencies. Index and Exporter are optional.
type HandlersDeps struct {
	DB       *storage.DB
	Agent    *agent.Service
	Writer   *graph.Writer
	Resolver *resolve.Resolver
	Batcher  *batcher.Batcher
	Ingest   *ingest.Service
	Notify   *notify.Service
	Hub      *notify.Hub
	Commits  *analyzers.CommitLinker
	Dormant  DormantScanner
	Exporter *export.Exporter
	Index    *search.Index
	Redis    *redis.Client

	Logger      *slog.Logger
	Version     string
	ReplayLimit int
}

// NewHandlers creates the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:          d.DB,
		agent:       d.Agent,
		writer:      d.Writer,
		resolver:    d.Resolver,
		batcher:     d.Batcher,
		ingest:      d.Ingest,
		notify:      d.Notify,
		hub:         d.Hub,
		commits:     d.Commits,
		dormant:     d.Dormant,
		exporter:    d.Exporter,
		index:       d.Index,
		redis:       d.Redis,
		logger:      d.Logger,
		version:     d.Version,
		replayLimit: d.ReplayLimit,
	}
}

// HandleHealth serves GET /health: liveness plus dependency status.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	checks := map[string]string{}

	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status = "degraded"
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}
	if h.index != nil {
		if err := h.index.Healthy(ctx); err != nil {
			status = "degraded"
			checks["vector_index"] = err.Error()
		} else {
			checks["vector_index"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}
