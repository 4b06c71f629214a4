// Package continuum is the public API for embedding the Continuum decision
// memory server.
//
// Consumers construct and run the server without forking it:
//
//	app, err := continuum.New(
//	    continuum.WithVersion(version),
//	    continuum.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: continuum (root) imports
// internal/*, but internal/* never imports the root.
package continuum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"

	"github.com/continuumhq/continuum/internal/analyzers"
	"github.com/continuumhq/continuum/internal/batcher"
	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/extract"
	"github.com/continuumhq/continuum/internal/graph"
	"github.com/continuumhq/continuum/internal/llm"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/notify"
	"github.com/continuumhq/continuum/internal/parser"
	"github.com/continuumhq/continuum/internal/ratelimit"
	"github.com/continuumhq/continuum/internal/resolve"
	"github.com/continuumhq/continuum/internal/search"
	"github.com/continuumhq/continuum/internal/server"
	"github.com/continuumhq/continuum/internal/service/agent"
	"github.com/continuumhq/continuum/internal/service/export"
	"github.com/continuumhq/continuum/internal/service/ingest"
	"github.com/continuumhq/continuum/internal/storage"
	"github.com/continuumhq/continuum/internal/telemetry"
	"github.com/continuumhq/continuum/migrations"
)

// backfillBatchSize caps one embedding backfill pass. Remaining rows are
// picked up on the next tick.
const backfillBatchSize = 200

// backfillInterval is how often the embedding backfill re-checks for
// decisions stored without a vector (e.g. written while the provider was
// noop or unreachable).
const backfillInterval = 5 * time.Minute

// maintenanceInterval drives local cache pruning and in-memory rate limit
// window cleanup.
const maintenanceInterval = time.Minute

// App is the Continuum server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg config.Config

	db  *storage.DB
	rdb *redis.Client // nil when Redis is not configured or unreachable
	srv *server.Server

	emb        *embedder.Service
	msgBatcher *batcher.Batcher
	hub        *notify.Hub
	index      *search.Index // nil when Qdrant is not configured

	dormant     *analyzers.Dormant
	staleness   *analyzers.Staleness
	assumptions *analyzers.Assumptions
	ontology    *analyzers.Ontology

	responses   *cache.Cache
	vectors     *cache.Cache
	entityCache *cache.Cache
	memLimiter  *ratelimit.Memory // nil unless the in-process limiter is active

	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Continuum server. It connects to Postgres, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	if o.exportDir != "" {
		cfg.ExportDir = o.exportDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("continuum starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, cfg.PoolMaxConns, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	fail := func(err error) (*App, error) {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}

	// Redis backs the shared cache tier and the distributed rate limiter.
	// An unreachable Redis degrades to in-process equivalents instead of
	// blocking startup.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		rdb = redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr := rdb.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("redis unreachable, using in-process caches and rate limiting", "error", pingErr)
			_ = rdb.Close()
			rdb = nil
		} else {
			logger.Info("redis: connected")
		}
	}

	responses := cache.New(rdb, cfg.LLMCacheTTL, logger)
	vectors := cache.New(rdb, cfg.EmbeddingCacheTTL, logger)
	entityCache := cache.New(rdb, cfg.EntityCacheTTL, logger)

	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.Memory
	switch {
	case !cfg.RateLimitEnabled:
		limiter = ratelimit.Noop{}
		logger.Info("rate limiting: disabled")
	case rdb != nil:
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow)
		logger.Info("rate limiting: redis (shared window)",
			"requests", cfg.RateLimitRequests, "window", cfg.RateLimitWindow)
	default:
		memLimiter = ratelimit.NewMemory(cfg.RateLimitRequests, cfg.RateLimitWindow)
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process window)",
			"requests", cfg.RateLimitRequests, "window", cfg.RateLimitWindow)
	}

	// The provider limiter shares its window across instances when Redis is
	// up; otherwise each instance throttles its own calls.
	var llmLimiter ratelimit.Limiter
	if rdb != nil {
		llmLimiter = ratelimit.NewRedis(rdb, cfg.LLMRateLimitRequests, cfg.LLMRateLimitWindow)
	} else {
		llmLimiter = ratelimit.NewMemory(cfg.LLMRateLimitRequests, cfg.LLMRateLimitWindow)
	}

	provider := llm.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	client := llm.NewClient(provider, cfg, responses, llmLimiter, logger)

	emb := embedder.NewService(newEmbeddingProvider(cfg, logger), cfg, vectors, logger)

	resolver := resolve.New(db, emb, entityCache, cfg, logger)
	writer := graph.NewWriter(db, resolver, emb, cfg, logger)
	extractor := extract.New(client, cfg, logger)
	evolution := graph.NewEvolution(db, extractor, cfg, logger)
	logParser := parser.New(time.Duration(cfg.EpisodeGapMinutes)*time.Minute, logger)

	msgBatcher := batcher.New(db, cfg.MessageBatchSize, cfg.MessageBatchTimeout, logger)

	hub := notify.NewHub(logger)
	notifySvc := notify.NewService(db, hub, logger)

	dormant := analyzers.NewDormant(db, notifySvc, cfg, logger)
	staleness := analyzers.NewStaleness(db, notifySvc, cfg, logger)
	assumptions := analyzers.NewAssumptions(db, notifySvc, cfg, logger)
	commits := analyzers.NewCommitLinker(db, notifySvc, cfg, logger)
	ontology := analyzers.NewOntology(db, cfg, logger)

	agentSvc := agent.New(db, writer, evolution, emb, cfg, logger)

	exporter := export.New(cfg.ExportDir, logger)
	if exporter.Enabled() {
		logger.Info("markdown export: enabled", "dir", cfg.ExportDir)
	}

	ingestSvc := ingest.New(db, logParser, extractor, writer, evolution, exporter, cfg, logger)

	// Qdrant is an optional read-side mirror; Postgres stays the source of
	// truth for every decision.
	var index *search.Index
	if cfg.QdrantURL != "" {
		index, err = search.NewIndex(search.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey.Value(),
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		if err := index.EnsureCollection(context.Background()); err != nil {
			_ = index.Close()
			return fail(fmt.Errorf("qdrant ensure collection: %w", err))
		}
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		DB:       db,
		Agent:    agentSvc,
		Writer:   writer,
		Resolver: resolver,
		Batcher:  msgBatcher,
		Ingest:   ingestSvc,
		Notify:   notifySvc,
		Hub:      hub,
		Commits:  commits,
		Dormant:  dormant,
		Exporter: exporter,
		Index:    index,
		Redis:    rdb,

		Logger:      logger,
		Version:     version,
		ReplayLimit: cfg.NotifyReplayLimit,
	})

	srv := server.New(server.Config{
		Handlers: handlers,
		Limiter:  limiter,
		App:      cfg,
		Logger:   logger,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		rdb:          rdb,
		srv:          srv,
		emb:          emb,
		msgBatcher:   msgBatcher,
		hub:          hub,
		index:        index,
		dormant:      dormant,
		staleness:    staleness,
		assumptions:  assumptions,
		ontology:     ontology,
		responses:    responses,
		vectors:      vectors,
		entityCache:  entityCache,
		memLimiter:   memLimiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.analyzerLoop(ctx)
	go a.backfillLoop(ctx)
	go a.maintenanceLoop(ctx)
	if a.db.HasNotifyConn() {
		go a.notifyListenLoop(ctx)
	} else {
		a.logger.Info("notify listener: disabled (no notify connection)")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush buffered capture messages to Postgres and close websockets,
// (3) close the vector index, Redis, OTEL provider, and database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("continuum shutting down")

	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownDrain)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownDrain)
	if err := a.msgBatcher.Shutdown(drainCtx); err != nil {
		a.logger.Error("message batcher drain incomplete — unflushed messages will be lost",
			"error", err)
	}
	drainCancel()

	a.hub.CloseAll()
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("continuum stopped")
	return nil
}

// ── Background loops ───────────────────────────────────────────────────────

// analyzerLoop sweeps the graph per user on a fixed interval: dormant
// alternatives, stale decisions, invalidated assumptions, then the shared
// alias ontology.
func (a *App) analyzerLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AnalyzerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			a.runAnalyzers(opCtx)
			cancel()
		}
	}
}

func (a *App) runAnalyzers(ctx context.Context) {
	users, err := a.db.DecisionUserIDs(ctx)
	if err != nil {
		a.logger.Warn("analyzers: user sweep failed", "error", err)
		return
	}

	for _, userID := range users {
		if alts, err := a.dormant.Scan(ctx, userID); err != nil {
			a.logger.Warn("analyzers: dormant scan failed", "user", userID, "error", err)
		} else if len(alts) > 0 {
			a.dormant.Notify(ctx, userID, alts)
		}

		if stale, err := a.staleness.Scan(ctx, userID, 50); err != nil {
			a.logger.Warn("analyzers: stale scan failed", "user", userID, "error", err)
		} else if len(stale) > 0 {
			a.staleness.Notify(ctx, userID, stale)
		}

		if n, err := a.assumptions.Scan(ctx, userID); err != nil {
			a.logger.Warn("analyzers: assumption scan failed", "user", userID, "error", err)
		} else if n > 0 {
			a.logger.Info("analyzers: invalidated assumptions flagged", "user", userID, "count", n)
		}
	}

	if n, err := a.ontology.Update(ctx); err != nil {
		a.logger.Warn("analyzers: ontology update failed", "error", err)
	} else if n > 0 {
		a.logger.Info("analyzers: ontology aliases learned", "count", n)
	}
}

// backfillLoop embeds decisions stored without a vector, e.g. rows written
// while the embedding provider was noop or unreachable, and mirrors the new
// vectors into Qdrant. Runs once at startup, then on a fixed interval.
func (a *App) backfillLoop(ctx context.Context) {
	a.backfillEmbeddings(ctx)

	ticker := time.NewTicker(backfillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.backfillEmbeddings(ctx)
		}
	}
}

func (a *App) backfillEmbeddings(ctx context.Context) {
	if !a.emb.Enabled() {
		return
	}

	decisions, err := a.db.DecisionsMissingEmbeddings(ctx, backfillBatchSize)
	if err != nil {
		a.logger.Warn("embedding backfill: lookup failed", "error", err)
		return
	}
	if len(decisions) == 0 {
		return
	}

	texts := make([]string, len(decisions))
	for i, d := range decisions {
		texts[i] = embedder.ComposeDecisionText(d, a.cfg)
	}
	vecs, err := a.emb.Embed(ctx, texts, embedder.InputPassage)
	if err != nil {
		a.logger.Warn("embedding backfill: embed failed", "error", err)
		return
	}

	var done []model.Decision
	for i := range decisions {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			continue
		}
		vec := pgvector.NewVector(vecs[i])
		if err := a.db.SetDecisionEmbedding(ctx, decisions[i].ID, vec); err != nil {
			a.logger.Warn("embedding backfill: store failed", "decision", decisions[i].ID, "error", err)
			continue
		}
		decisions[i].Embedding = &vec
		done = append(done, decisions[i])
	}

	if a.index != nil && len(done) > 0 {
		if err := a.index.Mirror(ctx, done); err != nil {
			a.logger.Warn("embedding backfill: qdrant mirror failed", "error", err)
		}
	}
	if len(done) > 0 {
		a.logger.Info("embedding backfill complete", "count", len(done))
	}
}

// maintenanceLoop prunes expired local cache entries and, when the in-process
// rate limiter is active, its expired windows.
func (a *App) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.responses.PruneLocal()
			a.vectors.PruneLocal()
			a.entityCache.PruneLocal()
			if a.memLimiter != nil {
				a.memLimiter.Prune()
			}
		}
	}
}

// notifyListenLoop consumes the Postgres notification channel and fans
// payloads out to this instance's websocket clients. Publishing goes through
// pg_notify so every instance, including the publisher's own, delivers from
// the same stream.
func (a *App) notifyListenLoop(ctx context.Context) {
	if err := a.db.Listen(ctx, storage.ChannelNotifications); err != nil {
		a.logger.Warn("notify listener: listen failed, realtime delivery is in-process only", "error", err)
		return
	}
	a.logger.Info("notify listener: started", "channel", storage.ChannelNotifications)

	for {
		channel, payload, err := a.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("notify listener: wait failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if channel != storage.ChannelNotifications {
			continue
		}
		var n model.Notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			a.logger.Warn("notify listener: bad payload", "error", err)
			continue
		}
		a.hub.Send(n.UserID, n)
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────

// newEmbeddingProvider selects the embedding backend. Auto mode prefers a
// reachable Ollama (embeddings stay on-premises), then the configured API
// provider, else noop with semantic search disabled.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedder.Provider {
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.EmbeddingAPIKey.Value() == "" {
			logger.Error("CONTINUUM_EMBEDDING_API_KEY required when CONTINUUM_EMBEDDING_PROVIDER=openai")
			return embedder.Noop{}
		}
		logger.Info("embedding provider: openai",
			"model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
		return embedder.NewOpenAI(cfg)
	case "ollama":
		logger.Info("embedding provider: ollama",
			"url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", cfg.EmbeddingDimensions)
		return embedder.NewOllama(cfg)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedder.Noop{}
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)",
				"url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", cfg.EmbeddingDimensions)
			return embedder.NewOllama(cfg)
		}
		if cfg.EmbeddingAPIKey.Value() != "" {
			logger.Info("embedding provider: openai (auto-detected)",
				"model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
			return embedder.NewOpenAI(cfg)
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedder.Noop{}
	}
}

// ollamaReachable checks whether an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
