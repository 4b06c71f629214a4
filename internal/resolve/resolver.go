// Package resolve maps free-text entity mentions to canonical graph nodes
// through six ordered stages, first match wins: exact name, canonical alias
// dictionary, alias-field search, fuzzy match, embedding similarity, create.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
	"github.com/continuumhq/continuum/internal/telemetry"
)

// Store is the graph surface the resolver reads and writes. Satisfied by
// *storage.DB.
type Store interface {
	FindEntityByName(ctx context.Context, userID, name string) (model.Entity, error)
	FindEntityByAlias(ctx context.Context, userID, alias string) (model.Entity, error)
	EntityNamesForFuzzy(ctx context.Context, userID string) (map[uuid.UUID]string, error)
	FindSimilarEntitiesByEmbedding(ctx context.Context, userID string, emb pgvector.Vector, limit int) ([]model.Entity, []float64, error)
	LookupAliasMapping(ctx context.Context, alias string) (string, bool, error)
	CreateEntity(ctx context.Context, e model.Entity) (model.Entity, error)
}

// Embedder produces query and passage vectors for the embedding stage.
// Satisfied by *embedder.Service.
type Embedder interface {
	Enabled() bool
	EmbedOne(ctx context.Context, text string, inputType embedder.InputType) ([]float32, error)
}

// Resolver resolves mentions against the graph. Deterministic for a given
// graph and cache state.
type Resolver struct {
	db       Store
	embedder Embedder
	cache    *cache.Cache
	cfg      config.Config
	logger   *slog.Logger
}

// New creates a resolver. entities cache and emb may be nil.
func New(db Store, emb Embedder, entities *cache.Cache, cfg config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{db: db, embedder: emb, cache: entities, cfg: cfg, logger: logger}
}

// Resolve maps one mention to a canonical entity, creating it when no stage
// matches. The returned Resolution names the stage for telemetry.
func (r *Resolver) Resolve(ctx context.Context, userID string, mention model.EntityMention) (model.Resolution, error) {
	name := strings.TrimSpace(mention.Name)
	if name == "" {
		return model.Resolution{}, fmt.Errorf("resolve: empty mention")
	}
	normalized := strings.ToLower(name)

	// Cache short-circuits the exact and alias stages.
	if res, ok := r.cachedResolution(ctx, userID, normalized); ok {
		return res, nil
	}

	// Stage 1: exact canonical name.
	if e, err := r.db.FindEntityByName(ctx, userID, name); err == nil {
		return r.hit(ctx, userID, normalized, e, model.StageExact), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.Resolution{}, err
	}

	// Stage 2: alias dictionary (static, then dynamic), retrying stage 1
	// under the canonical spelling.
	if canonical := r.lookupAlias(ctx, normalized); canonical != "" {
		if e, err := r.db.FindEntityByName(ctx, userID, canonical); err == nil {
			return r.hit(ctx, userID, normalized, e, model.StageCanonical), nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return model.Resolution{}, err
		}
		// The dictionary knows the canonical spelling even though no node
		// exists yet; create under it so future mentions converge.
		name = canonical
	}

	// Stage 3: alias-field search.
	if e, err := r.db.FindEntityByAlias(ctx, userID, name); err == nil {
		return r.hit(ctx, userID, normalized, e, model.StageAliasList), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.Resolution{}, err
	}

	// Stage 4: fuzzy match over canonical names.
	if e, ok, err := r.fuzzyMatch(ctx, userID, name); err != nil {
		return model.Resolution{}, err
	} else if ok {
		return r.hit(ctx, userID, normalized, e, model.StageFuzzy), nil
	}

	// Stage 5: embedding similarity.
	if e, ok, err := r.embeddingMatch(ctx, userID, mention); err != nil {
		r.logger.Warn("resolve: embedding stage failed, continuing to create",
			"mention", name, "error", err)
	} else if ok {
		return r.hit(ctx, userID, normalized, e, model.StageEmbedding), nil
	}

	// Stage 6: create.
	e, err := r.createEntity(ctx, userID, name, mention.Type)
	if err != nil {
		return model.Resolution{}, err
	}
	return r.hit(ctx, userID, normalized, e, model.StageCreated), nil
}

// fuzzyMatch compares the mention to every reachable canonical name using a
// normalized character-level Levenshtein ratio.
func (r *Resolver) fuzzyMatch(ctx context.Context, userID, name string) (model.Entity, bool, error) {
	names, err := r.db.EntityNamesForFuzzy(ctx, userID)
	if err != nil {
		return model.Entity{}, false, err
	}

	best := r.cfg.FuzzyMatchThreshold
	var bestName string
	found := false
	for _, candidate := range names {
		if ratio := similarityRatio(name, candidate); ratio >= best {
			best = ratio
			bestName = candidate
			found = true
			if ratio == 1 {
				break
			}
		}
	}
	if !found {
		return model.Entity{}, false, nil
	}
	e, err := r.db.FindEntityByName(ctx, userID, bestName)
	if err != nil {
		return model.Entity{}, false, err
	}
	return e, true, nil
}

// similarityRatio is 1 - distance/maxLen over case-folded input, in [0,1].
func similarityRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

func (r *Resolver) embeddingMatch(ctx context.Context, userID string, mention model.EntityMention) (model.Entity, bool, error) {
	if r.embedder == nil || !r.embedder.Enabled() {
		return model.Entity{}, false, nil
	}
	vec, err := r.embedder.EmbedOne(ctx,
		embedder.ComposeEntityText(model.Entity{Name: mention.Name, Type: mention.Type}),
		embedder.InputQuery)
	if err != nil {
		return model.Entity{}, false, err
	}
	entities, sims, err := r.db.FindSimilarEntitiesByEmbedding(ctx, userID, pgvector.NewVector(vec), 1)
	if err != nil {
		return model.Entity{}, false, err
	}
	if len(entities) > 0 && sims[0] >= r.cfg.EmbeddingMatchThreshold {
		return entities[0], true, nil
	}
	return model.Entity{}, false, nil
}

func (r *Resolver) createEntity(ctx context.Context, userID, name string, typ model.EntityType) (model.Entity, error) {
	e := model.Entity{UserID: userID, Name: name, Type: typ}
	if r.embedder != nil && r.embedder.Enabled() {
		if vec, err := r.embedder.EmbedOne(ctx, embedder.ComposeEntityText(e), embedder.InputPassage); err == nil {
			v := pgvector.NewVector(vec)
			e.Embedding = &v
		} else {
			r.logger.Warn("resolve: entity embedding failed", "name", name, "error", err)
		}
	}
	created, err := r.db.CreateEntity(ctx, e)
	if err != nil {
		return model.Entity{}, err
	}
	return created, nil
}

// lookupAlias consults the static dictionary first, then the dynamic one.
func (r *Resolver) lookupAlias(ctx context.Context, normalized string) string {
	if canonical, ok := staticAliases[normalized]; ok {
		return canonical
	}
	canonical, ok, err := r.db.LookupAliasMapping(ctx, normalized)
	if err != nil {
		r.logger.Warn("resolve: dynamic alias lookup failed", "alias", normalized, "error", err)
		return ""
	}
	if ok {
		return canonical
	}
	return ""
}

// ── Resolution cache ───────────────────────────────────────────────────────────

func (r *Resolver) cachedResolution(ctx context.Context, userID, normalized string) (model.Resolution, bool) {
	if r.cache == nil {
		return model.Resolution{}, false
	}
	v, ok, err := r.cache.Get(ctx, cache.Key(userID, "resolve", normalized))
	if err != nil || !ok {
		return model.Resolution{}, false
	}
	parts := strings.SplitN(v, "|", 3)
	if len(parts) != 3 {
		return model.Resolution{}, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return model.Resolution{}, false
	}
	return model.Resolution{
		EntityID:      id,
		CanonicalName: parts[1],
		Stage:         model.ResolutionStage(parts[2]),
	}, true
}

func (r *Resolver) hit(ctx context.Context, userID, normalized string, e model.Entity, stage model.ResolutionStage) model.Resolution {
	res := model.Resolution{EntityID: e.ID, CanonicalName: e.Name, Stage: stage}
	telemetry.ResolutionsByStage().Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", string(stage))))
	if r.cache != nil {
		r.cache.Set(ctx, cache.Key(userID, "resolve", normalized),
			res.EntityID.String()+"|"+res.CanonicalName+"|"+string(res.Stage),
			r.cfg.EntityCacheTTL)
	}
	return res
}

// InvalidateEntity flushes every cached resolution for the user. Called on
// entity create/update/delete so renames are seen immediately.
func (r *Resolver) InvalidateEntity(ctx context.Context, userID string) {
	if r.cache != nil {
		r.cache.InvalidatePrefix(ctx, "continuum:resolve:"+userID+":")
	}
}
