package resolve

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/embedder"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// fakeStore records every lookup so tests can assert stage order.
type fakeStore struct {
	entities map[string]model.Entity // canonical name, case-folded key
	aliases  map[string]model.Entity // alias-field index
	mappings map[string]string       // dynamic alias dictionary
	similar  []model.Entity
	sims     []float64
	created  []model.Entity
	calls    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: map[string]model.Entity{},
		aliases:  map[string]model.Entity{},
		mappings: map[string]string{},
	}
}

func (f *fakeStore) add(name string, typ model.EntityType) model.Entity {
	e := model.Entity{ID: uuid.New(), Name: name, Type: typ}
	f.entities[strings.ToLower(name)] = e
	return e
}

func (f *fakeStore) FindEntityByName(_ context.Context, _, name string) (model.Entity, error) {
	f.calls = append(f.calls, "name:"+name)
	if e, ok := f.entities[strings.ToLower(name)]; ok {
		return e, nil
	}
	return model.Entity{}, storage.ErrNotFound
}

func (f *fakeStore) FindEntityByAlias(_ context.Context, _, alias string) (model.Entity, error) {
	f.calls = append(f.calls, "alias:"+alias)
	if e, ok := f.aliases[strings.ToLower(alias)]; ok {
		return e, nil
	}
	return model.Entity{}, storage.ErrNotFound
}

func (f *fakeStore) EntityNamesForFuzzy(_ context.Context, _ string) (map[uuid.UUID]string, error) {
	f.calls = append(f.calls, "fuzzy-names")
	out := map[uuid.UUID]string{}
	for _, e := range f.entities {
		out[e.ID] = e.Name
	}
	return out, nil
}

func (f *fakeStore) FindSimilarEntitiesByEmbedding(_ context.Context, _ string, _ pgvector.Vector, _ int) ([]model.Entity, []float64, error) {
	f.calls = append(f.calls, "embedding-search")
	return f.similar, f.sims, nil
}

func (f *fakeStore) LookupAliasMapping(_ context.Context, alias string) (string, bool, error) {
	f.calls = append(f.calls, "mapping:"+alias)
	c, ok := f.mappings[alias]
	return c, ok, nil
}

func (f *fakeStore) CreateEntity(_ context.Context, e model.Entity) (model.Entity, error) {
	f.calls = append(f.calls, "create:"+e.Name)
	e.ID = uuid.New()
	f.created = append(f.created, e)
	f.entities[strings.ToLower(e.Name)] = e
	return e, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Enabled() bool { return true }

func (f *fakeEmbedder) EmbedOne(context.Context, string, embedder.InputType) ([]float32, error) {
	return f.vec, f.err
}

func resolverConfig() config.Config {
	return config.Config{
		FuzzyMatchThreshold:     0.85,
		EmbeddingMatchThreshold: 0.90,
		EntityCacheTTL:          time.Minute,
	}
}

func newTestResolver(store *fakeStore, emb Embedder, entities *cache.Cache) *Resolver {
	return New(store, emb, entities, resolverConfig(), slog.New(slog.DiscardHandler))
}

func TestResolveExactStage(t *testing.T) {
	store := newFakeStore()
	want := store.add("PostgreSQL", model.EntityTechnology)
	r := newTestResolver(store, nil, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "PostgreSQL"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageExact {
		t.Fatalf("stage = %q, want exact", res.Stage)
	}
	if res.EntityID != want.ID || res.CanonicalName != "PostgreSQL" {
		t.Fatalf("resolution = %+v", res)
	}
	if len(store.calls) != 1 || store.calls[0] != "name:PostgreSQL" {
		t.Fatalf("exact hit should stop after one lookup, calls = %v", store.calls)
	}
}

func TestResolveCanonicalAliasStage(t *testing.T) {
	store := newFakeStore()
	want := store.add("Kubernetes", model.EntityTechnology)
	r := newTestResolver(store, nil, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "k8s"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageCanonical {
		t.Fatalf("stage = %q, want canonical", res.Stage)
	}
	if res.EntityID != want.ID {
		t.Fatalf("resolved to %q", res.CanonicalName)
	}
}

func TestResolveDynamicAliasMapping(t *testing.T) {
	store := newFakeStore()
	want := store.add("NATS JetStream", model.EntityTechnology)
	store.mappings["jstream"] = "NATS JetStream"
	r := newTestResolver(store, nil, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "jstream"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageCanonical || res.EntityID != want.ID {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestResolveAliasListStage(t *testing.T) {
	store := newFakeStore()
	e := store.add("PostgreSQL", model.EntityTechnology)
	store.aliases["the pg database"] = e
	r := newTestResolver(store, nil, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "the pg database"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageAliasList || res.EntityID != e.ID {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestResolveFuzzyStage(t *testing.T) {
	store := newFakeStore()
	want := store.add("Postgres", model.EntityTechnology)
	r := newTestResolver(store, nil, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "Postgre"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageFuzzy || res.EntityID != want.ID {
		t.Fatalf("resolution = %+v", res)
	}
	// Every earlier stage must have been consulted first.
	joined := strings.Join(store.calls, ",")
	for _, probe := range []string{"name:", "alias:", "fuzzy-names"} {
		if !strings.Contains(joined, probe) {
			t.Fatalf("missing %q in call order %v", probe, store.calls)
		}
	}
}

func TestResolveEmbeddingStage(t *testing.T) {
	store := newFakeStore()
	match := store.add("Apache Kafka", model.EntityTechnology)
	store.similar = []model.Entity{match}
	store.sims = []float64{0.95}
	r := newTestResolver(store, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "the event log broker"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageEmbedding || res.EntityID != match.ID {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestResolveCreateStage(t *testing.T) {
	store := newFakeStore()
	store.similar = []model.Entity{store.add("Apache Kafka", model.EntityTechnology)}
	store.sims = []float64{0.5} // below the embedding threshold
	r := newTestResolver(store, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "Temporal", Type: model.EntityTechnology})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Stage != model.StageCreated {
		t.Fatalf("stage = %q, want created", res.Stage)
	}
	if len(store.created) != 1 || store.created[0].Name != "Temporal" {
		t.Fatalf("created = %+v", store.created)
	}
}

func TestResolveEmbeddingFailureFallsThroughToCreate(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store, &fakeEmbedder{err: errors.New("provider down")}, nil)

	res, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "Temporal"})
	if err != nil {
		t.Fatalf("embedding failure must not abort resolution: %v", err)
	}
	if res.Stage != model.StageCreated {
		t.Fatalf("stage = %q, want created", res.Stage)
	}
}

func TestResolveCachedResolutionSkipsStore(t *testing.T) {
	store := newFakeStore()
	store.add("PostgreSQL", model.EntityTechnology)
	entities := cache.New(nil, time.Minute, slog.New(slog.DiscardHandler))
	r := newTestResolver(store, nil, entities)

	first, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "PostgreSQL"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lookups := len(store.calls)

	second, err := r.Resolve(context.Background(), "u1", model.EntityMention{Name: "postgresql"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(store.calls) != lookups {
		t.Fatalf("cached resolution should not touch the store, calls = %v", store.calls)
	}
	if second.EntityID != first.EntityID || second.Stage != first.Stage {
		t.Fatalf("cached resolution diverged: %+v vs %+v", second, first)
	}
}

func TestSimilarityRatio(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"postgres", "postgres", 1, 1},
		{"Postgres", "postgres", 1, 1},
		{"postgres", "postgre", 0.85, 0.99},
		{"postgres", "mysql", 0, 0.3},
		{"", "", 0, 0},
		{"react", "preact", 0.8, 0.9},
	}
	for _, tc := range cases {
		got := similarityRatio(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("similarityRatio(%q, %q) = %f, want [%f, %f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestSimilarityRatioBounds(t *testing.T) {
	pairs := [][2]string{
		{"a", "completely different long string"},
		{"x", ""},
		{"kubernetes", "k8s"},
	}
	for _, p := range pairs {
		got := similarityRatio(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("similarityRatio(%q, %q) = %f out of [0,1]", p[0], p[1], got)
		}
	}
}

func TestStaticAliasesFold(t *testing.T) {
	if staticAliases["postgres"] != "PostgreSQL" {
		t.Fatal("postgres should map to PostgreSQL")
	}
	if staticAliases["k8s"] != "Kubernetes" {
		t.Fatal("k8s should map to Kubernetes")
	}
	// All keys are stored lowercase; lookups case-fold before consulting.
	for k := range staticAliases {
		if k != strings.ToLower(k) {
			t.Fatalf("alias key %q is not lowercase", k)
		}
	}
}
