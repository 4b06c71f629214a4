// Package search holds the optional external vector index. Postgres remains
// the source of truth; Qdrant, when configured, mirrors decision embeddings
// for faster neighbor queries on large graphs.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/continuumhq/continuum/internal/model"
)

// Config holds the Qdrant connection settings.
type Config struct {
	URL        string // "https://host:6333" or "host:6334"
	APIKey     string
	Collection string
	Dims       uint64
}

// Hit is one scored neighbor from the index.
type Hit struct {
	DecisionID uuid.UUID
	Score      float32
}

// Index mirrors decision embeddings into a Qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // *error; inner error may be nil
	healthAt    atomic.Int64 // unix nanos of the last check
}

// parseURL extracts host, port, and TLS from a Qdrant URL. The REST port 6333
// is rewritten to the gRPC port 6334.
func parseURL(raw string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", raw)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", p)
		}
		if n != 6333 {
			port = n
		}
	}
	return host, port, useTLS, nil
}

// NewIndex connects to Qdrant over gRPC.
func NewIndex(cfg Config, logger *slog.Logger) (*Index, error) {
	host, port, useTLS, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &Index{client: client, collection: cfg.Collection, dims: cfg.Dims, logger: logger}, nil
}

// EnsureCollection creates the collection if missing and backfills payload
// indexes. CreateFieldIndex is idempotent on Qdrant, so the index loop always
// runs.
func (q *Index) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection: %w", err)
	}
	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("search: created qdrant collection",
			"collection", q.collection, "dims", q.dims)
	}

	keyword := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"user_id", "project", "scope"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keyword,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q: %w", field, err)
		}
	}
	float := qdrant.FieldType_FieldTypeFloat
	for _, field := range []string{"confidence", "created_unix"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &float,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q: %w", field, err)
		}
	}
	return nil
}

// Mirror upserts decisions that carry embeddings. Decisions without one are
// skipped silently; the Postgres backfill loop will resubmit them.
func (q *Index) Mirror(ctx context.Context, decisions []model.Decision) error {
	var points []*qdrant.PointStruct
	for _, d := range decisions {
		if d.Embedding == nil {
			continue
		}
		payload := map[string]any{
			"user_id":      d.UserID,
			"scope":        string(d.Scope),
			"confidence":   d.Confidence,
			"created_unix": float64(d.CreatedAt.Unix()),
		}
		if d.Project != "" {
			payload["project"] = d.Project
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(d.ID.String()),
			Vectors: qdrant.NewVectorsDense(d.Embedding.Slice()),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// Similar returns the nearest decisions for the user, optionally scoped to a
// project. Tenant isolation is a hard filter, matching the Postgres path.
func (q *Index) Similar(ctx context.Context, userID string, embedding []float32, project string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	must := []*qdrant.Condition{qdrant.NewMatch("user_id", userID)}
	if project != "" {
		must = append(must, qdrant.NewMatch("project", project))
	}

	fetch := uint64(limit)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &fetch,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			q.logger.Warn("search: non-uuid point id in qdrant", "id", idStr)
			continue
		}
		hits = append(hits, Hit{DecisionID: id, Score: sp.Score})
	}
	return hits, nil
}

// Remove deletes mirrored points, for decision deletion.
func (q *Index) Remove(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		return fmt.Errorf("search: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// Healthy reports reachability. Results are cached for 5 seconds and
// concurrent checks collapse into one gRPC call via singleflight.
func (q *Index) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Detached context: singleflight reuses the first caller's context, and a
	// cancelled first caller would poison the shared result.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := q.client.HealthCheck(checkCtx); err != nil {
			q.storeHealthErr(fmt.Errorf("search: qdrant unhealthy: %w", err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

func (q *Index) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

func (q *Index) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the gRPC connection.
func (q *Index) Close() error {
	return q.client.Close()
}
