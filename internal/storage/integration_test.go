package storage_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
	"github.com/continuumhq/continuum/migrations"
)

const embeddingDims = 2048

// startPostgres launches a throwaway pgvector-enabled Postgres and returns
// its DSN. Skips when Docker is unavailable.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, -short set")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "pgvector/pgvector:pg16",
			Env: map[string]string{
				"POSTGRES_USER":     "continuum",
				"POSTGRES_PASSWORD": "continuum",
				"POSTGRES_DB":       "continuum",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://continuum:continuum@%s:%s/continuum?sslmode=disable", host, port.Port())
}

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	dsn := startPostgres(t)
	ctx := context.Background()

	db, err := storage.New(ctx, dsn, "", 4, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(context.Background()) })

	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

func TestStorageIntegration(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	const userID = "integration-user"

	t.Run("decision round trip", func(t *testing.T) {
		created, err := db.CreateDecision(ctx, model.Decision{
			UserID:         userID,
			Project:        "payments",
			Trigger:        "needed a message broker for order events",
			AgentDecision:  "use NATS JetStream for order events",
			AgentRationale: "at-least-once delivery with lower operational cost than Kafka",
			Options:        []string{"NATS JetStream", "Kafka", "RabbitMQ"},
			Confidence:     0.8,
			Scope:          model.ScopeArchitectural,
			Source:         model.SourceAPI,
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := db.GetDecision(ctx, userID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.AgentDecision, got.AgentDecision)
		assert.Equal(t, created.Options, got.Options)
		assert.Equal(t, model.ScopeArchitectural, got.Scope)

		got.AgentRationale = "JetStream also covers replay for the audit trail"
		updated, err := db.UpdateDecision(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, 1, updated.EditCount)
		assert.NotNil(t, updated.EditedAt)

		exists, err := db.DecisionExists(ctx, userID, created.AgentDecision, created.Trigger)
		require.NoError(t, err)
		assert.True(t, exists)

		n, err := db.CountDecisions(ctx, userID, "payments")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = db.GetDecision(ctx, userID, created.ID)
		require.NoError(t, err)
		_, err = db.GetDecision(ctx, "someone-else", created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("full text search with contains fallback", func(t *testing.T) {
		hits, err := db.SearchDecisionsFTS(ctx, userID, "message broker", "", 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Greater(t, hits[0].Score, 0.0)
		require.NotNil(t, hits[0].Decision)
		assert.Contains(t, hits[0].Decision.AgentDecision, "NATS")

		// Substring-only queries miss FTS but match the CONTAINS path.
		hits, err = db.SearchDecisionsContains(ctx, userID, "jetstr", "", 10)
		require.NoError(t, err)
		assert.NotEmpty(t, hits)
	})

	t.Run("search hits carry provenance and grounding", func(t *testing.T) {
		_, err := db.CreateDecision(ctx, model.Decision{
			UserID:        userID,
			Trigger:       "observability stack selection",
			AgentDecision: "standardize tracing on OpenTelemetry collectors",
			Source:        model.SourceClaudeLog,
			Provenance: model.Provenance{
				ExtractionMethod: "llm_structured",
				ModelName:        "test-model",
				PromptVersion:    "v3",
				SourceFile:       "logs/otel.jsonl",
			},
			Grounding: &model.Grounding{
				VerbatimDecision: "standardize tracing on OpenTelemetry collectors",
			},
		})
		require.NoError(t, err)

		hits, err := db.SearchDecisionsFTS(ctx, userID, "tracing collectors", "", 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		require.NotNil(t, hits[0].Decision)
		assert.Equal(t, "v3", hits[0].Decision.Provenance.PromptVersion)
		assert.Equal(t, "logs/otel.jsonl", hits[0].Decision.Provenance.SourceFile)
		require.NotNil(t, hits[0].Decision.Grounding)
		assert.Equal(t, "standardize tracing on OpenTelemetry collectors", hits[0].Decision.Grounding.VerbatimDecision)

		hits, err = db.SearchDecisionsContains(ctx, userID, "opentelemetry", "", 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "v3", hits[0].Decision.Provenance.PromptVersion)
	})

	t.Run("entities and involves edges", func(t *testing.T) {
		entity, err := db.CreateEntity(ctx, model.Entity{
			UserID:  userID,
			Name:    "NATS JetStream",
			Type:    model.EntityTechnology,
			Aliases: []string{"jetstream"},
		})
		require.NoError(t, err)

		byAlias, err := db.FindEntityByAlias(ctx, userID, "jetstream")
		require.NoError(t, err)
		assert.Equal(t, entity.ID, byAlias.ID)

		decision, err := db.CreateDecision(ctx, model.Decision{
			UserID:        userID,
			Trigger:       "stream retention policy",
			AgentDecision: "retain order streams for 30 days",
			Source:        model.SourceAPI,
		})
		require.NoError(t, err)

		require.NoError(t, db.CreateInvolvesEdge(ctx, model.InvolvesEdge{
			DecisionID: decision.ID,
			EntityID:   entity.ID,
			UserID:     userID,
			Role:       "subject",
		}))

		linked, err := db.DecisionEntities(ctx, userID, decision.ID)
		require.NoError(t, err)
		require.Len(t, linked, 1)
		assert.Equal(t, "NATS JetStream", linked[0].Name)

		decisions, err := db.EntityDecisions(ctx, userID, entity.ID, 10)
		require.NoError(t, err)
		require.Len(t, decisions, 1)
		assert.Equal(t, decision.ID, decisions[0].ID)
	})

	t.Run("vector similarity", func(t *testing.T) {
		near, err := db.CreateDecision(ctx, model.Decision{
			UserID:        userID,
			Trigger:       "cache eviction policy",
			AgentDecision: "use LRU eviction in the edge cache",
			Source:        model.SourceAPI,
		})
		require.NoError(t, err)
		far, err := db.CreateDecision(ctx, model.Decision{
			UserID:        userID,
			Trigger:       "frontend framework",
			AgentDecision: "build the dashboard with HTMX",
			Source:        model.SourceAPI,
		})
		require.NoError(t, err)

		require.NoError(t, db.SetDecisionEmbedding(ctx, near.ID, pgvector.NewVector(unitVector(0))))
		require.NoError(t, db.SetDecisionEmbedding(ctx, far.ID, pgvector.NewVector(unitVector(1))))

		hits, err := db.FindSimilarDecisionsByEmbedding(ctx, userID, pgvector.NewVector(unitVector(0)), "", 0.5, 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, near.ID, hits[0].DecisionID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
		for _, h := range hits {
			assert.NotEqual(t, far.ID, h.DecisionID)
		}
	})

	t.Run("notifications", func(t *testing.T) {
		stored, err := db.CreateNotification(ctx, model.Notification{
			UserID:  userID,
			Type:    model.NotifyStaleDecision,
			Title:   "Decision may be stale",
			Body:    "review window passed",
			Payload: map[string]any{"decision_id": "x"},
		})
		require.NoError(t, err)

		unread, err := db.UnreadNotifications(ctx, userID, 10)
		require.NoError(t, err)
		require.Len(t, unread, 1)
		assert.Equal(t, stored.ID, unread[0].ID)

		require.NoError(t, db.MarkNotificationRead(ctx, userID, stored.ID))
		unread, err = db.UnreadNotifications(ctx, userID, 10)
		require.NoError(t, err)
		assert.Empty(t, unread)
	})

	t.Run("processed file ledger", func(t *testing.T) {
		hash := storage.HashContent([]byte("log body"))
		done, err := db.FileProcessed(ctx, userID, "logs/a.jsonl", hash)
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, db.RecordProcessedFile(ctx, model.ProcessedFile{
			UserID:      userID,
			Path:        "logs/a.jsonl",
			ContentHash: hash,
		}))

		done, err = db.FileProcessed(ctx, userID, "logs/a.jsonl", hash)
		require.NoError(t, err)
		assert.True(t, done)

		// Changed content means the file must be reprocessed.
		done, err = db.FileProcessed(ctx, userID, "logs/a.jsonl", storage.HashContent([]byte("new body")))
		require.NoError(t, err)
		assert.False(t, done)
	})
}

// unitVector returns a unit-length embedding pointing along the given axis.
func unitVector(axis int) []float32 {
	v := make([]float32, embeddingDims)
	v[axis] = 1
	return v
}
