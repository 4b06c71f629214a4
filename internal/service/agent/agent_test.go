package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

func result(id uuid.UUID, score float64) model.SearchResult {
	return model.SearchResult{DecisionID: id, Score: score}
}

func TestMergeResultsCombinesBothSides(t *testing.T) {
	shared := uuid.New()
	lexOnly := uuid.New()
	vecOnly := uuid.New()

	lexical := []model.SearchResult{result(shared, 0.8), result(lexOnly, 0.4)}
	vector := []model.SearchResult{result(shared, 0.9), result(vecOnly, 0.7)}

	merged := mergeResults(lexical, vector)
	if len(merged) != 3 {
		t.Fatalf("merged %d results, want 3", len(merged))
	}
	// The shared hit scores from both sides and must rank first.
	if merged[0].DecisionID != shared {
		t.Fatalf("top result %v, want shared hit %v", merged[0].DecisionID, shared)
	}
	// lexical normalized: 0.8/0.8=1.0 -> 0.4; plus vector 0.6*0.9=0.54.
	want := 0.4 + 0.54
	if diff := merged[0].Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("shared score %.4f, want %.4f", merged[0].Score, want)
	}
}

func TestMergeResultsContainsFallbackDecaysByPosition(t *testing.T) {
	// Substring fallback reports score 0 for every hit; earlier hits must
	// still outrank later ones.
	a, b := uuid.New(), uuid.New()
	merged := mergeResults([]model.SearchResult{result(a, 0), result(b, 0)}, nil)
	if merged[0].DecisionID != a {
		t.Fatal("first fallback hit should rank first")
	}
	if merged[0].Score <= merged[1].Score {
		t.Fatalf("scores not decaying: %.3f vs %.3f", merged[0].Score, merged[1].Score)
	}
}

func TestMergeResultsEmptySides(t *testing.T) {
	if got := mergeResults(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
	id := uuid.New()
	got := mergeResults(nil, []model.SearchResult{result(id, 0.5)})
	if len(got) != 1 || got[0].Score != 0.3 {
		t.Fatalf("vector-only merge: %+v", got)
	}
}

func TestRerankPromotesTermCoverage(t *testing.T) {
	d1 := &model.Decision{AgentDecision: "Adopt connection pooling for the ingest path"}
	d2 := &model.Decision{AgentDecision: "Use structured logging everywhere"}

	results := []model.SearchResult{
		{DecisionID: uuid.New(), Score: 0.60, Decision: d2},
		{DecisionID: uuid.New(), Score: 0.55, Decision: d1},
	}
	got := rerank("connection pooling ingest", results, 10)
	if got[0].Decision != d1 {
		t.Fatalf("expected coverage match promoted, got %q", got[0].Decision.AgentDecision)
	}
}

func TestRerankOnlyTouchesTopK(t *testing.T) {
	tail := model.SearchResult{DecisionID: uuid.New(), Score: 0.1,
		Decision: &model.Decision{AgentDecision: "exact query words here"}}
	results := []model.SearchResult{
		{DecisionID: uuid.New(), Score: 0.9, Decision: &model.Decision{AgentDecision: "unrelated"}},
		{DecisionID: uuid.New(), Score: 0.8, Decision: &model.Decision{AgentDecision: "unrelated"}},
		tail,
	}
	got := rerank("exact query words", results, 2)
	if got[2].DecisionID != tail.DecisionID {
		t.Fatal("hits beyond top K must keep position")
	}
	if got[2].Score != 0.1 {
		t.Fatal("hits beyond top K must keep score")
	}
}

func TestTermCoverage(t *testing.T) {
	cases := []struct {
		query, text string
		want        float64
	}{
		{"postgres sharding", "We shard Postgres by tenant", 0.5},
		{"postgres", "Postgres everywhere", 1},
		{"a of to", "anything", 0}, // All terms under the length floor.
		{"redis", "no match", 0},
	}
	for _, tc := range cases {
		if got := termCoverage(tc.query, tc.text); got != tc.want {
			t.Errorf("termCoverage(%q, %q) = %.2f, want %.2f", tc.query, tc.text, got, tc.want)
		}
	}
}

func TestVerdictEscalation(t *testing.T) {
	d := model.Decision{ID: uuid.New()}
	cases := []struct {
		name           string
		similar        []model.Decision
		contradictions []model.Decision
		want           model.CheckVerdict
	}{
		{"nothing found", nil, nil, model.VerdictProceed},
		{"similar only", []model.Decision{d}, nil, model.VerdictReviewSimilar},
		{"contradiction", []model.Decision{d}, []model.Decision{d}, model.VerdictResolveContradiction},
	}
	for _, tc := range cases {
		if got := verdict(tc.similar, tc.contradictions); got != tc.want {
			t.Errorf("%s: verdict = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseScope(t *testing.T) {
	cases := map[string]model.Scope{
		"tactical":      model.ScopeTactical,
		" Strategic ":   model.ScopeStrategic,
		"ARCHITECTURAL": model.ScopeArchitectural,
		"":              model.ScopeUnknown,
		"bogus":         model.ScopeUnknown,
	}
	for in, want := range cases {
		if got := parseScope(in); got != want {
			t.Errorf("parseScope(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRenderContextMarkdownStableLayout(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	results := []ContextResult{{
		Decision: model.Decision{
			AgentDecision:  "Use Postgres for the event store",
			Trigger:        "Event volume outgrew SQLite",
			AgentRationale: "Need concurrent writers",
			Options:        []string{"Use Postgres for the event store", "MongoDB"},
			Confidence:     0.82,
			Scope:          model.ScopeArchitectural,
			Project:        "ingest",
			CreatedAt:      created,
		},
		Score:    0.91,
		Entities: []model.Entity{{Name: "PostgreSQL"}, {Name: "SQLite"}},
		Files:    []string{"internal/store/store.go"},
	}}

	got := renderContextMarkdown("event store", results)

	for _, want := range []string{
		"# Decision context: event store",
		"## Use Postgres for the event store",
		"- **Score:** 0.91",
		"- **Confidence:** 0.82",
		"- **Scope:** architectural",
		"- **Date:** 2026-03-14",
		"- **Project:** ingest",
		"**Trigger:** Event volume outgrew SQLite",
		"**Rationale:** Need concurrent writers",
		"- MongoDB",
		"**Entities:** PostgreSQL, SQLite",
		"**Files:** internal/store/store.go",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q\n%s", want, got)
		}
	}
	// The chosen option never appears in the rejected list.
	if strings.Contains(got, "- Use Postgres for the event store\n") {
		t.Error("chosen option listed as rejected")
	}

	// Rendering twice yields identical output.
	if again := renderContextMarkdown("event store", results); again != got {
		t.Error("markdown rendering is not deterministic")
	}
}

func TestRenderContextMarkdownEmpty(t *testing.T) {
	got := renderContextMarkdown("anything", nil)
	if !strings.Contains(got, "No prior decisions found.") {
		t.Fatalf("empty render: %q", got)
	}
}
