package export

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/continuumhq/continuum/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func sampleDecision() model.Decision {
	return model.Decision{
		AgentDecision:  "Cache resolution results in Redis",
		Trigger:        "Entity resolution dominated request latency",
		Context:        "Resolution runs six stages per mention",
		AgentRationale: "Hot mentions repeat across sessions",
		Options:        []string{"Cache resolution results in Redis", "Precompute nightly"},
		Confidence:     0.77,
		Scope:          model.ScopeStrategic,
		Grounding:      &model.Grounding{VerbatimDecision: "let's just cache it in redis"},
		CreatedAt:      time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC),
	}
}

func TestWriteConversationCreatesBothFiles(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, testLogger())

	conv := model.Conversation{
		Project:          "billing",
		SessionTimestamp: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
		SourceFile:       "session.jsonl",
	}
	if err := e.WriteConversation(conv, []model.Decision{sampleDecision()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	convFile := filepath.Join(dir, "billing", "2026-05-02T10-00-00.md")
	raw, err := os.ReadFile(convFile)
	if err != nil {
		t.Fatalf("conversation file: %v", err)
	}
	for _, want := range []string{
		"# Conversation 2026-05-02T10:00:00Z",
		"Source: `session.jsonl`",
		"## Cache resolution results in Redis",
		"- [x] Cache resolution results in Redis",
		"- [ ] Precompute nightly",
		"> let's just cache it in redis",
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("conversation file missing %q", want)
		}
	}

	log, err := os.ReadFile(filepath.Join(dir, "billing", "DECISIONS.md"))
	if err != nil {
		t.Fatalf("decisions log: %v", err)
	}
	if !strings.HasPrefix(string(log), "# Decisions\n\n") {
		t.Error("decisions log missing header")
	}
	if !strings.Contains(string(log), "**Trigger:** Entity resolution dominated request latency") {
		t.Error("decisions log missing record")
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, testLogger())

	if err := e.Append("infra", []model.Decision{sampleDecision()}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, "infra", "DECISIONS.md"))

	second := sampleDecision()
	second.AgentDecision = "Move limiter counters to Redis"
	if err := e.Append("infra", []model.Decision{second}); err != nil {
		t.Fatalf("second append: %v", err)
	}
	log, _ := os.ReadFile(filepath.Join(dir, "infra", "DECISIONS.md"))

	// Existing content is untouched; the header appears exactly once.
	if !strings.HasPrefix(string(log), string(first)) {
		t.Error("append modified existing content")
	}
	if strings.Count(string(log), "# Decisions\n") != 1 {
		t.Error("header written more than once")
	}
	if !strings.Contains(string(log), "## Move limiter counters to Redis") {
		t.Error("second record missing")
	}
}

func TestDisabledExporterIsNoop(t *testing.T) {
	e := New("", testLogger())
	if e.Enabled() {
		t.Fatal("empty dir should disable export")
	}
	if err := e.Append("p", []model.Decision{sampleDecision()}); err != nil {
		t.Fatalf("disabled append: %v", err)
	}
	if err := e.WriteConversation(model.Conversation{Project: "p"}, []model.Decision{sampleDecision()}); err != nil {
		t.Fatalf("disabled write: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"billing":        "billing",
		"my project":     "my-project",
		"../../etc":      "etc",
		"":               "default",
		"weird/..chars!": "weird-..chars",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderDecisionDeterministic(t *testing.T) {
	d := sampleDecision()
	if renderDecision(d) != renderDecision(d) {
		t.Fatal("rendering is not deterministic")
	}
}
