package graph

import (
	"math"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/model"
)

func vec(vals ...float32) *pgvector.Vector {
	v := pgvector.NewVector(vals)
	return &v
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b *pgvector.Vector
		want float64
		ok   bool
	}{
		{"identical", vec(1, 2, 3), vec(1, 2, 3), 1, true},
		{"orthogonal", vec(1, 0), vec(0, 1), 0, true},
		{"opposite", vec(1, 0), vec(-1, 0), -1, true},
		{"nil side", nil, vec(1, 0), 0, false},
		{"dimension mismatch", vec(1, 0), vec(1, 0, 0), 0, false},
		{"zero vector", vec(0, 0), vec(1, 0), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := CosineSimilarity(tc.a, tc.b)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("similarity = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	a := vec(0.3, -0.7, 0.2, 0.9)
	b := vec(-0.1, 0.5, 0.8, 0.4)
	got, ok := CosineSimilarity(a, b)
	if !ok {
		t.Fatal("expected a result")
	}
	if got < -1 || got > 1 {
		t.Fatalf("similarity %f out of [-1,1]", got)
	}
}

func TestRejectedOptionsSkipChosen(t *testing.T) {
	d := model.Decision{
		AgentDecision: "Use PostgreSQL",
		Options:       []string{"  use postgresql ", "MySQL", "SQLite"},
	}
	got := d.RejectedOptions()
	if len(got) != 2 {
		t.Fatalf("expected 2 rejected options, got %v", got)
	}
	for _, opt := range got {
		if d.IsChosenOption(opt) {
			t.Fatalf("chosen option leaked into rejected set: %q", opt)
		}
	}
}

func TestInferredFilePathPattern(t *testing.T) {
	text := "we will refactor internal/server/middleware.go and keep config.yaml; see docs for details"
	got := inferredFilePath.FindAllString(text, -1)
	if len(got) != 2 {
		t.Fatalf("expected 2 paths, got %v", got)
	}
	if got[0] != "internal/server/middleware.go" || got[1] != "config.yaml" {
		t.Fatalf("paths: %v", got)
	}

	if inferredFilePath.MatchString("no file references here at all") {
		t.Fatal("plain prose should not match")
	}
}
