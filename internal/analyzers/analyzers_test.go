package analyzers

import (
	"math"
	"testing"

	"github.com/continuumhq/continuum/internal/model"
)

func TestJaccard(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"a.go", "b.go"}, []string{"a.go", "b.go"}, 1},
		{"disjoint", []string{"a.go"}, []string{"b.go"}, 0},
		{"partial", []string{"a.go", "b.go", "c.go"}, []string{"b.go", "c.go", "d.go"}, 0.5},
		{"both empty", nil, nil, 0},
		{"one empty", []string{"a.go"}, nil, 0},
		{"duplicates collapse", []string{"a.go", "a.go"}, []string{"a.go"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Jaccard(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("jaccard = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestReconsiderScore(t *testing.T) {
	// Year-old rejection with zero confidence is the ceiling.
	if got := ReconsiderScore(365, 0); math.Abs(got-1) > 1e-9 {
		t.Fatalf("ceiling = %f, want 1", got)
	}
	// Age saturates at one year.
	if ReconsiderScore(1000, 0.5) != ReconsiderScore(365, 0.5) {
		t.Fatal("age score should saturate at 365 days")
	}
	// Fresh high-confidence rejection scores near zero.
	if got := ReconsiderScore(0, 1); got != 0 {
		t.Fatalf("floor = %f, want 0", got)
	}
	// Lower original confidence ranks higher at equal age.
	if ReconsiderScore(100, 0.2) <= ReconsiderScore(100, 0.9) {
		t.Fatal("lower confidence should rank higher")
	}
}

func TestResurfacedLexicalContainment(t *testing.T) {
	later := []model.Decision{
		{AgentDecision: "we adopted Apache Kafka for event streaming", AgentRationale: "throughput"},
	}
	if !resurfaced("apache kafka", later) {
		t.Fatal("contained candidate should count as resurfaced")
	}
	if resurfaced("rabbitmq", later) {
		t.Fatal("unrelated candidate should stay dormant")
	}
	// Containment works in either direction.
	if !resurfaced("we adopted apache kafka for event streaming plus schema registry", later) {
		t.Fatal("decision text contained in candidate should count")
	}
}

func TestViolatesNegation(t *testing.T) {
	newer := model.Decision{
		AgentDecision:  "we moved away from the monolithic deployment",
		AgentRationale: "team scaling",
	}
	if !Violates("the monolithic deployment stays for the first year", newer) {
		t.Fatal("negation near shared keyword should flag")
	}
	if Violates("traffic stays under control", newer) {
		t.Fatal("no shared keyword, should not flag")
	}
}

func TestViolatesAntonyms(t *testing.T) {
	newer := model.Decision{AgentDecision: "split the system into microservice deployments"}
	if !Violates("we remain a monolith for simplicity", newer) {
		t.Fatal("monolith vs microservice should flag")
	}

	newer = model.Decision{AgentDecision: "queries go through graphql now"}
	if !Violates("the api stays rest only", newer) {
		t.Fatal("rest vs graphql should flag")
	}

	// Word-boundary matching: "restore" must not match "rest".
	newer = model.Decision{AgentDecision: "restore the graphql schema from backup"}
	if Violates("we will restore backups nightly", newer) {
		t.Fatal("substring inside another word should not flag")
	}
}

func TestViolatesScaleJump(t *testing.T) {
	newer := model.Decision{AgentDecision: "we now serve 50k users daily"}
	if !Violates("load stays around 2k users", newer) {
		t.Fatal("25x growth should flag")
	}

	newer = model.Decision{AgentDecision: "we now serve 3k users daily"}
	if Violates("load stays around 2k users", newer) {
		t.Fatal("1.5x growth should not flag")
	}

	// Bare numbers without units never participate.
	newer = model.Decision{AgentDecision: "bumped the version to 2000"}
	if Violates("we assume around 2 regions", newer) {
		t.Fatal("unitless numbers should not flag")
	}

	// Grouped digits parse as one quantity, not as fragments.
	newer = model.Decision{AgentDecision: "we now sustain 10,000 rps at peak"}
	if !Violates("traffic stays near 500 rps", newer) {
		t.Fatal("20x growth with grouped digits should flag")
	}
	newer = model.Decision{AgentDecision: "we now sustain 1,000 rps at peak"}
	if Violates("traffic stays near 500 rps", newer) {
		t.Fatal("2x growth with grouped digits should not flag")
	}

	// A zero quantity on either side never flags.
	newer = model.Decision{AgentDecision: "we budget 0 gb of local disk"}
	if Violates("each node gets 500 gb of local disk", newer) {
		t.Fatal("zero magnitude should not flag")
	}
}

func TestExtractMagnitudes(t *testing.T) {
	cases := []struct {
		text string
		want []float64
	}{
		{"10,000 rps sustained", []float64{10000}},
		{"2k users and 3 million req", []float64{2000, 3e6}},
		{"version 2000 rollout", nil},
		{"0 gb budget", []float64{0}},
	}
	for _, tc := range cases {
		got := extractMagnitudes(tc.text)
		if len(got) != len(tc.want) {
			t.Fatalf("extractMagnitudes(%q) = %v, want %v", tc.text, got, tc.want)
		}
		for i := range got {
			if math.Abs(got[i]-tc.want[i]) > 1e-9 {
				t.Fatalf("extractMagnitudes(%q)[%d] = %f, want %f", tc.text, i, got[i], tc.want[i])
			}
		}
	}
}
