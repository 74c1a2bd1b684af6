package orchestration

import (
	"errors"
	"math"
	"testing"
)

func mustClassifier(t *testing.T) *ComplexityClassifier {
	t.Helper()
	c, err := NewComplexityClassifier(DefaultThresholds())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

func TestClassifierTiers(t *testing.T) {
	c := mustClassifier(t)
	cases := []struct {
		name    string
		desc    Descriptor
		history HistoryStats
		want    Tier
		marked  bool
	}{
		{"single task", Descriptor{Kind: KindSequential, Units: 1}, HistoryStats{}, TierTrivial, false},
		{"handful", Descriptor{Kind: KindParallel, Units: 10}, HistoryStats{}, TierStandard, false},
		{"many", Descriptor{Kind: KindSequential, Units: 60}, HistoryStats{}, TierHigh, false},
		{"sequential capped", Descriptor{Kind: KindSequential, Units: 500}, HistoryStats{}, TierHigh, false},
		{"oversized items", Descriptor{Kind: KindTranscendent, Units: 257}, HistoryStats{}, TierTranscendent, true},
		{"keyword boost", Descriptor{Kind: KindSequential, Units: 1, Description: "Bulk import"}, HistoryStats{}, TierStandard, false},
		{"history bias", Descriptor{Kind: KindTranscendent, Units: 80}, HistoryStats{Total: 4, FailureRate: 1}, TierTranscendent, true},
		{"no history bias", Descriptor{Kind: KindTranscendent, Units: 80}, HistoryStats{}, TierHigh, false},
	}
	for _, tc := range cases {
		got, err := c.Classify(tc.desc, ClassifierContext{ChunkSize: 100, History: tc.history})
		if err != nil {
			t.Fatalf("%s: classify: %v", tc.name, err)
		}
		if got.Tier != tc.want || got.RequiresTranscendence() != tc.marked {
			t.Fatalf("%s: got tier %s marked %v, want %s %v", tc.name, got.Tier, got.RequiresTranscendence(), tc.want, tc.marked)
		}
	}
}

func TestClassifierIsPure(t *testing.T) {
	c := mustClassifier(t)
	desc := Descriptor{LevelID: "x", Description: "batch exhaustive sweep", Kind: KindTranscendent, Units: 90}
	cctx := ClassifierContext{ChunkSize: 100, History: HistoryStats{Total: 10, FailureRate: 0.3}}
	first, err := c.Classify(desc, cctx)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := c.Classify(desc, cctx)
		if err != nil || again != first {
			t.Fatalf("iteration %d: %+v != %+v (err %v)", i, again, first, err)
		}
	}
}

func TestClassifierErrors(t *testing.T) {
	c := mustClassifier(t)
	if _, err := c.Classify(Descriptor{Units: 1}, ClassifierContext{}); !errors.Is(err, ErrComplexity) {
		t.Fatalf("zero chunk size should fail with complexity error, got %v", err)
	}
	if _, err := c.Classify(Descriptor{Units: 1}, ClassifierContext{ChunkSize: 10, History: HistoryStats{FailureRate: 2}}); !errors.Is(err, ErrComplexity) {
		t.Fatalf("out of range failure rate should fail, got %v", err)
	}
	if _, err := NewComplexityClassifier(Thresholds{Standard: 0.9, High: 0.1, Transcendent: 1}); !errors.Is(err, ErrComplexity) {
		t.Fatalf("unordered thresholds should fail, got %v", err)
	}
}

func TestClassifyHugeIterativeLevel(t *testing.T) {
	level := Level{ID: "loop", Type: Iterative{
		Tasks:         []Task{{Handler: constant(1)}, {Handler: constant(2)}, {Handler: constant(3)}},
		MaxIterations: math.MaxInt / 2,
	}}
	got, err := mustClassifier(t).ClassifyLevel(level, ClassifierContext{ChunkSize: 100})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Units != math.MaxInt || got.Tier != TierHigh {
		t.Fatalf("got units %d tier %s", got.Units, got.Tier)
	}
}

func TestThresholdsFromMap(t *testing.T) {
	th, err := ThresholdsFromMap(map[string]float64{"high": 0.7, "Transcendent": 3})
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	if th.Standard != 0.05 || th.High != 0.7 || th.Transcendent != 3 {
		t.Fatalf("thresholds = %+v", th)
	}
	if _, err := ThresholdsFromMap(map[string]float64{"epic": 1}); err == nil {
		t.Fatalf("unknown tier key should fail")
	}
	if _, err := ThresholdsFromMap(map[string]float64{"trivial": 1}); err == nil {
		t.Fatalf("trivial has no threshold")
	}
}

func TestTierText(t *testing.T) {
	for tier := TierTrivial; tier <= TierTranscendent; tier++ {
		text, _ := tier.MarshalText()
		var back Tier
		if err := back.UnmarshalText(text); err != nil || back != tier {
			t.Fatalf("round trip of %s failed: %v", tier, err)
		}
	}
	if TierTrivial >= TierStandard || TierHigh >= TierTranscendent {
		t.Fatalf("tiers must be ordered")
	}
}
