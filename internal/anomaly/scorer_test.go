package anomaly

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/features"
)

func TestZScoreTransform(t *testing.T) {
	t.Run("ZeroDeviation", func(t *testing.T) {
		got := ZScoreTransform(0)
		want := 1.0 / (1.0 + math.Exp(1.8))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("expected %.4f, got %.4f", want, got)
		}
		if got > 0.15 {
			t.Errorf("z=0 should score low, got %.4f", got)
		}
	})

	t.Run("Midpoint", func(t *testing.T) {
		if got := ZScoreTransform(2); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("z=2 should map to 0.5, got %.4f", got)
		}
	})

	t.Run("LargeDeviation", func(t *testing.T) {
		if got := ZScoreTransform(6); got < 0.95 {
			t.Errorf("z=6 should saturate toward 1, got %.4f", got)
		}
	})

	t.Run("SignSymmetric", func(t *testing.T) {
		if ZScoreTransform(-3.2) != ZScoreTransform(3.2) {
			t.Error("transform must use |z|")
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		prev := -1.0
		for z := 0.0; z <= 8; z += 0.5 {
			got := ZScoreTransform(z)
			if got <= prev {
				t.Fatalf("transform not increasing at z=%.1f", z)
			}
			if got < 0 || got > 1 {
				t.Fatalf("transform out of range at z=%.1f: %.4f", z, got)
			}
			prev = got
		}
	})
}

func TestScorerZScoreMethod(t *testing.T) {
	scorer := NewScorer()

	res := scorer.Score(features.Vector{features.AmountZScore: 2}, MethodZScore)
	if res.Method != MethodZScore {
		t.Errorf("expected method %q, got %q", MethodZScore, res.Method)
	}
	if res.FallbackReason != "" {
		t.Errorf("zscore method should not carry a fallback reason, got %q", res.FallbackReason)
	}
	if math.Abs(res.Score-0.5) > 1e-9 {
		t.Errorf("expected score 0.5 at z=2, got %.4f", res.Score)
	}
}

func TestScorerIForestFallback(t *testing.T) {
	scorer := NewScorer()

	res := scorer.Score(features.Vector{features.AmountZScore: 2}, MethodIForest)
	if res.Method != MethodZScore {
		t.Errorf("untrained forest should fall back to zscore, got %q", res.Method)
	}
	if res.FallbackReason == "" {
		t.Error("fallback must record a reason")
	}
	if math.Abs(res.Score-0.5) > 1e-9 {
		t.Errorf("fallback score should come from the transform, got %.4f", res.Score)
	}
}

func TestScorerTrainAndScore(t *testing.T) {
	scorer := NewScorer()

	t.Run("TooFewVectors", func(t *testing.T) {
		if err := scorer.Train([]features.Vector{{features.AmountZScore: 1}}, 42); err == nil {
			t.Error("expected error for a single training vector")
		}
	})

	vectors := make([]features.Vector, 64)
	for i := range vectors {
		vectors[i] = features.Vector{
			features.AmountZScore:    float64(i%5) * 0.2,
			features.Velocity1hCount: float64(i % 3),
			features.HourOfDay:       float64(i % 24),
		}
	}
	if err := scorer.Train(vectors, 42); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	t.Run("TrainedUsesIForest", func(t *testing.T) {
		res := scorer.Score(features.Vector{features.AmountZScore: 0.4}, MethodIForest)
		if res.Method != MethodIForest {
			t.Errorf("expected iforest after training, got %q", res.Method)
		}
		if res.FallbackReason != "" {
			t.Errorf("no fallback reason expected, got %q", res.FallbackReason)
		}
		if res.Score < 0 || res.Score > 1 {
			t.Errorf("score out of range: %.4f", res.Score)
		}
	})

	t.Run("OutlierScoresHigher", func(t *testing.T) {
		inlier := scorer.Score(features.Vector{
			features.AmountZScore:    0.2,
			features.Velocity1hCount: 1,
			features.HourOfDay:       3,
		}, MethodIForest)
		outlier := scorer.Score(features.Vector{
			features.AmountZScore:    50,
			features.Velocity1hCount: 200,
			features.HourOfDay:       500,
		}, MethodIForest)
		if outlier.Score <= inlier.Score {
			t.Errorf("outlier %.4f should exceed inlier %.4f", outlier.Score, inlier.Score)
		}
	})

	t.Run("Info", func(t *testing.T) {
		info := scorer.Info()
		if !info.Trained {
			t.Error("expected trained model")
		}
		if info.Trees != 100 {
			t.Errorf("expected 100 trees, got %d", info.Trees)
		}
		if info.SampleSize != len(vectors) {
			t.Errorf("expected sample size %d, got %d", len(vectors), info.SampleSize)
		}
		if info.Subsample != len(vectors) {
			t.Errorf("subsample should cap at data size, got %d", info.Subsample)
		}
		if info.TrainedAt.IsZero() {
			t.Error("expected trained_at to be set")
		}
	})
}

func TestSampleOrder(t *testing.T) {
	v := features.Vector{
		features.Velocity1hCount: 1,
		features.AmountZScore:    5,
		features.FirstTimeMCC:    1,
	}
	sample := Sample(v)
	if len(sample) != len(sampleOrder) {
		t.Fatalf("expected %d columns, got %d", len(sampleOrder), len(sample))
	}
	if sample[0] != 1 {
		t.Errorf("column 0 should be velocity_1h_count, got %v", sample[0])
	}
	if sample[4] != 5 {
		t.Errorf("column 4 should be amount_zscore, got %v", sample[4])
	}
	if sample[len(sample)-1] != 1 {
		t.Errorf("last column should be first_time_mcc, got %v", sample[len(sample)-1])
	}
	if sample[2] != 0 {
		t.Errorf("missing features should read as zero, got %v", sample[2])
	}
}
