// Package anomaly maps triage features to a [0,1] anomaly score, either
// via a deterministic z-score transform or a trained isolation forest with
// a guaranteed fallback to the transform.
package anomaly

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/features"
)

// Scoring method names.
const (
	MethodZScore  = "zscore"
	MethodIForest = "iforest"
)

// Result is the outcome of anomaly scoring. FallbackReason is non-empty
// when the preferred method was unavailable and the z-score transform was
// used instead; the caller never sees an error.
type Result struct {
	Score          float64 `json:"score"`
	Method         string  `json:"method"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
}

// sampleOrder fixes the feature-to-column mapping used for model samples.
var sampleOrder = []string{
	features.Velocity1hCount,
	features.Velocity1hTotal,
	features.Velocity24hCount,
	features.Velocity24hTotal,
	features.AmountZScore,
	features.DeviceNovelty,
	features.GeoNovelty,
	features.HighRiskMCC,
	features.HourOfDay,
	features.IsNight,
	features.FirstTimeMCC,
}

// Scorer scores feature vectors. The zero model state is valid: the
// isolation forest path simply falls back until trained.
type Scorer struct {
	forest *IsolationForest
}

// NewScorer creates a scorer with an untrained isolation forest.
func NewScorer() *Scorer {
	return &Scorer{forest: NewIsolationForest()}
}

// ZScoreTransform squashes |z| into [0,1]: near 0 below two standard
// deviations, saturating toward 1 for large deviations.
func ZScoreTransform(z float64) float64 {
	s := 1.0 / (1.0 + math.Exp(-0.9*(math.Abs(z)-2.0)))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Score computes the anomaly score for the feature vector using the
// preferred method. Any failure of the learned model falls back to the
// z-score transform; fallback never propagates an error.
func (s *Scorer) Score(v features.Vector, method string) Result {
	if method == MethodIForest {
		score, err := s.forest.ScoreOne(Sample(v))
		if err == nil {
			return Result{Score: score, Method: MethodIForest}
		}
		return Result{
			Score:          ZScoreTransform(v[features.AmountZScore]),
			Method:         MethodZScore,
			FallbackReason: err.Error(),
		}
	}
	return Result{
		Score:  ZScoreTransform(v[features.AmountZScore]),
		Method: MethodZScore,
	}
}

// Train fits the isolation forest on the given feature vectors.
func (s *Scorer) Train(vectors []features.Vector, seed int64) error {
	if len(vectors) < 2 {
		return fmt.Errorf("need at least 2 feature vectors, got %d", len(vectors))
	}
	data := make([][]float64, len(vectors))
	for i, v := range vectors {
		data[i] = Sample(v)
	}
	return s.forest.Fit(data, seed)
}

// Info returns the trained state of the learned model.
func (s *Scorer) Info() ModelInfo {
	return s.forest.Info()
}

// Sample converts a feature vector into a model sample with a fixed
// column order.
func Sample(v features.Vector) []float64 {
	out := make([]float64, len(sampleOrder))
	for i, k := range sampleOrder {
		out[i] = v[k]
	}
	return out
}
