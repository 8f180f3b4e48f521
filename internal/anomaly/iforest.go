package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// IsolationForest is a small in-process isolation forest. Samples are
// isolated by random axis-aligned splits; anomalous points need fewer
// splits, so shorter average path lengths map to higher scores.
type IsolationForest struct {
	mu         sync.RWMutex
	trees      []*isoNode
	subsample  int
	heightCap  int
	sampleSize int
	trainedAt  time.Time
}

type isoNode struct {
	splitFeature int
	splitValue   float64
	left, right  *isoNode
	size         int // leaf only: samples that ended here
}

const (
	defaultTreeCount = 100
	defaultSubsample = 256
)

// NewIsolationForest creates an untrained forest.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{}
}

// Fit trains the forest on data, where each row is a sample and each column
// a feature. Requires at least two samples.
func (f *IsolationForest) Fit(data [][]float64, seed int64) error {
	if len(data) < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", len(data))
	}

	psi := defaultSubsample
	if psi > len(data) {
		psi = len(data)
	}
	heightCap := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewSource(seed))

	trees := make([]*isoNode, defaultTreeCount)
	for i := range trees {
		sample := make([][]float64, psi)
		for j := range sample {
			sample[j] = data[rng.Intn(len(data))]
		}
		trees[i] = buildTree(sample, 0, heightCap, rng)
	}

	f.mu.Lock()
	f.trees = trees
	f.subsample = psi
	f.heightCap = heightCap
	f.sampleSize = len(data)
	f.trainedAt = time.Now().UTC()
	f.mu.Unlock()
	return nil
}

// Trained reports whether Fit has completed at least once.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.trees) > 0
}

// ModelInfo describes the trained state of the forest.
type ModelInfo struct {
	Trained    bool      `json:"trained"`
	Trees      int       `json:"trees"`
	Subsample  int       `json:"subsample"`
	SampleSize int       `json:"sample_size"`
	TrainedAt  time.Time `json:"trained_at,omitzero"`
}

// Info returns the trained state of the forest.
func (f *IsolationForest) Info() ModelInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ModelInfo{
		Trained:    len(f.trees) > 0,
		Trees:      len(f.trees),
		Subsample:  f.subsample,
		SampleSize: f.sampleSize,
		TrainedAt:  f.trainedAt,
	}
}

// ScoreOne returns the anomaly score for a single sample in [0,1].
// Returns an error when the forest is untrained.
func (f *IsolationForest) ScoreOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.trees) == 0 {
		return 0, fmt.Errorf("model not trained")
	}

	var total float64
	for _, t := range f.trees {
		total += pathLength(t, sample, 0)
	}
	avg := total / float64(len(f.trees))

	// s(x, psi) = 2^(-E[h(x)] / c(psi))
	score := math.Pow(2, -avg/avgPathLength(f.subsample))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func buildTree(sample [][]float64, depth, heightCap int, rng *rand.Rand) *isoNode {
	if depth >= heightCap || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}

	dims := len(sample[0])
	feature := rng.Intn(dims)

	lo, hi := sample[0][feature], sample[0][feature]
	for _, s := range sample {
		if s[feature] < lo {
			lo = s[feature]
		}
		if s[feature] > hi {
			hi = s[feature]
		}
	}
	if lo == hi {
		return &isoNode{size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, s := range sample {
		if s[feature] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	return &isoNode{
		splitFeature: feature,
		splitValue:   split,
		left:         buildTree(left, depth+1, heightCap, rng),
		right:        buildTree(right, depth+1, heightCap, rng),
	}
}

func pathLength(n *isoNode, sample []float64, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if sample[n.splitFeature] < n.splitValue {
		return pathLength(n.left, sample, depth+1)
	}
	return pathLength(n.right, sample, depth+1)
}

// avgPathLength is c(n), the average unsuccessful-search path length of a
// binary search tree with n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}
