package triage

import (
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Settings holds the runtime-mutable triage tuning behind a mutex, with the
// same guard discipline as the runtime rule registry.
type Settings struct {
	mu  sync.RWMutex
	cfg domain.FraudConfig
}

// NewSettings creates settings seeded from the given config.
func NewSettings(cfg domain.FraudConfig) *Settings {
	return &Settings{cfg: cfg}
}

// Snapshot returns a copy of the current tuning.
func (s *Settings) Snapshot() domain.FraudConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update validates and replaces the tuning. The medium threshold must not
// exceed the high threshold; an empty anomaly method defaults to zscore.
func (s *Settings) Update(cfg domain.FraudConfig) error {
	if cfg.MediumBandThreshold > cfg.HighBandThreshold {
		return fmt.Errorf("medium threshold %.2f exceeds high threshold %.2f",
			cfg.MediumBandThreshold, cfg.HighBandThreshold)
	}
	switch cfg.AnomalyMethod {
	case "":
		cfg.AnomalyMethod = anomaly.MethodZScore
	case anomaly.MethodZScore, anomaly.MethodIForest:
	default:
		return fmt.Errorf("unknown anomaly method %q", cfg.AnomalyMethod)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
