// Package telemetry keeps an in-memory, bounded record of triage events
// plus human labels, and computes KPI aggregates over them on demand.
package telemetry

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultCapacity is the ring buffer capacity for triage events.
const DefaultCapacity = 5000

// Store is a mutex-guarded bounded ring buffer of triage events plus a
// label map keyed by event id. Events are never mutated after recording;
// the oldest event is silently evicted once the buffer is full.
type Store struct {
	mu       sync.Mutex
	capacity int
	events   []*domain.TriageEvent
	start    int // index of the oldest event
	labels   map[string]*domain.Label
}

// NewStore creates a store with the given event capacity.
// Non-positive capacities fall back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		labels:   make(map[string]*domain.Label),
	}
}

// RecordEvent appends an event, evicting the oldest once at capacity.
func (s *Store) RecordEvent(ev *domain.TriageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) < s.capacity {
		s.events = append(s.events, ev)
		return
	}
	s.events[s.start] = ev
	s.start = (s.start + 1) % s.capacity
}

// RecordLabel upserts a label for an event id. A later label overwrites
// an earlier one.
func (s *Store) RecordLabel(eventID, label string) *domain.Label {
	l := &domain.Label{
		EventID:   eventID,
		Label:     label,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.labels[eventID] = l
	s.mu.Unlock()
	return l
}

// GetEvent returns the most recent event with the given id, or nil.
func (s *Store) GetEvent(eventID string) *domain.TriageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[(s.start+i)%len(s.events)]
		if ev.EventID == eventID {
			return ev
		}
	}
	return nil
}

// Events returns up to limit of the most recent events in chronological
// order, or all events when limit <= 0.
func (s *Store) Events(limit int) []*domain.TriageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*domain.TriageEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[(s.start+n-limit+i)%n]
	}
	return out
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// ComputeKPIs scans all current events and labels. Predicted positive is
// risk band medium or high; unlabeled events contribute to volume and band
// distribution but not to the confusion matrix.
func (s *Store) ComputeKPIs(cm domain.CostMatrix) domain.KPIReport {
	s.mu.Lock()
	events := make([]*domain.TriageEvent, len(s.events))
	n := len(s.events)
	for i := 0; i < n; i++ {
		events[i] = s.events[(s.start+i)%n]
	}
	labels := make(map[string]*domain.Label, len(s.labels))
	for k, v := range s.labels {
		labels[k] = v
	}
	s.mu.Unlock()

	report := domain.KPIReport{
		AlertVolumes: len(events),
		BandDistribution: map[domain.RiskBand]int{
			domain.BandLow:    0,
			domain.BandMedium: 0,
			domain.BandHigh:   0,
		},
	}

	var totalLatency, latencyCount int64
	var c domain.Confusion
	for _, ev := range events {
		report.BandDistribution[ev.RiskBand]++
		if ev.SLAMs != nil {
			totalLatency += *ev.SLAMs
			latencyCount++
		}

		lbl, ok := labels[ev.EventID]
		if !ok {
			continue
		}
		predictedPositive := ev.RiskBand == domain.BandMedium || ev.RiskBand == domain.BandHigh
		isFraud := lbl.Label == domain.LabelFraud
		switch {
		case predictedPositive && isFraud:
			c.TP++
		case predictedPositive && !isFraud:
			c.FP++
		case !predictedPositive && !isFraud:
			c.TN++
		default:
			c.FN++
		}
	}
	report.Confusion = c

	if c.TP+c.FP > 0 {
		p := float64(c.TP) / float64(c.TP+c.FP)
		report.Precision = &p
	}
	if c.TP+c.FN > 0 {
		r := float64(c.TP) / float64(c.TP+c.FN)
		report.Recall = &r
	}
	if latencyCount > 0 {
		avg := totalLatency / latencyCount
		report.SLAMs = &avg
	}

	value := float64(c.TP)*cm.TruePositiveSavings +
		float64(c.FP)*cm.FalsePositiveCost +
		float64(c.FN)*cm.FalseNegativeCost +
		float64(c.TN)*cm.TrueNegativeSavings
	denom := c.TP + c.FP + c.TN + c.FN
	if denom < 1 {
		denom = 1
	}
	report.ValueRate = value / float64(denom)

	return report
}
