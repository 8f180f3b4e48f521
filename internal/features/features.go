// Package features derives the fixed fraud-triage feature set from a
// transaction and a bounded in-memory history window.
package features

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature vector keys. The key set is fixed; every vector carries all of them.
const (
	Velocity1hCount  = "velocity_1h_count"
	Velocity1hTotal  = "velocity_1h_total"
	Velocity24hCount = "velocity_24h_count"
	Velocity24hTotal = "velocity_24h_total"
	AmountZScore     = "amount_zscore"
	DeviceNovelty    = "device_novelty"
	GeoNovelty       = "geo_novelty"
	HighRiskMCC      = "high_risk_mcc"
	HourOfDay        = "hour_of_day"
	IsNight          = "is_night"
	FirstTimeMCC     = "first_time_mcc"
)

// highRiskMCCs are merchant category codes treated as inherently risky:
// wire transfer, ATM cash, betting, jewelry.
var highRiskMCCs = map[string]bool{
	"4829": true,
	"6011": true,
	"7995": true,
	"5944": true,
}

// minHistoryForZScore is the cold-start floor: with fewer historical amounts
// the z-score is pinned to zero to avoid unstable statistics.
const minHistoryForZScore = 5

// Vector maps feature names to numeric values.
type Vector map[string]float64

// Input carries the current transaction context for feature building.
type Input struct {
	Amount   float64
	Now      time.Time
	MCC      string
	Geo      string
	DeviceID string
	History  []domain.HistoricalTransaction
}

// WindowStats summarizes transaction activity inside a trailing window.
type WindowStats struct {
	Count int
	Total float64
	Avg   float64
}

// ComputeWindowStats filters history to now - timestamp <= window and
// aggregates amounts. Zero-valued when the window is empty.
func ComputeWindowStats(history []domain.HistoricalTransaction, now time.Time, window time.Duration) WindowStats {
	var s WindowStats
	for _, h := range history {
		if age := now.Sub(h.Timestamp); age <= window {
			s.Count++
			s.Total += h.Amount
		}
	}
	if s.Count > 0 {
		s.Avg = s.Total / float64(s.Count)
	}
	return s
}

// AmountZScoreOf standardizes the current amount against historical amounts
// using the population standard deviation, floored at 1e-6. Returns 0 on
// thin history.
func AmountZScoreOf(amount float64, amounts []float64) float64 {
	if len(amounts) < minHistoryForZScore {
		return 0.0
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))

	var variance float64
	for _, a := range amounts {
		d := a - mean
		variance += d * d
	}
	variance /= float64(len(amounts))

	sigma := math.Sqrt(variance)
	if sigma < 1e-6 {
		sigma = 1e-6
	}
	return (amount - mean) / sigma
}

// Build produces the full feature vector for one triage call.
// Missing optional fields degrade gracefully; there are no error conditions.
func Build(in Input) Vector {
	amounts := make([]float64, 0, len(in.History))
	for _, h := range in.History {
		amounts = append(amounts, h.Amount)
	}

	stats1h := ComputeWindowStats(in.History, in.Now, time.Hour)
	stats24h := ComputeWindowStats(in.History, in.Now, 24*time.Hour)

	v := Vector{
		Velocity1hCount:  float64(stats1h.Count),
		Velocity1hTotal:  stats1h.Total,
		Velocity24hCount: float64(stats24h.Count),
		Velocity24hTotal: stats24h.Total,
		AmountZScore:     AmountZScoreOf(in.Amount, amounts),
		DeviceNovelty:    deviceNovelty(in.DeviceID, in.History),
		GeoNovelty:       geoNovelty(in.Geo, in.History),
		HighRiskMCC:      boolFeature(highRiskMCCs[in.MCC]),
		HourOfDay:        float64(in.Now.Hour()),
		IsNight:          boolFeature(in.Now.Hour() < 6 || in.Now.Hour() >= 22),
		FirstTimeMCC:     firstTimeMCC(in.MCC, in.History),
	}
	return v
}

// deviceNovelty is 1.0 iff a device id is given and never seen in history.
func deviceNovelty(deviceID string, history []domain.HistoricalTransaction) float64 {
	if deviceID == "" {
		return 0.0
	}
	for _, h := range history {
		if h.DeviceID != "" && h.DeviceID == deviceID {
			return 0.0
		}
	}
	return 1.0
}

// geoNovelty flags geos absent from history. No distance modeling;
// novelty only.
func geoNovelty(geo string, history []domain.HistoricalTransaction) float64 {
	if geo == "" {
		return 0.0
	}
	for _, h := range history {
		if h.Geo != "" && h.Geo == geo {
			return 0.0
		}
	}
	return 1.0
}

// firstTimeMCC is 1.0 iff an MCC is given and not present in any history
// record.
func firstTimeMCC(mcc string, history []domain.HistoricalTransaction) float64 {
	if mcc == "" {
		return 0.0
	}
	for _, h := range history {
		if h.MCC == mcc {
			return 0.0
		}
	}
	return 1.0
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
