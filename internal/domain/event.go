package domain

import (
	"time"
)

// RiskBand classifies an alert score into one of three bands.
type RiskBand string

const (
	BandLow    RiskBand = "low"
	BandMedium RiskBand = "medium"
	BandHigh   RiskBand = "high"
)

// Triage decisions mapped from risk bands.
const (
	DecisionAllow       = "allow"
	DecisionAlertMedium = "alert-medium"
	DecisionAlertHigh   = "alert-high"
)

// TriageEvent is the immutable record of one fraud triage call.
// Appended to the telemetry ring buffer and archived asynchronously.
type TriageEvent struct {
	EventID      string             `json:"event_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Intent       string             `json:"intent"`
	Payload      *Transaction       `json:"payload"`
	Decision     string             `json:"decision"`
	RiskBand     RiskBand           `json:"risk_band"`
	AlertScore   float64            `json:"alert_score"`
	Explanations []string           `json:"explanations"`
	Features     map[string]float64 `json:"features"`
	SLAMs        *int64             `json:"sla_ms,omitempty"`
}

// Label classes for triage events.
const (
	LabelFraud   = "fraud"
	LabelGenuine = "genuine"
)

// Label is a human verdict attached to a triage event. At most one label
// per event id; a later label overwrites an earlier one.
type Label struct {
	EventID   string    `json:"event_id"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSummary is the redacted view of a TriageEvent served by the events
// listing endpoint.
type EventSummary struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	Intent     string    `json:"intent"`
	Decision   string    `json:"decision"`
	RiskBand   RiskBand  `json:"risk_band"`
	AlertScore float64   `json:"alert_score"`
	SLAMs      *int64    `json:"sla_ms,omitempty"`
}

// Summary returns the redacted view of the event.
func (e *TriageEvent) Summary() EventSummary {
	return EventSummary{
		EventID:    e.EventID,
		Timestamp:  e.Timestamp,
		Intent:     e.Intent,
		Decision:   e.Decision,
		RiskBand:   e.RiskBand,
		AlertScore: e.AlertScore,
		SLAMs:      e.SLAMs,
	}
}

// KPIReport aggregates precision/recall/value metrics over labeled telemetry.
// Precision and recall are nil when their denominators are zero.
type KPIReport struct {
	Precision        *float64         `json:"precision"`
	Recall           *float64         `json:"recall"`
	AlertVolumes     int              `json:"alert_volumes"`
	SLAMs            *int64           `json:"sla_ms"`
	BandDistribution map[RiskBand]int `json:"band_distribution"`
	ValueRate        float64          `json:"vdr"`
	Confusion        Confusion        `json:"confusion"`
}

// Confusion holds raw confusion-matrix counts. Predicted positive means
// risk band medium or high; truth comes from labels.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}
