// Package triage blends rule and anomaly scores into a banded decision and
// records each call in telemetry.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Blend weights for combining rule and anomaly scores. Fixed by design;
// thresholds and anomaly method are configurable, the blend is not.
const (
	ruleWeight    = 0.6
	anomalyWeight = 0.4
)

// historyLookback bounds the repository history window read per account.
const historyLookback = 30 * 24 * time.Hour

// historyCacheTTL bounds staleness of cached account history snapshots.
const historyCacheTTL = 60 * time.Second

// Result is the full outcome of one fraud triage call.
type Result struct {
	EventID         string             `json:"event_id"`
	AlertScore      float64            `json:"alert_score"`
	Decision        string             `json:"decision"`
	Rationale       string             `json:"rationale"`
	PolicyCitations []string           `json:"policy_citations"`
	Features        features.Vector    `json:"features"`
	RiskBand        domain.RiskBand    `json:"risk_band"`
	Explanations    []string           `json:"explanations"`
	Summary         string             `json:"summary"`
	SLAMs           int64              `json:"sla_ms"`
	RuleScore       float64            `json:"rule_score"`
	Anomaly         anomaly.Result     `json:"anomaly"`
}

// Service runs the fraud triage pipeline: feature building, rule and
// anomaly scoring, banding, telemetry recording and event publication.
// Repository, cache and bus are optional; the scoring path works without
// them.
type Service struct {
	engine   *rules.Engine
	scorer   *anomaly.Scorer
	store    *telemetry.Store
	settings *Settings
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
}

// NewService creates a fraud triage service.
func NewService(engine *rules.Engine, scorer *anomaly.Scorer, store *telemetry.Store, settings *Settings, repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Service {
	return &Service{
		engine:   engine,
		scorer:   scorer,
		store:    store,
		settings: settings,
		repo:     repo,
		cache:    cache,
		bus:      bus,
	}
}

// Settings returns the runtime tuning for management calls.
func (s *Service) Settings() *Settings {
	return s.settings
}

// Store returns the telemetry store for analytics calls.
func (s *Service) Store() *telemetry.Store {
	return s.store
}

// Scorer returns the anomaly scorer for model lifecycle calls.
func (s *Service) Scorer() *anomaly.Scorer {
	return s.scorer
}

// Triage scores a transaction. When the caller supplies no history the
// account's recent transactions are loaded from the repository (via the
// cache when available).
func (s *Service) Triage(ctx context.Context, tx *domain.Transaction, history []domain.HistoricalTransaction) *Result {
	start := time.Now()
	cfg := s.settings.Snapshot()

	if history == nil {
		history = s.loadHistory(ctx, tx.AccountID)
	}

	vector := features.Build(features.Input{
		Amount:   tx.Amount,
		Now:      tx.Timestamp,
		MCC:      tx.MCC,
		Geo:      tx.Geo,
		DeviceID: tx.DeviceID,
		History:  history,
	})

	ruleScore, ruleHits := s.engine.Evaluate(vector)
	anomalyResult := s.scorer.Score(vector, cfg.AnomalyMethod)

	alertScore := ruleWeight*ruleScore + anomalyWeight*anomalyResult.Score
	if alertScore < 0 {
		alertScore = 0
	}
	if alertScore > 1 {
		alertScore = 1
	}

	band, decision := BandFor(alertScore, cfg)
	explanations := buildExplanations(vector, ruleHits)
	slaMs := time.Since(start).Milliseconds()

	result := &Result{
		EventID:         uuid.New().String(),
		AlertScore:      alertScore,
		Decision:        decision,
		Rationale:       rationaleFor(ruleHits),
		PolicyCitations: []string{},
		Features:        vector,
		RiskBand:        band,
		Explanations:    explanations,
		Summary:         summaryFor(band),
		SLAMs:           slaMs,
		RuleScore:       ruleScore,
		Anomaly:         anomalyResult,
	}

	s.record(ctx, tx, result)
	return result
}

// BandFor maps an alert score to its risk band and decision using the
// configured thresholds. Monotonic in the score for fixed thresholds.
func BandFor(alertScore float64, cfg domain.FraudConfig) (domain.RiskBand, string) {
	switch {
	case alertScore >= cfg.HighBandThreshold:
		return domain.BandHigh, domain.DecisionAlertHigh
	case alertScore >= cfg.MediumBandThreshold:
		return domain.BandMedium, domain.DecisionAlertMedium
	default:
		return domain.BandLow, domain.DecisionAllow
	}
}

// RecommendedAction returns the analyst action for a band.
func RecommendedAction(band domain.RiskBand) string {
	if band == domain.BandMedium || band == domain.BandHigh {
		return "Manual review recommended"
	}
	return "Approve"
}

func summaryFor(band domain.RiskBand) string {
	return fmt.Sprintf("Risk band %s; %s.", band, RecommendedAction(band))
}

func rationaleFor(ruleHits []string) string {
	reasons := "no significant rule triggers"
	if len(ruleHits) > 0 {
		reasons = strings.Join(ruleHits, ", ")
	}
	return fmt.Sprintf("Combined rules and anomaly analysis; reasons: %s.", reasons)
}

// buildExplanations merges rule hits with notable feature statements,
// deduplicated by exact string match, preserving first-seen order.
func buildExplanations(v features.Vector, ruleHits []string) []string {
	var notable []string
	if v[features.AmountZScore] >= 3.5 {
		notable = append(notable, fmt.Sprintf("amount spike %.1fσ above mean", v[features.AmountZScore]))
	}
	if v[features.Velocity1hCount] >= 5 {
		notable = append(notable, "high velocity in last 1h")
	}
	if v[features.DeviceNovelty] >= 1.0 {
		notable = append(notable, "new device detected")
	}
	if v[features.GeoNovelty] >= 1.0 {
		notable = append(notable, "new geo detected")
	}
	if v[features.HighRiskMCC] >= 1.0 {
		notable = append(notable, "high-risk MCC")
	}

	seen := make(map[string]bool, len(ruleHits)+len(notable))
	out := make([]string, 0, len(ruleHits)+len(notable))
	for _, e := range append(append([]string{}, ruleHits...), notable...) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// record writes the event to telemetry, persists the transaction for future
// history windows, and publishes to the bus. Persistence and publication
// failures are logged, never surfaced to the caller.
func (s *Service) record(ctx context.Context, tx *domain.Transaction, result *Result) {
	slaMs := result.SLAMs
	event := &domain.TriageEvent{
		EventID:      result.EventID,
		Timestamp:    time.Now().UTC(),
		Intent:       "fraud_triage",
		Payload:      tx,
		Decision:     result.Decision,
		RiskBand:     result.RiskBand,
		AlertScore:   result.AlertScore,
		Explanations: result.Explanations,
		Features:     result.Features,
		SLAMs:        &slaMs,
	}
	s.store.RecordEvent(event)

	if s.repo != nil {
		if err := s.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "account_id", tx.AccountID, "error", err)
		}
		if s.cache != nil {
			// Invalidate the snapshot so the next triage sees this transaction.
			_ = s.cache.DeleteHistory(ctx, tx.AccountID)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(event)
		if err := s.bus.Publish(ctx, domain.TopicTriageScored, payload); err != nil {
			slog.Error("failed to publish triage event", "event_id", event.EventID, "error", err)
		}
		if result.RiskBand != domain.BandLow {
			if err := s.bus.Publish(ctx, domain.TopicTriageAlert, payload); err != nil {
				slog.Error("failed to publish alert", "event_id", event.EventID, "error", err)
			}
		}
	}
}

// loadHistory reads the account's recent transactions, preferring a cached
// snapshot. Errors degrade to an empty history.
func (s *Service) loadHistory(ctx context.Context, accountID string) []domain.HistoricalTransaction {
	if s.repo == nil || accountID == "" {
		return nil
	}

	if s.cache != nil {
		if history, err := s.cache.GetHistory(ctx, accountID); err == nil && history != nil {
			return history
		}
	}

	history, err := s.repo.GetAccountHistory(ctx, accountID, time.Now().UTC().Add(-historyLookback))
	if err != nil {
		slog.Error("failed to load account history", "account_id", accountID, "error", err)
		return nil
	}

	if s.cache != nil && history != nil {
		_ = s.cache.SetHistory(ctx, accountID, history, historyCacheTTL)
	}
	return history
}
