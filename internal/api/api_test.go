package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/credit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/triage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry, err := rules.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	engine := rules.NewEngine(registry)
	fraud := triage.NewService(
		engine,
		anomaly.NewScorer(),
		telemetry.NewStore(100),
		triage.NewSettings(domain.DefaultFraudConfig()),
		nil, nil, nil,
	)
	return NewServer(domain.ServerConfig{}, nil, nil, nil, fraud, credit.NewService(), engine, "test")
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func quietHistory(now time.Time) []domain.HistoricalTransaction {
	history := make([]domain.HistoricalTransaction, 10)
	for i := range history {
		history[i] = domain.HistoricalTransaction{
			Amount:    100,
			Timestamp: now.Add(-time.Duration(i+1) * 24 * time.Hour),
			Geo:       "US-CA",
			DeviceID:  "dev-1",
			MCC:       "5411",
		}
	}
	return history
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("unexpected health body: %v", health)
	}

	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", rec.Code)
	}
}

func TestFraudTriageEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("QuietTransaction", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
			"account_id": "acct-1",
			"amount":     100,
			"geo":        "US-CA",
			"device_id":  "dev-1",
			"mcc":        "5411",
			"timestamp":  now,
			"history":    quietHistory(now),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res triage.Result
		decodeBody(t, rec, &res)
		if res.RiskBand != domain.BandLow {
			t.Errorf("expected low band, got %s", res.RiskBand)
		}
		if res.EventID == "" {
			t.Error("expected an event id")
		}
		if res.RuleScore != 0 {
			t.Errorf("expected no rule hits, got score %.2f", res.RuleScore)
		}
	})

	t.Run("RiskyTransaction", func(t *testing.T) {
		history := quietHistory(now)
		for i := 0; i < 6; i++ {
			history = append(history, domain.HistoricalTransaction{
				Amount:    100,
				Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
				Geo:       "US-CA",
				DeviceID:  "dev-1",
				MCC:       "5411",
			})
		}
		rec := doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
			"account_id": "acct-2",
			"amount":     100,
			"geo":        "RO-B",
			"device_id":  "dev-burner",
			"mcc":        "7995",
			"timestamp":  now,
			"history":    history,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res triage.Result
		decodeBody(t, rec, &res)
		if res.RiskBand == domain.BandLow {
			t.Errorf("expected an alert band, got %s (score %.2f)", res.RiskBand, res.AlertScore)
		}
		if len(res.Explanations) == 0 {
			t.Error("expected explanations")
		}
	})

	t.Run("Validation", func(t *testing.T) {
		cases := []struct {
			name string
			body map[string]any
		}{
			{"MissingAccount", map[string]any{"amount": 100}},
			{"ZeroAmount", map[string]any{"account_id": "a", "amount": 0}},
			{"NegativeAmount", map[string]any{"account_id": "a", "amount": -5}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec := doJSON(t, srv, http.MethodPost, "/fraud/triage", tc.body)
				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rec.Code)
				}
			})
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/fraud/triage", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRuntimeRuleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	t.Run("CreateAndApply", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/rules/runtime", map[string]any{
			"description": "late night activity",
			"feature":     "hour_of_day",
			"operator":    ">=",
			"value":       22,
			"weight":      0.3,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var created domain.RuntimeRule
		decodeBody(t, rec, &created)
		if created.Weight != 0.3 {
			t.Errorf("expected weight 0.3, got %v", created.Weight)
		}

		// A 23:00 transaction now picks up is_night (0.05) plus the
		// runtime rule (0.3).
		triageRec := doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
			"account_id": "acct-r",
			"amount":     100,
			"geo":        "US-CA",
			"device_id":  "dev-1",
			"mcc":        "5411",
			"timestamp":  now,
			"history":    quietHistory(now),
		})
		var res triage.Result
		decodeBody(t, triageRec, &res)
		if res.RuleScore < 0.35-1e-9 {
			t.Errorf("expected rule score >= 0.35, got %.2f", res.RuleScore)
		}
		found := false
		for _, e := range res.Explanations {
			if e == "late night activity" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected runtime rule explanation, got %v", res.Explanations)
		}
	})

	t.Run("ListAndClear", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/fraud/rules/runtime", nil)
		var list struct {
			Rules []domain.RuntimeRule `json:"rules"`
			Count int                  `json:"count"`
		}
		decodeBody(t, rec, &list)
		if list.Count != 1 {
			t.Fatalf("expected 1 rule, got %d", list.Count)
		}

		rec = doJSON(t, srv, http.MethodDelete, "/fraud/rules/runtime", nil)
		var cleared map[string]int
		decodeBody(t, rec, &cleared)
		if cleared["cleared"] != 1 {
			t.Errorf("expected 1 cleared, got %d", cleared["cleared"])
		}

		rec = doJSON(t, srv, http.MethodGet, "/fraud/rules/runtime", nil)
		decodeBody(t, rec, &list)
		if list.Count != 0 {
			t.Errorf("expected empty registry, got %d", list.Count)
		}
	})

	t.Run("ExplicitZeroSurvives", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/rules/runtime", map[string]any{
			"description": "dormant account",
			"feature":     "velocity_24h_count",
			"operator":    "==",
			"value":       0,
			"weight":      0,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var created domain.RuntimeRule
		decodeBody(t, rec, &created)
		if created.Value != 0 {
			t.Errorf("explicit value 0 was rewritten to %v", created.Value)
		}
		if created.Weight != 0 {
			t.Errorf("explicit weight 0 was rewritten to %v", created.Weight)
		}
		doJSON(t, srv, http.MethodDelete, "/fraud/rules/runtime", nil)
	})

	t.Run("RejectsEmptyRule", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/rules/runtime", map[string]any{"weight": 0.1})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("RejectsBadExpression", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/rules/runtime", map[string]any{
			"expression": "amount_zscore + 1.0",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-bool expression, got %d", rec.Code)
		}
	})
}

func TestLabelAndKPIEndpoints(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now().UTC()

	triageRec := doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
		"account_id": "acct-l",
		"amount":     100,
		"geo":        "US-CA",
		"device_id":  "dev-1",
		"mcc":        "5411",
		"history":    quietHistory(now),
	})
	var res triage.Result
	decodeBody(t, triageRec, &res)

	t.Run("LabelRoundTrip", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/label", map[string]any{
			"event_id": res.EventID,
			"label":    "genuine",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var label domain.Label
		decodeBody(t, rec, &label)
		if label.EventID != res.EventID || label.Label != domain.LabelGenuine {
			t.Errorf("unexpected label: %+v", label)
		}
	})

	t.Run("KPIsReflectLabel", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/analytics/kpis", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var report domain.KPIReport
		decodeBody(t, rec, &report)
		if report.Confusion.TN != 1 {
			t.Errorf("low band + genuine should count TN, got %+v", report.Confusion)
		}
		if report.AlertVolumes != 1 {
			t.Errorf("expected volume 1, got %d", report.AlertVolumes)
		}
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/label", map[string]any{
			"event_id": "no-such-event",
			"label":    "fraud",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("InvalidLabel", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/label", map[string]any{
			"event_id": res.EventID,
			"label":    "suspicious",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestListEventsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
			"account_id": fmt.Sprintf("acct-%d", i),
			"amount":     100,
			"history":    quietHistory(now),
		})
	}

	t.Run("All", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/fraud/events", nil)
		var body struct {
			Events []domain.EventSummary `json:"events"`
			Count  int                   `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 3 {
			t.Errorf("expected 3 events, got %d", body.Count)
		}
	})

	t.Run("Limited", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/fraud/events?limit=2", nil)
		var body struct {
			Events []domain.EventSummary `json:"events"`
			Count  int                   `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 2 {
			t.Errorf("expected 2 events, got %d", body.Count)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		for _, raw := range []string{"abc", "-1", "0"} {
			rec := doJSON(t, srv, http.MethodGet, "/fraud/events?limit="+raw, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected 400, got %d", raw, rec.Code)
			}
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("GetDefaults", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/fraud/config", nil)
		var cfg domain.FraudConfig
		decodeBody(t, rec, &cfg)
		if cfg.MediumBandThreshold != 0.45 || cfg.HighBandThreshold != 0.75 {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.AnomalyMethod != "zscore" {
			t.Errorf("expected zscore default, got %q", cfg.AnomalyMethod)
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/fraud/config", map[string]any{
			"medium_band_threshold": 0.3,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var cfg domain.FraudConfig
		decodeBody(t, rec, &cfg)
		if cfg.MediumBandThreshold != 0.3 {
			t.Errorf("expected medium threshold 0.3, got %v", cfg.MediumBandThreshold)
		}
		if cfg.HighBandThreshold != 0.75 {
			t.Errorf("partial update must keep high threshold, got %v", cfg.HighBandThreshold)
		}
	})

	t.Run("RejectsInvertedThresholds", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/fraud/config", map[string]any{
			"medium_band_threshold": 0.9,
			"high_band_threshold":   0.5,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now().UTC()

	t.Run("TrainWithoutData", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/fraud/train-iforest", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409 without telemetry, got %d", rec.Code)
		}
	})

	t.Run("UntrainedInfo", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/fraud/model-info", nil)
		var info anomaly.ModelInfo
		decodeBody(t, rec, &info)
		if info.Trained {
			t.Error("expected untrained model")
		}
	})

	t.Run("TrainFromTelemetry", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			doJSON(t, srv, http.MethodPost, "/fraud/triage", map[string]any{
				"account_id": fmt.Sprintf("acct-m%d", i),
				"amount":     float64(50 + i*10),
				"history":    quietHistory(now),
			})
		}
		rec := doJSON(t, srv, http.MethodPost, "/fraud/train-iforest", map[string]any{"seed": 42})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var info anomaly.ModelInfo
		decodeBody(t, rec, &info)
		if !info.Trained || info.SampleSize != 10 {
			t.Errorf("unexpected model info: %+v", info)
		}
	})
}

func TestCreditTriageEndpoint(t *testing.T) {
	srv := newTestServer(t)

	t.Run("Approve", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/credit/triage", map[string]any{
			"applicant_id": "app-1",
			"income":       90000,
			"liabilities":  9000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var res credit.Result
		decodeBody(t, rec, &res)
		if res.Decision != credit.DecisionApprove {
			t.Errorf("expected approve, got %q", res.Decision)
		}
	})

	t.Run("MissingApplicant", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/credit/triage", map[string]any{"income": 50000})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestUnifiedTriageEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now().UTC()

	t.Run("DispatchesFraud", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/triage", map[string]any{
			"account_id": "acct-u",
			"amount":     100,
			"history":    quietHistory(now),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res triage.Result
		decodeBody(t, rec, &res)
		if res.EventID == "" {
			t.Error("expected a fraud triage result")
		}
	})

	t.Run("DispatchesCredit", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/triage", map[string]any{
			"applicant_id": "app-u",
			"income":       60000,
			"liabilities":  6000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res credit.Result
		decodeBody(t, rec, &res)
		if res.Decision == "" {
			t.Error("expected a credit triage result")
		}
	})

	t.Run("AmbiguousPayload", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/triage", map[string]any{"foo": "bar"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("NonObjectBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/triage", bytes.NewBufferString(`[1,2]`))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}
