package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/credit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/triage"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	fraud   *triage.Service
	credit  *credit.Service
	engine  *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, fraud *triage.Service, creditSvc *credit.Service, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		fraud:   fraud,
		credit:  creditSvc,
		engine:  engine,
		version: version,
	}
}

// FraudTriageRequest is the request body for POST /fraud/triage.
type FraudTriageRequest struct {
	AccountID string                         `json:"account_id"`
	Amount    float64                        `json:"amount"`
	Currency  string                         `json:"currency,omitempty"`
	Merchant  string                         `json:"merchant,omitempty"`
	MCC       string                         `json:"mcc,omitempty"`
	Geo       string                         `json:"geo,omitempty"`
	DeviceID  string                         `json:"device_id,omitempty"`
	Channel   string                         `json:"channel,omitempty"`
	Timestamp *time.Time                     `json:"timestamp,omitempty"`
	History   []domain.HistoricalTransaction `json:"history,omitempty"`
}

func (req *FraudTriageRequest) transaction() *domain.Transaction {
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	return &domain.Transaction{
		ID:        uuid.New().String(),
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Merchant:  req.Merchant,
		MCC:       req.MCC,
		Geo:       req.Geo,
		DeviceID:  req.DeviceID,
		Channel:   req.Channel,
		Timestamp: ts,
		CreatedAt: time.Now().UTC(),
	}
}

// FraudTriage handles POST /fraud/triage requests.
func (h *Handler) FraudTriage(w http.ResponseWriter, r *http.Request) {
	var req FraudTriageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account_id is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	result := h.fraud.Triage(r.Context(), req.transaction(), req.History)
	writeJSON(w, http.StatusOK, result)
}

// LabelRequest is the request body for POST /fraud/label.
type LabelRequest struct {
	EventID string `json:"event_id"`
	Label   string `json:"label"`
}

// Label handles POST /fraud/label requests.
func (h *Handler) Label(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Label != domain.LabelFraud && req.Label != domain.LabelGenuine {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "label must be 'fraud' or 'genuine'",
		})
		return
	}

	// Labels are only accepted for events still inside the telemetry window.
	// An evicted event can never reach the confusion matrix, so a label for
	// one is rejected rather than stored orphaned.
	store := h.fraud.Store()
	if store.GetEvent(req.EventID) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "event not found: " + req.EventID,
		})
		return
	}

	label := store.RecordLabel(req.EventID, req.Label)

	if h.bus != nil {
		payload, _ := json.Marshal(label)
		if err := h.bus.Publish(r.Context(), domain.TopicTriageLabeled, payload); err != nil {
			slog.Warn("failed to publish label event", "error", err, "event_id", req.EventID)
		}
	}

	writeJSON(w, http.StatusOK, label)
}

// ListEvents handles GET /fraud/events requests. The optional limit query
// parameter caps the number of events returned, newest last.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	events := h.fraud.Store().Events(limit)
	summaries := make([]domain.EventSummary, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, ev.Summary())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": summaries,
		"count":  len(summaries),
	})
}

// ListRuntimeRules handles GET /fraud/rules/runtime requests.
func (h *Handler) ListRuntimeRules(w http.ResponseWriter, r *http.Request) {
	list := h.engine.Registry().List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// CreateRuntimeRule handles POST /fraud/rules/runtime requests.
func (h *Handler) CreateRuntimeRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RuntimeRuleInput
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.Feature == "" && rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "feature or expression is required",
		})
		return
	}

	added, err := h.engine.Registry().Add(rule)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("runtime rule added",
		"description", added.Description,
		"feature", added.Feature,
		"weight", added.Weight,
	)
	writeJSON(w, http.StatusCreated, added)
}

// ClearRuntimeRules handles DELETE /fraud/rules/runtime requests.
func (h *Handler) ClearRuntimeRules(w http.ResponseWriter, r *http.Request) {
	cleared := h.engine.Registry().Count()
	h.engine.Registry().Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": cleared,
	})
}

// GetConfig handles GET /fraud/config requests.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fraud.Settings().Snapshot())
}

// UpdateConfig handles PUT /fraud/config requests.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Start from the current snapshot so partial bodies only override
	// the fields they name.
	cfg := h.fraud.Settings().Snapshot()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.fraud.Settings().Update(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("triage config updated",
		"medium_band_threshold", cfg.MediumBandThreshold,
		"high_band_threshold", cfg.HighBandThreshold,
		"anomaly_method", cfg.AnomalyMethod,
	)
	writeJSON(w, http.StatusOK, h.fraud.Settings().Snapshot())
}

// TrainRequest is the request body for POST /fraud/train-iforest.
type TrainRequest struct {
	Seed int64 `json:"seed,omitempty"`
}

// TrainIForest handles POST /fraud/train-iforest requests. The model is
// fitted on the feature vectors of the events currently in the telemetry
// window.
func (h *Handler) TrainIForest(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if r.Body != nil {
		// Body is optional; ignore decode errors on an empty body.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	events := h.fraud.Store().Events(0)
	vectors := make([]features.Vector, 0, len(events))
	for _, ev := range events {
		if len(ev.Features) > 0 {
			vectors = append(vectors, features.Vector(ev.Features))
		}
	}

	if err := h.fraud.Scorer().Train(vectors, req.Seed); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	info := h.fraud.Scorer().Info()
	slog.Info("isolation forest trained",
		"samples", info.SampleSize,
		"trees", info.Trees,
	)
	writeJSON(w, http.StatusOK, info)
}

// ModelInfo handles GET /fraud/model-info requests.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fraud.Scorer().Info())
}

// CreditTriage handles POST /credit/triage requests.
func (h *Handler) CreditTriage(w http.ResponseWriter, r *http.Request) {
	var app domain.CreditApplication
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if app.ApplicantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicant_id is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.credit.Triage(&app))
}

// Triage handles POST /triage requests by dispatching on payload shape:
// a body with an "amount" field goes to fraud triage, one with an "income"
// field goes to credit triage.
func (h *Handler) Triage(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	body := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a JSON object",
		})
		return
	}

	switch {
	case fields["amount"] != nil:
		var req FraudTriageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid fraud triage payload",
			})
			return
		}
		if req.AccountID == "" || req.Amount <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "account_id and a positive amount are required",
			})
			return
		}
		writeJSON(w, http.StatusOK, h.fraud.Triage(r.Context(), req.transaction(), req.History))

	case fields["income"] != nil:
		var app domain.CreditApplication
		if err := json.Unmarshal(body, &app); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid credit triage payload",
			})
			return
		}
		if app.ApplicantID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "applicant_id is required",
			})
			return
		}
		writeJSON(w, http.StatusOK, h.credit.Triage(&app))

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "payload must contain 'amount' (fraud) or 'income' (credit)",
		})
	}
}

// KPIs handles GET /analytics/kpis requests.
func (h *Handler) KPIs(w http.ResponseWriter, r *http.Request) {
	cm := h.fraud.Settings().Snapshot().CostMatrix
	writeJSON(w, http.StatusOK, h.fraud.Store().ComputeKPIs(cm))
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", n)
	}
	return n, nil
}
