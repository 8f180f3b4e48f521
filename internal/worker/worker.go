// Package worker provides async archiving of triage events from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Archiver subscribes to the triage topics and writes a durable copy of
// each scored event and label verdict through the repository. The telemetry
// ring buffer stays authoritative for KPIs; the archive is for lookback
// beyond the ring's capacity.
type Archiver struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	archived      atomic.Int64
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewArchiver creates a new event archiver.
func NewArchiver(bus domain.EventBus, repo domain.Repository) *Archiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the scored and labeled topics.
func (a *Archiver) Start() error {
	scoredSub, err := a.bus.Subscribe(a.ctx, domain.TopicTriageScored, a.handleScored)
	if err != nil {
		return err
	}
	a.subscriptions = append(a.subscriptions, scoredSub)

	labeledSub, err := a.bus.Subscribe(a.ctx, domain.TopicTriageLabeled, a.handleLabeled)
	if err != nil {
		return err
	}
	a.subscriptions = append(a.subscriptions, labeledSub)

	slog.Info("archiver started",
		"topics", []string{domain.TopicTriageScored, domain.TopicTriageLabeled},
	)
	return nil
}

// handleScored persists a scored triage event.
func (a *Archiver) handleScored(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.TriageEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse triage event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := a.repo.SaveTriageEvent(ctx, &ev); err != nil {
		slog.Error("failed to archive triage event",
			"event_id", ev.EventID,
			"error", err,
		)
		return err
	}

	a.archived.Add(1)

	slog.Debug("triage event archived",
		"event_id", ev.EventID,
		"risk_band", ev.RiskBand,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// handleLabeled persists a label verdict.
func (a *Archiver) handleLabeled(ctx context.Context, msg *domain.Message) error {
	var label domain.Label
	if err := json.Unmarshal(msg.Payload, &label); err != nil {
		slog.Error("failed to parse label",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := a.repo.SaveLabel(ctx, &label); err != nil {
		slog.Error("failed to archive label",
			"event_id", label.EventID,
			"error", err,
		)
		return err
	}

	slog.Debug("label archived",
		"event_id", label.EventID,
		"label", label.Label,
	)
	return nil
}

// Stop gracefully stops the archiver.
func (a *Archiver) Stop() error {
	a.cancel()

	for _, sub := range a.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	a.subscriptions = nil

	slog.Info("archiver stopped",
		"events_archived", a.archived.Load(),
	)
	return nil
}

// Stats returns archiver statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	EventsArchived    int64    `json:"events_archived"`
}

// GetStats returns current archiver statistics.
func (a *Archiver) GetStats() Stats {
	topics := make([]string, len(a.subscriptions))
	for i, sub := range a.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(a.subscriptions),
		Topics:            topics,
		EventsArchived:    a.archived.Load(),
	}
}
