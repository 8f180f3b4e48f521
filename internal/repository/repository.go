// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.AccountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, account_id, amount, currency, merchant,
			mcc, geo, device_id, channel, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.Amount, tx.Currency, tx.Merchant,
		tx.MCC, tx.Geo, tx.DeviceID, tx.Channel,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetAccountHistory retrieves an account's transactions since the given time,
// oldest first, in the reduced form consumed by the feature builder.
func (r *SQLRepository) GetAccountHistory(ctx context.Context, accountID string, since time.Time) ([]domain.HistoricalTransaction, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT amount, timestamp, geo, device_id, mcc
		FROM transactions
		WHERE account_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.HistoricalTransaction
	for rows.Next() {
		var h domain.HistoricalTransaction
		if err := rows.Scan(&h.Amount, &h.Timestamp, &h.Geo, &h.DeviceID, &h.MCC); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// SaveTriageEvent stores a triage event in the archive. Existing rows with
// the same event ID are replaced so re-archiving is idempotent.
func (r *SQLRepository) SaveTriageEvent(ctx context.Context, ev *domain.TriageEvent) error {
	if ev == nil || ev.EventID == "" {
		return fmt.Errorf("%w: eventID is required", ErrInvalidInput)
	}

	payload, _ := json.Marshal(ev.Payload)
	explanations, _ := json.Marshal(ev.Explanations)
	features, _ := json.Marshal(ev.Features)

	var slaMs sql.NullInt64
	if ev.SLAMs != nil {
		slaMs = sql.NullInt64{Int64: *ev.SLAMs, Valid: true}
	}

	query := `
		INSERT INTO triage_events (
			event_id, timestamp, intent, decision, risk_band,
			alert_score, payload, explanations, features, sla_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			decision = excluded.decision,
			risk_band = excluded.risk_band,
			alert_score = excluded.alert_score,
			explanations = excluded.explanations,
			features = excluded.features,
			sla_ms = excluded.sla_ms
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.EventID, ev.Timestamp, ev.Intent, ev.Decision, string(ev.RiskBand),
		ev.AlertScore, string(payload), string(explanations), string(features), slaMs,
	)
	return err
}

// GetTriageEvent retrieves an archived triage event by ID.
func (r *SQLRepository) GetTriageEvent(ctx context.Context, eventID string) (*domain.TriageEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: eventID is required", ErrInvalidInput)
	}

	query := `
		SELECT event_id, timestamp, intent, decision, risk_band,
			   alert_score, payload, explanations, features, sla_ms
		FROM triage_events
		WHERE event_id = ?
	`

	var ev domain.TriageEvent
	var band string
	var payload, explanations, features string
	var slaMs sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), eventID).Scan(
		&ev.EventID, &ev.Timestamp, &ev.Intent, &ev.Decision, &band,
		&ev.AlertScore, &payload, &explanations, &features, &slaMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.RiskBand = domain.RiskBand(band)
	if payload != "" && payload != "null" {
		json.Unmarshal([]byte(payload), &ev.Payload)
	}
	json.Unmarshal([]byte(explanations), &ev.Explanations)
	json.Unmarshal([]byte(features), &ev.Features)
	if slaMs.Valid {
		ev.SLAMs = &slaMs.Int64
	}

	return &ev, nil
}

// SaveLabel stores a label verdict, replacing any previous label for the
// same event.
func (r *SQLRepository) SaveLabel(ctx context.Context, label *domain.Label) error {
	if label == nil || label.EventID == "" {
		return fmt.Errorf("%w: eventID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO labels (event_id, label, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			label = excluded.label,
			timestamp = excluded.timestamp
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		label.EventID, label.Label, label.Timestamp,
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
