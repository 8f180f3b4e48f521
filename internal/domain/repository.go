// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// It stores account transaction history (the source of the feature-builder
// window when the caller supplies none) and an archive of triage events.
type Repository interface {
	// Transaction history operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetAccountHistory(ctx context.Context, accountID string, since time.Time) ([]HistoricalTransaction, error)

	// Triage event archive (write-behind copy of the telemetry ring buffer)
	SaveTriageEvent(ctx context.Context, ev *TriageEvent) error
	GetTriageEvent(ctx context.Context, eventID string) (*TriageEvent, error)

	// Label archive
	SaveLabel(ctx context.Context, label *Label) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
