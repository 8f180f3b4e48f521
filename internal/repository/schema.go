package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT,
    merchant TEXT,
    mcc TEXT,
    geo TEXT,
    device_id TEXT,
    channel TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(account_id, timestamp);
`

const schemaTriageEvents = `
CREATE TABLE IF NOT EXISTS triage_events (
    event_id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    intent TEXT NOT NULL,
    decision TEXT NOT NULL,
    risk_band TEXT NOT NULL,
    alert_score REAL NOT NULL,
    payload TEXT,
    explanations TEXT,
    features TEXT,
    sla_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_triage_events_timestamp ON triage_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_triage_events_band ON triage_events(risk_band);
`

const schemaLabels = `
CREATE TABLE IF NOT EXISTS labels (
    event_id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaTriageEvents,
		schemaLabels,
	}
}
