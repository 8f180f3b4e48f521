package domain

import (
	"time"
)

// HistoricalTransaction is one entry in an account's transaction history.
// Immutable once created; supplied by the caller or loaded from the repository.
type HistoricalTransaction struct {
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Geo       string    `json:"geo,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	MCC       string    `json:"mcc,omitempty"`
}

// Transaction represents an incoming transaction submitted for fraud triage.
type Transaction struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Optional merchant and channel context
	Merchant string `json:"merchant,omitempty"`
	MCC      string `json:"mcc,omitempty"`
	Geo      string `json:"geo,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Channel  string `json:"channel,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// Historical converts a transaction to its history representation.
func (t *Transaction) Historical() HistoricalTransaction {
	return HistoricalTransaction{
		Amount:    t.Amount,
		Timestamp: t.Timestamp,
		Geo:       t.Geo,
		DeviceID:  t.DeviceID,
		MCC:       t.MCC,
	}
}

// CreditApplication is the input for credit triage.
type CreditApplication struct {
	ApplicantID      string   `json:"applicant_id"`
	Income           float64  `json:"income"`
	Liabilities      float64  `json:"liabilities"`
	DelinquencyFlags []string `json:"delinquency_flags,omitempty"`
	RequestedLimit   float64  `json:"requested_limit,omitempty"`
}
