package models

import (
	"encoding/json"
	"time"
)

const (
	LedgerAuctionWinnerSelected = "auction_winner_selected"
	LedgerProposalsRejected     = "proposals_rejected"
)

// LedgerTransaction is a typed payload submitted to the remote ledger
type LedgerTransaction struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// LedgerReceipt confirms a ledger write
type LedgerReceipt struct {
	TransactionID         string    `json:"transactionId"`
	ConfirmationTimestamp time.Time `json:"confirmationTimestamp"`
}

// PendingLedgerTransaction is a ledger submission awaiting resubmission
type PendingLedgerTransaction struct {
	ID            string          `json:"id" db:"id"`
	OperationType string          `json:"operationType" db:"operation_type"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Attempts      int             `json:"attempts" db:"attempts"`
	NextRetryAt   time.Time       `json:"nextRetryAt" db:"next_retry_at"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	LastError     *string         `json:"lastError,omitempty" db:"last_error"`
}

// Transaction rebuilds the ledger transaction a pending entry was queued for.
func (p *PendingLedgerTransaction) Transaction() (*LedgerTransaction, error) {
	var payload map[string]any
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		return nil, err
	}
	return &LedgerTransaction{
		ID:        p.ID,
		Type:      p.OperationType,
		Payload:   payload,
		CreatedAt: p.CreatedAt,
	}, nil
}

// QueueStatus summarizes the recovery queue for health reporting
type QueueStatus struct {
	Total           int            `json:"total"`
	ByOperationType map[string]int `json:"byOperationType"`
	OldestCreatedAt *time.Time     `json:"oldestCreatedAt,omitempty"`
	OldestAge       time.Duration  `json:"oldestAgeNanos"`
}
