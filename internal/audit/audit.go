// Package audit records settlement outcomes as structured audit events.
package audit

import (
	"time"

	"go.uber.org/zap"
)

const (
	EventWinnerSelected       = "WINNER_SELECTED"
	EventSettlementRolledBack = "SETTLEMENT_ROLLED_BACK"
	EventProposalsRejected    = "PROPOSALS_REJECTED"
	EventRecoveryDropped      = "RECOVERY_DROPPED"
)

type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	AuctionID     string         `json:"auction_id,omitempty"`
	ProposalID    string         `json:"proposal_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Status        string         `json:"status"`
	Details       map[string]any `json:"details,omitempty"`
}

// Logger writes audit events to a dedicated named zap logger. A nil Logger
// discards events.
type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (a *Logger) WinnerSelected(auctionID, proposalID, ledgerTxID string) {
	a.log(Event{
		EventType:     EventWinnerSelected,
		AuctionID:     auctionID,
		ProposalID:    proposalID,
		TransactionID: ledgerTxID,
		Status:        "SUCCESS",
	})
}

func (a *Logger) SettlementRolledBack(auctionID, proposalID, ledgerTxID string, cause, rollbackErr error) {
	details := map[string]any{}
	if cause != nil {
		details["error"] = cause.Error()
	}
	status := "ROLLED_BACK"
	if rollbackErr != nil {
		details["rollback_error"] = rollbackErr.Error()
		status = "ROLLBACK_INCOMPLETE"
	}

	a.log(Event{
		EventType:     EventSettlementRolledBack,
		AuctionID:     auctionID,
		ProposalID:    proposalID,
		TransactionID: ledgerTxID,
		Status:        status,
		Details:       details,
	})
}

func (a *Logger) ProposalsRejected(auctionID string, proposalIDs []string, ledgerTxID string, queued bool) {
	status := "SUCCESS"
	if queued {
		status = "QUEUED"
	}

	a.log(Event{
		EventType:     EventProposalsRejected,
		AuctionID:     auctionID,
		TransactionID: ledgerTxID,
		Status:        status,
		Details:       map[string]any{"proposal_ids": proposalIDs},
	})
}

func (a *Logger) RecoveryDropped(ledgerTxID, operationType string, attempts int, cause error) {
	details := map[string]any{
		"operation_type": operationType,
		"attempts":       attempts,
	}
	if cause != nil {
		details["error"] = cause.Error()
	}

	a.log(Event{
		EventType:     EventRecoveryDropped,
		TransactionID: ledgerTxID,
		Status:        "FAILED",
		Details:       details,
	})
}

func (a *Logger) log(event Event) {
	if a == nil {
		return
	}
	event.Timestamp = a.now()

	a.logger.Info("AUDIT",
		zap.String("event_type", event.EventType),
		zap.Any("event", event),
	)
}
