package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest asks the escrow service to settle a cash proposal
type PaymentRequest struct {
	AuctionID       string          `json:"auctionId" validate:"required"`
	ProposalID      string          `json:"proposalId" validate:"required"`
	PayerID         string          `json:"payerId" validate:"required"`
	PayeeID         string          `json:"payeeId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	PaymentMethodID string          `json:"paymentMethodId" validate:"required"`
	EscrowAccountID string          `json:"escrowAccountId,omitempty"`
	PlatformFee     decimal.Decimal `json:"platformFee"`
	ProcessingFee   decimal.Decimal `json:"processingFee"`
	NetAmount       decimal.Decimal `json:"netAmount"`
}

// PaymentReceipt is returned by the escrow service
type PaymentReceipt struct {
	EscrowRef     string          `json:"escrowRef"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PlatformFee   decimal.Decimal `json:"platformFee"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	ProcessedAt   time.Time       `json:"processedAt"`
}

// LedgerFields flattens the receipt into the winner ledger payload.
func (r *PaymentReceipt) LedgerFields() map[string]any {
	return map[string]any{
		"escrowRef":     r.EscrowRef,
		"paymentStatus": r.Status,
		"amount":        r.Amount.StringFixed(2),
		"currency":      r.Currency,
		"platformFee":   r.PlatformFee.StringFixed(2),
		"processingFee": r.ProcessingFee.StringFixed(2),
		"netAmount":     r.NetAmount.StringFixed(2),
	}
}

// RefundReceipt confirms released escrow funds
type RefundReceipt struct {
	RefundRef string          `json:"refundRef"`
	EscrowRef string          `json:"escrowRef"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}

// PaymentStatus reports the escrow service's view of a payment
type PaymentStatus struct {
	EscrowRef string `json:"escrowRef"`
	Status    string `json:"status"`
}
