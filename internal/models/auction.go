package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionResolved  AuctionStatus = "resolved"
	AuctionCancelled AuctionStatus = "cancelled"
)

// CanTransitionTo reports whether the auction may move to next.
// Transitions are monotonic: active -> ended -> resolved, or -> cancelled
// from active or ended.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionActive:
		return next == AuctionEnded || next == AuctionCancelled
	case AuctionEnded:
		return next == AuctionResolved || next == AuctionCancelled
	default:
		return false
	}
}

// AuctionSettings holds the owner's auction configuration
type AuctionSettings struct {
	EndDate               time.Time       `json:"endDate" db:"end_date"`
	AllowBookingProposals bool            `json:"allowBookingProposals" db:"allow_booking_proposals"`
	AllowCashProposals    bool            `json:"allowCashProposals" db:"allow_cash_proposals"`
	MinimumCashOffer      decimal.Decimal `json:"minimumCashOffer" db:"minimum_cash_offer"`
	AutoSelectAfterHours  int             `json:"autoSelectAfterHours" db:"auto_select_after_hours"`
}

// AutoSelectDue is the moment an unresolved ended auction becomes eligible
// for automatic winner selection.
func (s AuctionSettings) AutoSelectDue() time.Time {
	return s.EndDate.Add(time.Duration(s.AutoSelectAfterHours) * time.Hour)
}

// Auction is a time-boxed negotiation attached to a swap
type Auction struct {
	ID                string          `json:"id" db:"id"`
	OwnerID           string          `json:"ownerId" db:"owner_id"`
	SwapID            string          `json:"swapId" db:"swap_id"`
	SourceBookingID   string          `json:"sourceBookingId" db:"source_booking_id"`
	Status            AuctionStatus   `json:"status" db:"status"`
	Settings          AuctionSettings `json:"settings"`
	WinningProposalID *string         `json:"winningProposalId,omitempty" db:"winning_proposal_id"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// IsResolved reports whether a winner has been recorded.
func (a *Auction) IsResolved() bool {
	return a.WinningProposalID != nil
}

type ProposalType string

const (
	ProposalBooking ProposalType = "booking"
	ProposalCash    ProposalType = "cash"
)

type ProposalStatus string

const (
	ProposalPending ProposalStatus = "pending"
	// ProposalResolving marks a proposal whose settlement is in flight. It is
	// never observable as a winner.
	ProposalResolving ProposalStatus = "resolving"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
)

func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case ProposalPending:
		return next == ProposalResolving || next == ProposalRejected
	case ProposalResolving:
		return next == ProposalAccepted || next == ProposalPending
	default:
		return false
	}
}

// CashOffer is the monetary part of a cash proposal
type CashOffer struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	PaymentMethodID string          `json:"paymentMethodId" validate:"required"`
	EscrowRequired  bool            `json:"escrowRequired"`
	EscrowAccountID string          `json:"escrowAccountId,omitempty" validate:"required_if=EscrowRequired true"`
}

// AuctionProposal is an offer submitted against an auction
type AuctionProposal struct {
	ID           string         `json:"id" db:"id"`
	AuctionID    string         `json:"auctionId" db:"auction_id"`
	ProposerID   string         `json:"proposerId" db:"proposer_id"`
	ProposalType ProposalType   `json:"proposalType" db:"proposal_type"`
	BookingID    *string        `json:"bookingId,omitempty" db:"booking_id"`
	CashOffer    *CashOffer     `json:"cashOffer,omitempty"`
	Status       ProposalStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// HasEscrow reports whether rejecting the proposal must release held funds.
func (p *AuctionProposal) HasEscrow() bool {
	return p.ProposalType == ProposalCash && p.CashOffer != nil &&
		p.CashOffer.EscrowRequired && p.CashOffer.EscrowAccountID != ""
}

// ResolutionResult is returned when a winner has been committed.
type ResolutionResult struct {
	Auction         *Auction         `json:"auction"`
	WinningProposal *AuctionProposal `json:"winningProposal"`
	LedgerReceipt   *LedgerReceipt   `json:"ledgerReceipt"`
}

// RejectionResult reports which proposals were rejected and which skipped.
type RejectionResult struct {
	Rejected      []string       `json:"rejected"`
	Skipped       []string       `json:"skipped"`
	LedgerReceipt *LedgerReceipt `json:"ledgerReceipt,omitempty"`
	Queued        bool           `json:"queued"`
}
