// Package settlement applies the real-world effect of a winning proposal:
// locking bookings for in-kind offers, moving escrowed funds for cash offers.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/payment"
	"github.com/swapbid/backend/internal/repository"
	"github.com/swapbid/backend/internal/rollback"
	"go.uber.org/zap"
)

// Settlement is what a strategy hands back to the resolution service.
type Settlement struct {
	// Payload is merged into the winner ledger transaction.
	Payload map[string]any
	Receipt *models.PaymentReceipt
}

// Strategy settles one proposal type. Every side effect it performs is
// paired with a compensation pushed onto stack before Settle returns, even
// when Settle itself fails part way.
type Strategy interface {
	Type() models.ProposalType
	Settle(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal, stack *rollback.Stack) (*Settlement, error)
}

// Registry selects the strategy for a proposal type.
type Registry struct {
	strategies map[models.ProposalType]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[models.ProposalType]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

func (r *Registry) For(t models.ProposalType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, apperr.Validation("unsupported proposal type %q", t)
	}
	return s, nil
}

// LockOwner is recorded on bookings locked while settling an auction.
func LockOwner(auctionID string) string {
	return "auction:" + auctionID
}

type BookingStrategy struct {
	bookings repository.BookingRepository
	logger   *zap.Logger
}

var _ Strategy = (*BookingStrategy)(nil)

func NewBookingStrategy(bookings repository.BookingRepository, logger *zap.Logger) *BookingStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingStrategy{bookings: bookings, logger: logger.Named("settlement.booking")}
}

func (s *BookingStrategy) Type() models.ProposalType {
	return models.ProposalBooking
}

// Settle locks the auction's source booking and the offered booking.
func (s *BookingStrategy) Settle(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal, stack *rollback.Stack) (*Settlement, error) {
	if proposal.BookingID == nil || *proposal.BookingID == "" {
		return nil, apperr.Validation("booking proposal %s has no booking", proposal.ID)
	}
	if auction.SourceBookingID == "" {
		return nil, apperr.Validation("auction %s has no source booking", auction.ID)
	}
	if !auction.Settings.AllowBookingProposals {
		return nil, apperr.Validation("auction %s does not accept booking proposals", auction.ID)
	}

	owner := LockOwner(auction.ID)
	for _, bookingID := range []string{auction.SourceBookingID, *proposal.BookingID} {
		if err := s.bookings.LockBooking(ctx, bookingID, owner); err != nil {
			return nil, err
		}

		id := bookingID
		stack.Add("unlock booking "+id, func(ctx context.Context) error {
			return s.bookings.UnlockBooking(ctx, id)
		})
		s.logger.Debug("booking locked", zap.String("booking_id", id), zap.String("owner", owner))
	}

	return &Settlement{
		Payload: map[string]any{
			"proposalType":      string(models.ProposalBooking),
			"sourceBookingId":   auction.SourceBookingID,
			"proposalBookingId": *proposal.BookingID,
		},
	}, nil
}

type CashStrategy struct {
	payments payment.Processor
	fees     payment.FeeSchedule
	validate *validator.Validate
	logger   *zap.Logger
}

var _ Strategy = (*CashStrategy)(nil)

func NewCashStrategy(payments payment.Processor, fees payment.FeeSchedule, logger *zap.Logger) *CashStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CashStrategy{
		payments: payments,
		fees:     fees,
		validate: validator.New(),
		logger:   logger.Named("settlement.cash"),
	}
}

func (s *CashStrategy) Type() models.ProposalType {
	return models.ProposalCash
}

// Settle captures the escrowed offer and registers a full refund as its
// compensation.
func (s *CashStrategy) Settle(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal, stack *rollback.Stack) (*Settlement, error) {
	offer := proposal.CashOffer
	if offer == nil {
		return nil, apperr.Validation("cash proposal %s has no offer", proposal.ID)
	}
	if err := s.validate.Struct(offer); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid cash offer")
	}
	if offer.EscrowAccountID == "" {
		return nil, apperr.Validation("cash proposal %s has no escrow account", proposal.ID)
	}
	if !offer.Amount.IsPositive() {
		return nil, apperr.Validation("cash offer must be positive")
	}
	if !auction.Settings.AllowCashProposals {
		return nil, apperr.Validation("auction %s does not accept cash proposals", auction.ID)
	}
	if offer.Amount.LessThan(auction.Settings.MinimumCashOffer) {
		return nil, apperr.Validation("cash offer %s is below the minimum of %s",
			offer.Amount.StringFixed(2), auction.Settings.MinimumCashOffer.StringFixed(2))
	}

	platformFee, processingFee, net := s.fees.Fees(offer.Amount)
	receipt, err := s.payments.ProcessPayment(ctx, &models.PaymentRequest{
		AuctionID:       auction.ID,
		ProposalID:      proposal.ID,
		PayerID:         proposal.ProposerID,
		PayeeID:         auction.OwnerID,
		Amount:          offer.Amount,
		Currency:        offer.Currency,
		PaymentMethodID: offer.PaymentMethodID,
		EscrowAccountID: offer.EscrowAccountID,
		PlatformFee:     platformFee,
		ProcessingFee:   processingFee,
		NetAmount:       net,
	})
	if err != nil {
		if !apperr.IsKind(err, apperr.KindValidation) {
			s.compensateUnknownOutcome(ctx, proposal, stack, err)
		}
		return nil, fmt.Errorf("process cash payment: %w", err)
	}

	escrowRef := receipt.EscrowRef
	s.addRefund(stack, escrowRef)

	payload := receipt.LedgerFields()
	payload["proposalType"] = string(models.ProposalCash)

	s.logger.Info("cash proposal settled",
		zap.String("auction_id", auction.ID),
		zap.String("proposal_id", proposal.ID),
		zap.String("escrow_ref", escrowRef),
	)
	return &Settlement{Payload: payload, Receipt: receipt}, nil
}

// Payment states in which no funds were taken.
var uncapturedStatuses = map[string]bool{
	"failed":    true,
	"declined":  true,
	"cancelled": true,
	"voided":    true,
	"refunded":  true,
}

const statusLookupTimeout = 5 * time.Second

func (s *CashStrategy) addRefund(stack *rollback.Stack, escrowRef string) {
	stack.Add("refund escrow "+escrowRef, func(ctx context.Context) error {
		_, err := s.payments.RefundPayment(ctx, escrowRef, nil, "auction settlement rolled back")
		return err
	})
}

// compensateUnknownOutcome handles a payment call that failed without a
// decline. The escrow may have been captured before the error surfaced, so
// the refund is registered unless the payment service confirms nothing was
// taken. An unanswerable lookup counts as captured.
func (s *CashStrategy) compensateUnknownOutcome(ctx context.Context, proposal *models.AuctionProposal, stack *rollback.Stack, payErr error) {
	escrowRef := proposal.CashOffer.EscrowAccountID

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLookupTimeout)
	defer cancel()

	status, err := s.payments.GetTransactionStatus(lookupCtx, escrowRef)
	switch {
	case apperr.IsKind(err, apperr.KindNotFound):
		return
	case err != nil:
		s.logger.Warn("payment outcome unknown, registering refund",
			zap.String("proposal_id", proposal.ID),
			zap.String("escrow_ref", escrowRef),
			zap.NamedError("payment_error", payErr),
			zap.Error(err),
		)
	case uncapturedStatuses[status.Status]:
		return
	default:
		if status.EscrowRef != "" {
			escrowRef = status.EscrowRef
		}
		s.logger.Warn("payment captured despite error, registering refund",
			zap.String("proposal_id", proposal.ID),
			zap.String("escrow_ref", escrowRef),
			zap.String("status", status.Status),
			zap.NamedError("payment_error", payErr),
		)
	}
	s.addRefund(stack, escrowRef)
}
