package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/audit"
	"github.com/swapbid/backend/internal/ledger"
	"github.com/swapbid/backend/internal/lock"
	"github.com/swapbid/backend/internal/metrics"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/notify"
	"github.com/swapbid/backend/internal/payment"
	"github.com/swapbid/backend/internal/recovery"
	"github.com/swapbid/backend/internal/repository"
	"github.com/swapbid/backend/internal/rollback"
	"github.com/swapbid/backend/internal/settlement"
	"go.uber.org/zap"
)

const (
	reasonOutbid         = "another proposal was selected"
	refundReasonRejected = "proposal rejected"

	// commitTimeout bounds local work that must finish once the ledger has
	// confirmed, whatever happened to the caller.
	commitTimeout = 30 * time.Second
)

// AuctionResolutionService picks auction winners, settles them and records
// the outcome on the ledger.
type AuctionResolutionService struct {
	auctions   repository.AuctionRepository
	strategies *settlement.Registry
	payments   payment.Processor
	locker     lock.Locker
	ledger     ledger.Submitter
	queue      *recovery.Queue
	notifier   *notify.Notifier
	audit      *audit.Logger
	metrics    *metrics.Recorder
	picker     WinnerPicker
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

type ResolutionDeps struct {
	Auctions   repository.AuctionRepository
	Strategies *settlement.Registry
	Payments   payment.Processor
	Locker     lock.Locker
	Ledger     ledger.Submitter // expected to apply retry and the circuit breaker
	Queue      *recovery.Queue
	Notifier   *notify.Notifier
	Audit      *audit.Logger
	Metrics    *metrics.Recorder
	Picker     WinnerPicker
	Logger     *zap.Logger
}

func NewAuctionResolutionService(d ResolutionDeps) *AuctionResolutionService {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	picker := d.Picker
	if picker == nil {
		picker = SortPicker{}
	}
	locker := d.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &AuctionResolutionService{
		auctions:   d.Auctions,
		strategies: d.Strategies,
		payments:   d.Payments,
		locker:     locker,
		ledger:     d.Ledger,
		queue:      d.Queue,
		notifier:   d.Notifier,
		audit:      d.Audit,
		metrics:    d.Metrics,
		picker:     picker,
		logger:     logger.Named("resolution"),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SelectWinner settles proposalID as the winner of auctionID on behalf of the
// auction owner. Losing proposals are rejected afterwards on a best-effort
// basis.
func (s *AuctionResolutionService) SelectWinner(ctx context.Context, auctionID, proposalID, requestorID string) (*models.ResolutionResult, error) {
	if _, _, err := s.loadSelectable(ctx, auctionID, proposalID, requestorID); err != nil {
		return nil, err
	}

	var result *models.ResolutionResult
	err := s.withAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		// state may have moved while we waited for the lock
		auction, proposal, err := s.loadSelectable(ctx, auctionID, proposalID, requestorID)
		if err != nil {
			return err
		}
		result, err = s.resolve(ctx, auction, proposal)
		return err
	})
	if err != nil {
		return nil, err
	}

	// the win is committed; loser cleanup runs to completion regardless of the caller
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	s.rejectLosers(cleanupCtx, result.Auction, result.WinningProposal)
	return result, nil
}

func (s *AuctionResolutionService) loadSelectable(ctx context.Context, auctionID, proposalID, requestorID string) (*models.Auction, *models.AuctionProposal, error) {
	auction, err := s.auctions.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	if auction.OwnerID != requestorID {
		return nil, nil, apperr.Authorization("only the auction owner can select a winner")
	}
	if auction.IsResolved() || auction.Status == models.AuctionResolved {
		return nil, nil, apperr.Conflict("auction %s already resolved", auctionID)
	}
	if auction.Status != models.AuctionEnded {
		return nil, nil, apperr.Validation("auction %s is %s, not ended", auctionID, auction.Status)
	}

	proposal, err := s.auctions.FindProposalByID(ctx, proposalID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, nil, apperr.Validation("proposal %s not found", proposalID)
		}
		return nil, nil, err
	}
	if proposal.AuctionID != auctionID {
		return nil, nil, apperr.Validation("proposal %s does not belong to auction %s", proposalID, auctionID)
	}
	if proposal.Status == models.ProposalResolving {
		return nil, nil, apperr.Conflict("proposal %s is being resolved", proposalID)
	}
	if proposal.Status != models.ProposalPending {
		return nil, nil, apperr.Validation("proposal %s is %s, not pending", proposalID, proposal.Status)
	}
	return auction, proposal, nil
}

// resolve runs with the auction lock held.
func (s *AuctionResolutionService) resolve(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal) (*models.ResolutionResult, error) {
	strategy, err := s.strategies.For(proposal.ProposalType)
	if err != nil {
		return nil, err
	}

	if err := s.auctions.UpdateProposalStatus(ctx, proposal.ID, models.ProposalPending, models.ProposalResolving); err != nil {
		return nil, err
	}
	proposal.Status = models.ProposalResolving

	stack := rollback.NewStack(s.logger, s.metrics)
	stack.Add("revert proposal "+proposal.ID, func(ctx context.Context) error {
		return s.auctions.UpdateProposalStatus(ctx, proposal.ID, models.ProposalResolving, models.ProposalPending)
	})

	settled, err := strategy.Settle(ctx, auction, proposal, stack)
	if err != nil {
		return nil, s.abort(ctx, auction, proposal, stack, err, nil, "")
	}

	tx := &models.LedgerTransaction{
		ID:        s.newID(),
		Type:      models.LedgerAuctionWinnerSelected,
		Payload:   winnerPayload(auction, proposal, settled),
		CreatedAt: s.now(),
	}

	receipt, err := s.ledger.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, s.abort(ctx, auction, proposal, stack, err, tx, tx.ID)
	}

	// The ledger holds the winner now. A cancelled request must not strand it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	if err := s.auctions.SetWinningProposal(ctx, auction.ID, proposal.ID); err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.Internal(err, "record winning proposal")
		}
		s.logger.Error("ledger recorded a winner the store did not accept",
			zap.String("severity", "critical"),
			zap.String("auction_id", auction.ID),
			zap.String("proposal_id", proposal.ID),
			zap.String("ledger_tx_id", receipt.TransactionID),
			zap.Error(err),
		)
		return nil, s.abort(ctx, auction, proposal, stack, err, nil, receipt.TransactionID)
	}
	stack.Clear()

	auction.Status = models.AuctionResolved
	auction.WinningProposalID = &proposal.ID
	proposal.Status = models.ProposalAccepted

	s.audit.WinnerSelected(auction.ID, proposal.ID, receipt.TransactionID)
	s.logger.Info("auction resolved",
		zap.String("auction_id", auction.ID),
		zap.String("proposal_id", proposal.ID),
		zap.String("proposal_type", string(proposal.ProposalType)),
		zap.String("ledger_tx_id", receipt.TransactionID),
	)
	s.notifier.WinnerSelected(ctx, auction, proposal)

	return &models.ResolutionResult{
		Auction:         auction,
		WinningProposal: proposal,
		LedgerReceipt:   receipt,
	}, nil
}

// abort undoes local side effects after a failed settlement. When
// unconfirmed is set the ledger transaction is queued for resubmission.
// A failed compensation outranks the original cause.
func (s *AuctionResolutionService) abort(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal,
	stack *rollback.Stack, cause error, unconfirmed *models.LedgerTransaction, ledgerTxID string) error {
	ctx = context.WithoutCancel(ctx)

	rbErr := stack.Execute(ctx)
	proposal.Status = models.ProposalPending

	if unconfirmed != nil {
		if err := s.queue.Enqueue(ctx, unconfirmed.ID, unconfirmed.Type, unconfirmed.Payload); err != nil {
			s.logger.Error("ledger transaction could not be queued for recovery",
				zap.String("severity", "critical"),
				zap.String("transaction_id", unconfirmed.ID),
				zap.Any("payload", unconfirmed.Payload),
				zap.Error(err),
			)
		}
	}

	s.audit.SettlementRolledBack(auction.ID, proposal.ID, ledgerTxID, cause, rbErr)
	s.logger.Warn("settlement rolled back",
		zap.String("auction_id", auction.ID),
		zap.String("proposal_id", proposal.ID),
		zap.Bool("queued", unconfirmed != nil),
		zap.Error(cause),
	)

	if rbErr != nil {
		return fmt.Errorf("%w (settlement failed: %v)", rbErr, cause)
	}
	return cause
}

func winnerPayload(auction *models.Auction, proposal *models.AuctionProposal, settled *settlement.Settlement) map[string]any {
	payload := map[string]any{
		"auctionId":  auction.ID,
		"proposalId": proposal.ID,
		"ownerId":    auction.OwnerID,
		"proposerId": proposal.ProposerID,
	}
	if settled != nil {
		for k, v := range settled.Payload {
			payload[k] = v
		}
	}
	return payload
}

func (s *AuctionResolutionService) rejectLosers(ctx context.Context, auction *models.Auction, winner *models.AuctionProposal) {
	proposals, err := s.auctions.FindProposalsByAuction(ctx, auction.ID)
	if err != nil {
		s.logger.Warn("could not load losing proposals", zap.String("auction_id", auction.ID), zap.Error(err))
		return
	}

	var losers []string
	for _, p := range proposals {
		if p.ID != winner.ID && p.Status == models.ProposalPending {
			losers = append(losers, p.ID)
		}
	}
	if len(losers) == 0 {
		return
	}

	err = s.withAuctionLock(ctx, auction.ID, func(ctx context.Context) error {
		_, err := s.reject(ctx, auction.ID, losers, reasonOutbid, true)
		return err
	})
	if err != nil {
		s.logger.Warn("losing proposals not rejected",
			zap.String("auction_id", auction.ID),
			zap.Strings("proposal_ids", losers),
			zap.Error(err),
		)
	}
}

// RejectProposals rejects the pending proposals among proposalIDs. Proposals
// that are no longer pending are skipped.
func (s *AuctionResolutionService) RejectProposals(ctx context.Context, auctionID string, proposalIDs []string, requestorID, reason string) (*models.RejectionResult, error) {
	if len(proposalIDs) == 0 {
		return nil, apperr.Validation("no proposals to reject")
	}

	auction, err := s.auctions.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.OwnerID != requestorID {
		return nil, apperr.Authorization("only the auction owner can reject proposals")
	}

	var result *models.RejectionResult
	err = s.withAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		var err error
		result, err = s.reject(ctx, auctionID, proposalIDs, reason, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reject runs with the auction lock held.
func (s *AuctionResolutionService) reject(ctx context.Context, auctionID string, proposalIDs []string, reason string, outbid bool) (*models.RejectionResult, error) {
	proposals, err := s.auctions.FindProposalsByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.AuctionProposal, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = p
	}

	result := &models.RejectionResult{}
	var candidates []string
	seen := make(map[string]struct{}, len(proposalIDs))
	for _, id := range proposalIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, ok := byID[id]
		switch {
		case !ok:
			s.logger.Info("skipping unknown proposal", zap.String("auction_id", auctionID), zap.String("proposal_id", id))
			result.Skipped = append(result.Skipped, id)
		case p.Status != models.ProposalPending:
			s.logger.Info("skipping proposal that is not pending",
				zap.String("auction_id", auctionID),
				zap.String("proposal_id", id),
				zap.String("status", string(p.Status)),
			)
			result.Skipped = append(result.Skipped, id)
		default:
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return result, nil
	}

	rejected, err := s.auctions.RejectProposals(ctx, auctionID, candidates)
	if err != nil {
		return nil, err
	}
	result.Rejected = rejected

	done := make(map[string]struct{}, len(rejected))
	for _, id := range rejected {
		done[id] = struct{}{}
	}
	for _, id := range candidates {
		if _, ok := done[id]; !ok {
			result.Skipped = append(result.Skipped, id)
		}
	}
	if len(rejected) == 0 {
		return result, nil
	}

	rejectedProposals := make([]*models.AuctionProposal, 0, len(rejected))
	for _, id := range rejected {
		p := byID[id]
		p.Status = models.ProposalRejected
		rejectedProposals = append(rejectedProposals, p)
	}

	refunds := s.refundEscrow(ctx, rejectedProposals)

	payload := map[string]any{
		"auctionId":   auctionID,
		"proposalIds": rejected,
		"refunds":     refunds,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	tx := &models.LedgerTransaction{
		ID:        s.newID(),
		Type:      models.LedgerProposalsRejected,
		Payload:   payload,
		CreatedAt: s.now(),
	}

	receipt, err := s.ledger.SubmitTransaction(ctx, tx)
	if err != nil {
		s.logger.Warn("rejection not confirmed by ledger, queued for recovery",
			zap.String("auction_id", auctionID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		if qErr := s.queue.Enqueue(context.WithoutCancel(ctx), tx.ID, tx.Type, tx.Payload); qErr != nil {
			s.logger.Error("ledger transaction could not be queued for recovery",
				zap.String("severity", "critical"),
				zap.String("transaction_id", tx.ID),
				zap.Any("payload", tx.Payload),
				zap.Error(qErr),
			)
		}
		result.Queued = true
	} else {
		result.LedgerReceipt = receipt
	}

	s.audit.ProposalsRejected(auctionID, rejected, tx.ID, result.Queued)

	if outbid {
		auction := &models.Auction{ID: auctionID}
		for _, p := range rejectedProposals {
			s.notifier.ProposalLost(ctx, auction, p)
		}
	} else {
		s.notifier.ProposalsRejected(ctx, auctionID, rejectedProposals, reason)
	}

	return result, nil
}

// refundEscrow releases held funds for rejected cash proposals. Failures are
// logged and left for the payment provider's reconciliation.
func (s *AuctionResolutionService) refundEscrow(ctx context.Context, proposals []*models.AuctionProposal) []map[string]any {
	refunds := make([]map[string]any, 0)
	for _, p := range proposals {
		if !p.HasEscrow() {
			continue
		}
		amount := p.CashOffer.Amount
		receipt, err := s.payments.RefundPayment(ctx, p.CashOffer.EscrowAccountID, &amount, refundReasonRejected)
		if err != nil {
			s.logger.Warn("escrow refund failed",
				zap.String("proposal_id", p.ID),
				zap.String("escrow_ref", p.CashOffer.EscrowAccountID),
				zap.Error(err),
			)
			continue
		}
		refunds = append(refunds, map[string]any{
			"proposalId": p.ID,
			"refundRef":  receipt.RefundRef,
			"amount":     amount.StringFixed(2),
		})
	}
	return refunds
}

// HandleAutoSelection resolves an ended auction on the owner's behalf using
// the configured picker.
func (s *AuctionResolutionService) HandleAutoSelection(ctx context.Context, auctionID string) (*models.ResolutionResult, error) {
	auction, err := s.auctions.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.IsResolved() || auction.Status == models.AuctionResolved {
		return nil, apperr.Conflict("auction %s already resolved", auctionID)
	}
	if auction.Status != models.AuctionEnded {
		return nil, apperr.Validation("auction %s is %s, not ended", auctionID, auction.Status)
	}

	proposals, err := s.auctions.FindProposalsByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	// Walk the ranking: a candidate whose settlement is refused (booking no
	// longer lockable, payment declined) gives way to the next one.
	var lastErr error
	for {
		winner := s.picker.Pick(auction.Settings, proposals)
		if winner == nil {
			break
		}

		s.logger.Info("auto-selecting winner",
			zap.String("auction_id", auctionID),
			zap.String("proposal_id", winner.ID),
		)
		result, err := s.SelectWinner(ctx, auctionID, winner.ID, auction.OwnerID)
		if err == nil {
			return result, nil
		}
		if !apperr.IsKind(err, apperr.KindValidation) {
			return nil, err
		}

		s.logger.Info("auto-selection candidate refused, trying next",
			zap.String("auction_id", auctionID),
			zap.String("proposal_id", winner.ID),
			zap.Error(err),
		)
		lastErr = err
		proposals = without(proposals, winner.ID)
	}

	if lastErr != nil {
		return nil, apperr.Wrap(apperr.KindValidation, lastErr, "no proposal could be settled").
			With("auction_id", auctionID)
	}
	return nil, apperr.Validation("auction %s has no eligible proposals", auctionID)
}

func without(proposals []*models.AuctionProposal, id string) []*models.AuctionProposal {
	out := make([]*models.AuctionProposal, 0, len(proposals))
	for _, p := range proposals {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func (s *AuctionResolutionService) withAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, lock.AuctionKey(auctionID), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return apperr.Wrap(apperr.KindConflict, err, "auction is being resolved by another request").
			With("auction_id", auctionID)
	}
	return err
}

// TriggerAutoSelection lets the owner run auto-selection without waiting
// for the sweeper.
func (s *AuctionResolutionService) TriggerAutoSelection(ctx context.Context, auctionID, requestorID string) (*models.ResolutionResult, error) {
	auction, err := s.auctions.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.OwnerID != requestorID {
		return nil, apperr.Authorization("only the auction owner can trigger auto-selection")
	}
	return s.HandleAutoSelection(ctx, auctionID)
}
