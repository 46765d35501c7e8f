package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/audit"
	"github.com/swapbid/backend/internal/breaker"
	"github.com/swapbid/backend/internal/ledger"
	"github.com/swapbid/backend/internal/lock"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/notify"
	"github.com/swapbid/backend/internal/payment"
	"github.com/swapbid/backend/internal/recovery"
	"github.com/swapbid/backend/internal/retry"
	"github.com/swapbid/backend/internal/settlement"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	ownerID   = "owner-1"
	auctionID = "auc-1"
)

type harness struct {
	svc       *AuctionResolutionService
	auctions  *memAuctions
	bookings  *memBookings
	payments  *MockPayments
	ledger    *scriptedLedger
	pending   *memPending
	published *recordingPublisher
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, ledgerResults ...error) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		auctions:  newMemAuctions(),
		bookings:  newMemBookings("bk-src", "bk-a", "bk-d"),
		payments:  &MockPayments{},
		ledger:    &scriptedLedger{results: ledgerResults},
		pending:   newMemPending(),
		published: &recordingPublisher{},
		logs:      logs,
	}

	b := breaker.NewManager(logger, nil).GetOrCreate(breaker.LedgerSubmit, breaker.Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})
	gateway := ledger.NewGateway(h.ledger, b, retry.NewPolicy(time.Millisecond, 2, 5*time.Millisecond, nil), 3, nil, logger)

	h.svc = NewAuctionResolutionService(ResolutionDeps{
		Auctions: h.auctions,
		Strategies: settlement.NewRegistry(
			settlement.NewBookingStrategy(h.bookings, logger),
			settlement.NewCashStrategy(h.payments, payment.FeeSchedule{PlatformPercent: decimal.NewFromInt(5)}, logger),
		),
		Payments: h.payments,
		Locker:   lock.NewLocalLocker(),
		Ledger:   gateway,
		Queue:    recovery.NewQueue(h.pending, logger),
		Notifier: notify.NewNotifier(h.published, time.Second, logger),
		Audit:    audit.NewLogger(logger),
		Logger:   logger,
	})

	h.auctions.addAuction(&models.Auction{
		ID:              auctionID,
		OwnerID:         ownerID,
		SwapID:          "swap-1",
		SourceBookingID: "bk-src",
		Status:          models.AuctionEnded,
		Settings: models.AuctionSettings{
			EndDate:               time.Now().Add(-48 * time.Hour),
			AllowBookingProposals: true,
			AllowCashProposals:    true,
			MinimumCashOffer:      decimal.NewFromInt(100),
			AutoSelectAfterHours:  24,
		},
	})
	return h
}

func (h *harness) addBooking(id, bookingID string, created time.Time) {
	b := bookingID
	h.auctions.addProposal(&models.AuctionProposal{
		ID:           id,
		AuctionID:    auctionID,
		ProposerID:   "u-" + id,
		ProposalType: models.ProposalBooking,
		BookingID:    &b,
		Status:       models.ProposalPending,
		CreatedAt:    created,
	})
}

func (h *harness) addCash(id string, amount int64, created time.Time) {
	h.auctions.addProposal(&models.AuctionProposal{
		ID:           id,
		AuctionID:    auctionID,
		ProposerID:   "u-" + id,
		ProposalType: models.ProposalCash,
		CashOffer: &models.CashOffer{
			Amount:          decimal.NewFromInt(amount),
			Currency:        "USD",
			PaymentMethodID: "pm-" + id,
			EscrowRequired:  true,
			EscrowAccountID: "esc-" + id,
		},
		Status:    models.ProposalPending,
		CreatedAt: created,
	})
}

func transient() error {
	return apperr.New(apperr.KindTransientLedger, "ledger busy")
}

func TestSelectWinner_CashProposalWinsAndLosersAreRejected(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-72 * time.Hour)
	h.addBooking("p-a", "bk-a", base)
	h.addCash("p-b", 200, base.Add(time.Hour))
	h.addCash("p-c", 150, base.Add(2*time.Hour))

	h.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(req *models.PaymentRequest) bool {
		return req.ProposalID == "p-b" && req.Amount.Equal(decimal.NewFromInt(200))
	})).Return(&models.PaymentReceipt{
		EscrowRef: "escrow-ref-b",
		Status:    "captured",
		Amount:    decimal.NewFromInt(200),
		Currency:  "USD",
		NetAmount: decimal.NewFromInt(190),
	}, nil).Once()
	h.payments.On("RefundPayment", mock.Anything, "esc-p-c", mock.MatchedBy(func(amount *decimal.Decimal) bool {
		return amount != nil && amount.Equal(decimal.NewFromInt(150))
	}), refundReasonRejected).Return(&models.RefundReceipt{RefundRef: "refund-c"}, nil).Once()

	result, err := h.svc.SelectWinner(context.Background(), auctionID, "p-b", ownerID)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalAccepted, result.WinningProposal.Status)
	assert.Equal(t, models.AuctionResolved, result.Auction.Status)
	require.NotNil(t, result.LedgerReceipt)

	stored := h.auctions.auction(auctionID)
	require.NotNil(t, stored.WinningProposalID)
	assert.Equal(t, "p-b", *stored.WinningProposalID)
	assert.Equal(t, models.ProposalAccepted, h.auctions.status("p-b"))
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-a"))
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-c"))

	winners := h.ledger.confirmedOfType(models.LedgerAuctionWinnerSelected)
	require.Len(t, winners, 1)
	assert.Equal(t, "escrow-ref-b", winners[0].Payload["escrowRef"])
	assert.Equal(t, "p-b", winners[0].Payload["proposalId"])
	assert.Len(t, h.ledger.confirmedOfType(models.LedgerProposalsRejected), 1)

	assert.False(t, h.bookings.isLocked("bk-src"))
	assert.Len(t, h.published.ofType(notify.EventWinnerSelected), 1)
	assert.Len(t, h.published.ofType(notify.EventProposalLost), 2)

	h.payments.AssertExpectations(t)
}

func TestSelectWinner_ConcurrentCallsHaveExactlyOneWinner(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-72 * time.Hour)
	h.addBooking("p-a", "bk-a", base)
	h.addBooking("p-d", "bk-d", base.Add(time.Minute))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, id := range []string{"p-a", "p-d"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = h.svc.SelectWinner(context.Background(), auctionID, id, ownerID)
		}(i, id)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperr.IsKind(err, apperr.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	accepted := 0
	for _, id := range []string{"p-a", "p-d"} {
		if h.auctions.status(id) == models.ProposalAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.ledger.confirmedOfType(models.LedgerAuctionWinnerSelected), 1)
}

func TestSelectWinner_TransientFailuresThenSuccess(t *testing.T) {
	h := newHarness(t, transient(), transient())
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))

	result, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)
	require.NoError(t, err)

	assert.Equal(t, "p-a", result.WinningProposal.ID)
	assert.Equal(t, 3, h.ledger.callCount())
	assert.True(t, h.bookings.isLocked("bk-src"))
	assert.True(t, h.bookings.isLocked("bk-a"))
	assert.Equal(t, 0, h.bookings.unlocks, "rollback must not run after a confirmed commit")
	assert.Empty(t, h.pending.entries)
}

func TestSelectWinner_LedgerExhaustedRollsBackAndQueues(t *testing.T) {
	h := newHarness(t, transient(), transient(), transient())
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))

	_, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)
	require.Error(t, err)

	assert.Equal(t, apperr.KindTransientLedger, apperr.KindOf(err))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 3, h.ledger.callCount())

	assert.False(t, h.bookings.isLocked("bk-src"))
	assert.False(t, h.bookings.isLocked("bk-a"))
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-a"))
	assert.Nil(t, h.auctions.auction(auctionID).WinningProposalID)

	require.Len(t, h.pending.entries, 1)
	for _, e := range h.pending.entries {
		assert.Equal(t, models.LedgerAuctionWinnerSelected, e.OperationType)
		assert.Equal(t, 0, e.Attempts)
	}

	// the auction stays resolvable once the ledger recovers
	result, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalAccepted, result.WinningProposal.Status)
}

func TestSelectWinner_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		auctionID string
		proposal  string
		requestor string
		kind      apperr.Kind
	}{
		{
			name:      "unknown auction",
			auctionID: "missing",
			proposal:  "p-a",
			requestor: ownerID,
			kind:      apperr.KindNotFound,
		},
		{
			name:      "not the owner",
			auctionID: auctionID,
			proposal:  "p-a",
			requestor: "someone-else",
			kind:      apperr.KindAuthorization,
		},
		{
			name: "auction still active",
			setup: func(h *harness) {
				h.auctions.auctions[auctionID].Status = models.AuctionActive
			},
			auctionID: auctionID,
			proposal:  "p-a",
			requestor: ownerID,
			kind:      apperr.KindValidation,
		},
		{
			name: "already resolved",
			setup: func(h *harness) {
				id := "p-x"
				h.auctions.auctions[auctionID].WinningProposalID = &id
				h.auctions.auctions[auctionID].Status = models.AuctionResolved
			},
			auctionID: auctionID,
			proposal:  "p-a",
			requestor: ownerID,
			kind:      apperr.KindConflict,
		},
		{
			name: "proposal on another auction",
			setup: func(h *harness) {
				h.auctions.proposals["p-a"].AuctionID = "auc-2"
			},
			auctionID: auctionID,
			proposal:  "p-a",
			requestor: ownerID,
			kind:      apperr.KindValidation,
		},
		{
			name: "proposal already rejected",
			setup: func(h *harness) {
				h.auctions.proposals["p-a"].Status = models.ProposalRejected
			},
			auctionID: auctionID,
			proposal:  "p-a",
			requestor: ownerID,
			kind:      apperr.KindValidation,
		},
		{
			name:      "unknown proposal",
			auctionID: auctionID,
			proposal:  "p-missing",
			requestor: ownerID,
			kind:      apperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := h.svc.SelectWinner(context.Background(), tt.auctionID, tt.proposal, tt.requestor)

			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), err.Error())
			assert.Equal(t, 0, h.ledger.callCount())
		})
	}
}

func TestSelectWinner_SettlementFailureUndoesPartialLocks(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))
	require.NoError(t, h.bookings.LockBooking(context.Background(), "bk-a", "swap-elsewhere"))

	_, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)

	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 0, h.ledger.callCount())
	assert.False(t, h.bookings.isLocked("bk-src"))
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-a"))
	assert.Empty(t, h.pending.entries)
}

func TestSelectWinner_RollbackFailureTakesPrecedence(t *testing.T) {
	h := newHarness(t, apperr.New(apperr.KindLedgerRejected, "invalid signature"))
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))
	h.bookings.unlockErr = errors.New("bookings table unavailable")

	_, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)

	require.Error(t, err)
	assert.Equal(t, apperr.KindRollbackFailure, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "invalid signature")
	assert.Equal(t, 1, h.ledger.callCount(), "fatal ledger errors are not retried")
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-a"))

	critical := h.logs.FilterMessage("compensating action failed").All()
	assert.Len(t, critical, 2)
}

func TestSelectWinner_LostCommitAfterLedgerSuccess(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))
	h.auctions.setWinnerErr = apperr.Conflict("auction %s already resolved", auctionID)

	_, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.False(t, h.bookings.isLocked("bk-src"))
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-a"))
	assert.Empty(t, h.pending.entries, "a confirmed transaction is never resubmitted")

	alerts := h.logs.FilterMessage("ledger recorded a winner the store did not accept").All()
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].ContextMap()["severity"])
}

func TestSelectWinner_CommitSurvivesCancelledRequest(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	h.addBooking("p-a", "bk-a", base)
	h.addBooking("p-d", "bk-d", base.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ledger.onConfirm = func(tx *models.LedgerTransaction) {
		if tx.Type == models.LedgerAuctionWinnerSelected {
			cancel()
		}
	}

	result, err := h.svc.SelectWinner(ctx, auctionID, "p-a", ownerID)
	require.NoError(t, err)
	assert.Equal(t, "p-a", result.WinningProposal.ID)

	stored := h.auctions.auction(auctionID)
	require.NotNil(t, stored.WinningProposalID)
	assert.Equal(t, "p-a", *stored.WinningProposalID)
	assert.Equal(t, models.ProposalAccepted, h.auctions.status("p-a"))
	assert.True(t, h.bookings.isLocked("bk-src"))
	assert.True(t, h.bookings.isLocked("bk-a"))
	assert.Equal(t, 0, h.bookings.unlocks)
	assert.Empty(t, h.pending.entries)
	assert.Len(t, h.ledger.confirmedOfType(models.LedgerAuctionWinnerSelected), 1)

	// losers are still cleaned up after the caller went away
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-d"))
	assert.Empty(t, h.logs.FilterMessage("ledger recorded a winner the store did not accept").All())
}

func TestSelectWinner_StoreFailureAfterLedgerIsClassified(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))
	h.auctions.setWinnerErr = errors.New("pq: connection reset")

	_, err := h.svc.SelectWinner(context.Background(), auctionID, "p-a", ownerID)

	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, h.pending.entries)
}

func TestRejectProposals(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	h.addBooking("p-a", "bk-a", base)
	h.addCash("p-b", 200, base)
	h.addCash("p-c", 300, base)
	h.auctions.proposals["p-c"].Status = models.ProposalRejected

	h.payments.On("RefundPayment", mock.Anything, "esc-p-b", mock.Anything, refundReasonRejected).
		Return(&models.RefundReceipt{RefundRef: "refund-b"}, nil).Once()

	result, err := h.svc.RejectProposals(context.Background(), auctionID, []string{"p-a", "p-b", "p-c", "p-zzz"}, ownerID, "dates do not work")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"p-a", "p-b"}, result.Rejected)
	assert.ElementsMatch(t, []string{"p-c", "p-zzz"}, result.Skipped)
	assert.False(t, result.Queued)
	require.NotNil(t, result.LedgerReceipt)

	txs := h.ledger.confirmedOfType(models.LedgerProposalsRejected)
	require.Len(t, txs, 1)
	assert.Equal(t, "dates do not work", txs[0].Payload["reason"])

	events := h.published.ofType(notify.EventProposalsRejected)
	require.Len(t, events, 2)
	assert.Equal(t, "dates do not work", events[0].Reason)
	h.payments.AssertExpectations(t)
}

func TestRejectProposals_LedgerFailureIsQueued(t *testing.T) {
	h := newHarness(t, transient(), transient(), transient())
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))

	result, err := h.svc.RejectProposals(context.Background(), auctionID, []string{"p-a"}, ownerID, "")
	require.NoError(t, err)

	assert.True(t, result.Queued)
	assert.Nil(t, result.LedgerReceipt)
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-a"))
	require.Len(t, h.pending.entries, 1)
}

func TestRejectProposals_RequiresOwner(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))

	_, err := h.svc.RejectProposals(context.Background(), auctionID, []string{"p-a"}, "intruder", "")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = h.svc.RejectProposals(context.Background(), auctionID, nil, ownerID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Equal(t, models.ProposalPending, h.auctions.status("p-a"))
}

func TestHandleAutoSelection_PicksHighestCashOffer(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-72 * time.Hour)
	h.addBooking("p-a", "bk-a", base)
	h.addCash("p-b", 200, base.Add(time.Hour))
	h.addCash("p-c", 200, base.Add(2*time.Hour))

	h.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(req *models.PaymentRequest) bool {
		return req.ProposalID == "p-b"
	})).Return(&models.PaymentReceipt{EscrowRef: "escrow-ref-b", Amount: decimal.NewFromInt(200)}, nil).Once()
	h.payments.On("RefundPayment", mock.Anything, "esc-p-c", mock.Anything, refundReasonRejected).
		Return(&models.RefundReceipt{RefundRef: "refund-c"}, nil).Once()

	result, err := h.svc.HandleAutoSelection(context.Background(), auctionID)
	require.NoError(t, err)
	assert.Equal(t, "p-b", result.WinningProposal.ID, "equal offers go to the earliest proposal")
	h.payments.AssertExpectations(t)
}

func TestHandleAutoSelection_NoEligibleProposals(t *testing.T) {
	h := newHarness(t)
	h.addCash("p-b", 50, time.Now().Add(-time.Hour)) // below minimum

	_, err := h.svc.HandleAutoSelection(context.Background(), auctionID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestHandleAutoSelection_FallsBackWhenTopCandidateCannotSettle(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-72 * time.Hour)
	h.addCash("p-b", 300, base)
	h.addBooking("p-a", "bk-a", base.Add(time.Hour))
	h.addBooking("p-x", "bk-gone", base.Add(2*time.Hour))

	h.payments.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(req *models.PaymentRequest) bool {
		return req.ProposalID == "p-b"
	})).Return(nil, apperr.Validation("payment declined: insufficient funds")).Once()
	h.payments.On("RefundPayment", mock.Anything, "esc-p-b", mock.Anything, refundReasonRejected).
		Return(&models.RefundReceipt{RefundRef: "refund-b"}, nil).Once()

	selector := NewAutoSelector(h.auctions, h.svc, time.Hour, 10, nil)
	assert.Equal(t, 1, selector.Sweep(context.Background()))

	stored := h.auctions.auction(auctionID)
	require.NotNil(t, stored.WinningProposalID)
	assert.Equal(t, "p-a", *stored.WinningProposalID)
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-b"))
	assert.Equal(t, models.ProposalRejected, h.auctions.status("p-x"))
	assert.Len(t, h.ledger.confirmedOfType(models.LedgerAuctionWinnerSelected), 1)
	h.payments.AssertNotCalled(t, "GetTransactionStatus", mock.Anything, mock.Anything)
}

func TestHandleAutoSelection_NoCandidateCanSettle(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-72 * time.Hour)
	h.addBooking("p-x", "bk-gone", base)
	h.addBooking("p-y", "bk-also-gone", base.Add(time.Hour))

	_, err := h.svc.HandleAutoSelection(context.Background(), auctionID)

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Nil(t, h.auctions.auction(auctionID).WinningProposalID)
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-x"))
	assert.Equal(t, models.ProposalPending, h.auctions.status("p-y"))
	assert.Equal(t, 0, h.ledger.callCount())
}

func TestAutoSelector_Sweep(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-72*time.Hour))

	h.auctions.addAuction(&models.Auction{
		ID:      "auc-fresh",
		OwnerID: ownerID,
		Status:  models.AuctionEnded,
		Settings: models.AuctionSettings{
			EndDate:              time.Now().Add(-time.Hour),
			AutoSelectAfterHours: 24,
		},
	})

	selector := NewAutoSelector(h.auctions, h.svc, time.Hour, 10, nil)
	assert.Equal(t, 1, selector.Sweep(context.Background()))

	stored := h.auctions.auction(auctionID)
	require.NotNil(t, stored.WinningProposalID)
	assert.Equal(t, "p-a", *stored.WinningProposalID)
	assert.Nil(t, h.auctions.auction("auc-fresh").WinningProposalID)

	// resolved auctions are no longer due
	assert.Equal(t, 0, selector.Sweep(context.Background()))
}

func TestAutoSelector_StartStop(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-72*time.Hour))

	selector := NewAutoSelector(h.auctions, h.svc, 5*time.Millisecond, 10, nil)
	require.NoError(t, selector.Start(context.Background()))
	assert.ErrorIs(t, selector.Start(context.Background()), ErrSelectorRunning)

	require.Eventually(t, func() bool {
		return h.auctions.auction(auctionID).WinningProposalID != nil
	}, time.Second, 5*time.Millisecond)

	selector.Stop()
	selector.Stop()
}

func TestTriggerAutoSelection_RequiresOwner(t *testing.T) {
	h := newHarness(t)
	h.addBooking("p-a", "bk-a", time.Now().Add(-time.Hour))

	_, err := h.svc.TriggerAutoSelection(context.Background(), auctionID, "intruder")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	result, err := h.svc.TriggerAutoSelection(context.Background(), auctionID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "p-a", result.WinningProposal.ID)
}
