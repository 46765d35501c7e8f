package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/notify"
	"github.com/swapbid/backend/internal/repository"
)

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentReceipt), args.Error(1)
}

func (m *MockPayments) RefundPayment(ctx context.Context, escrowRef string, amount *decimal.Decimal, reason string) (*models.RefundReceipt, error) {
	args := m.Called(ctx, escrowRef, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundReceipt), args.Error(1)
}

func (m *MockPayments) GetTransactionStatus(ctx context.Context, escrowRef string) (*models.PaymentStatus, error) {
	args := m.Called(ctx, escrowRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentStatus), args.Error(1)
}

// memAuctions keeps the compare-and-set guarantees of the Postgres store.
type memAuctions struct {
	mu           sync.Mutex
	auctions     map[string]*models.Auction
	proposals    map[string]*models.AuctionProposal
	setWinnerErr error
}

var _ repository.AuctionRepository = (*memAuctions)(nil)

func newMemAuctions() *memAuctions {
	return &memAuctions{
		auctions:  make(map[string]*models.Auction),
		proposals: make(map[string]*models.AuctionProposal),
	}
}

func (r *memAuctions) addAuction(a *models.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[a.ID] = a
}

func (r *memAuctions) addProposal(p *models.AuctionProposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[p.ID] = p
}

func (r *memAuctions) auction(id string) models.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.auctions[id]
}

func (r *memAuctions) status(proposalID string) models.ProposalStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposals[proposalID].Status
}

func (r *memAuctions) FindAuctionByID(_ context.Context, id string) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, apperr.NotFound("auction %s not found", id)
	}
	c := *a
	return &c, nil
}

func (r *memAuctions) FindProposalsByAuction(_ context.Context, auctionID string) ([]*models.AuctionProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuctionProposal
	for _, p := range r.proposals {
		if p.AuctionID == auctionID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memAuctions) FindProposalByID(_ context.Context, id string) (*models.AuctionProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return nil, apperr.NotFound("proposal %s not found", id)
	}
	c := *p
	return &c, nil
}

func (r *memAuctions) UpdateProposalStatus(_ context.Context, id string, from, to models.ProposalStatus) error {
	if !from.CanTransitionTo(to) {
		return apperr.Validation("illegal transition %s -> %s", from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok || p.Status != from {
		return apperr.Conflict("proposal %s is no longer %s", id, from)
	}
	p.Status = to
	return nil
}

func (r *memAuctions) SetWinningProposal(ctx context.Context, auctionID, proposalID string) error {
	// database/sql refuses to begin a transaction on a done context
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setWinnerErr != nil {
		return r.setWinnerErr
	}
	a := r.auctions[auctionID]
	if a.WinningProposalID != nil || a.Status != models.AuctionEnded {
		return apperr.Conflict("auction %s already resolved", auctionID)
	}
	p := r.proposals[proposalID]
	if p.AuctionID != auctionID || p.Status != models.ProposalResolving {
		return apperr.Conflict("proposal %s is no longer resolving", proposalID)
	}
	id := proposalID
	a.WinningProposalID = &id
	a.Status = models.AuctionResolved
	p.Status = models.ProposalAccepted
	return nil
}

func (r *memAuctions) RejectProposals(_ context.Context, auctionID string, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rejected []string
	for _, id := range ids {
		p, ok := r.proposals[id]
		if ok && p.AuctionID == auctionID && p.Status == models.ProposalPending {
			p.Status = models.ProposalRejected
			rejected = append(rejected, id)
		}
	}
	return rejected, nil
}

func (r *memAuctions) FindAuctionsDueForAutoSelection(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, a := range r.auctions {
		if a.Status == models.AuctionEnded && a.WinningProposalID == nil && !a.Settings.AutoSelectDue().After(now) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memBookings struct {
	mu        sync.Mutex
	lockedBy  map[string]string
	known     map[string]bool
	unlocks   int
	unlockErr error
}

var _ repository.BookingRepository = (*memBookings)(nil)

func newMemBookings(ids ...string) *memBookings {
	b := &memBookings{lockedBy: make(map[string]string), known: make(map[string]bool)}
	for _, id := range ids {
		b.known[id] = true
	}
	return b
}

func (b *memBookings) LockBooking(_ context.Context, bookingID, ownerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[bookingID] {
		return apperr.Validation("booking %s not found", bookingID)
	}
	if _, locked := b.lockedBy[bookingID]; locked {
		return apperr.Wrap(apperr.KindValidation, repository.ErrBookingAlreadyLocked, "booking "+bookingID+" is not lockable")
	}
	b.lockedBy[bookingID] = ownerID
	return nil
}

func (b *memBookings) UnlockBooking(_ context.Context, bookingID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unlocks++
	if b.unlockErr != nil {
		return b.unlockErr
	}
	delete(b.lockedBy, bookingID)
	return nil
}

func (b *memBookings) isLocked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.lockedBy[id]
	return ok
}

// scriptedLedger fails the first len(results) calls with the non-nil
// entries and confirms everything after.
type scriptedLedger struct {
	mu      sync.Mutex
	calls   int
	results []error
	// confirmed holds every transaction the ledger accepted
	confirmed []*models.LedgerTransaction
	// onConfirm runs after each accepted transaction
	onConfirm func(tx *models.LedgerTransaction)
}

func (l *scriptedLedger) SubmitTransaction(_ context.Context, tx *models.LedgerTransaction) (*models.LedgerReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= len(l.results) && l.results[l.calls-1] != nil {
		return nil, l.results[l.calls-1]
	}
	l.confirmed = append(l.confirmed, tx)
	if l.onConfirm != nil {
		l.onConfirm(tx)
	}
	return &models.LedgerReceipt{TransactionID: "L-" + tx.ID, ConfirmationTimestamp: time.Now()}, nil
}

func (l *scriptedLedger) confirmedOfType(t string) []*models.LedgerTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.LedgerTransaction
	for _, tx := range l.confirmed {
		if tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

func (l *scriptedLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type memPending struct {
	mu      sync.Mutex
	entries map[string]*models.PendingLedgerTransaction
}

func newMemPending() *memPending {
	return &memPending{entries: make(map[string]*models.PendingLedgerTransaction)}
}

func (s *memPending) Insert(_ context.Context, e *models.PendingLedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.entries[e.ID] = &c
	return nil
}

func (s *memPending) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok, nil
}

func (s *memPending) ClaimDue(context.Context, time.Time, int, time.Duration) ([]*models.PendingLedgerTransaction, error) {
	return nil, errors.New("not used")
}

func (s *memPending) Reschedule(context.Context, string, int, time.Time, string) error {
	return errors.New("not used")
}

func (s *memPending) CountByOperationType(context.Context) (map[string]int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.OperationType]++
	}
	return counts, nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t notify.EventType) []*notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*notify.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
