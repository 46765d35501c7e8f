// Package repository provides Postgres access for auctions, proposals and
// bookings.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
)

// AuctionRepository defines the interface for auction and proposal data access
type AuctionRepository interface {
	FindAuctionByID(ctx context.Context, id string) (*models.Auction, error)
	FindProposalsByAuction(ctx context.Context, auctionID string) ([]*models.AuctionProposal, error)
	FindProposalByID(ctx context.Context, id string) (*models.AuctionProposal, error)
	UpdateProposalStatus(ctx context.Context, id string, from, to models.ProposalStatus) error
	SetWinningProposal(ctx context.Context, auctionID, proposalID string) error
	RejectProposals(ctx context.Context, auctionID string, proposalIDs []string) ([]string, error)
	FindAuctionsDueForAutoSelection(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type auctionRepository struct {
	db *sql.DB
}

func NewAuctionRepository(db *sql.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

const auctionColumns = `
	a.id, a.owner_id, a.swap_id, COALESCE(s.source_booking_id, ''), a.status,
	a.end_date, a.allow_booking_proposals, a.allow_cash_proposals,
	a.minimum_cash_offer, a.auto_select_after_hours, a.winning_proposal_id, a.updated_at`

func (r *auctionRepository) FindAuctionByID(ctx context.Context, id string) (*models.Auction, error) {
	query := `SELECT ` + auctionColumns + `
		FROM auctions a
		LEFT JOIN swaps s ON s.id = a.swap_id
		WHERE a.id = $1`

	var (
		a       models.Auction
		status  string
		winning sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.OwnerID,
		&a.SwapID,
		&a.SourceBookingID,
		&status,
		&a.Settings.EndDate,
		&a.Settings.AllowBookingProposals,
		&a.Settings.AllowCashProposals,
		&a.Settings.MinimumCashOffer,
		&a.Settings.AutoSelectAfterHours,
		&winning,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("auction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find auction by id: %w", err)
	}

	a.Status = models.AuctionStatus(status)
	if winning.Valid {
		a.WinningProposalID = &winning.String
	}

	return &a, nil
}

const proposalColumns = `
	id, auction_id, proposer_id, proposal_type, booking_id,
	cash_amount, COALESCE(cash_currency, ''), COALESCE(payment_method_id, ''),
	COALESCE(escrow_required, FALSE), COALESCE(escrow_account_id, ''),
	status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.AuctionProposal, error) {
	var (
		p              models.AuctionProposal
		proposalType   string
		status         string
		bookingID      sql.NullString
		amount         decimal.NullDecimal
		currency       string
		paymentMethod  string
		escrowRequired bool
		escrowAccount  string
	)

	err := row.Scan(
		&p.ID,
		&p.AuctionID,
		&p.ProposerID,
		&proposalType,
		&bookingID,
		&amount,
		&currency,
		&paymentMethod,
		&escrowRequired,
		&escrowAccount,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ProposalType = models.ProposalType(proposalType)
	p.Status = models.ProposalStatus(status)
	if bookingID.Valid {
		p.BookingID = &bookingID.String
	}
	if amount.Valid {
		p.CashOffer = &models.CashOffer{
			Amount:          amount.Decimal,
			Currency:        currency,
			PaymentMethodID: paymentMethod,
			EscrowRequired:  escrowRequired,
			EscrowAccountID: escrowAccount,
		}
	}

	return &p, nil
}

func (r *auctionRepository) FindProposalsByAuction(ctx context.Context, auctionID string) ([]*models.AuctionProposal, error) {
	query := `SELECT ` + proposalColumns + `
		FROM auction_proposals
		WHERE auction_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.AuctionProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate proposals: %w", err)
	}

	return proposals, nil
}

func (r *auctionRepository) FindProposalByID(ctx context.Context, id string) (*models.AuctionProposal, error) {
	query := `SELECT ` + proposalColumns + `
		FROM auction_proposals
		WHERE id = $1`

	p, err := scanProposal(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("proposal %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find proposal by id: %w", err)
	}

	return p, nil
}

// UpdateProposalStatus moves a proposal from one status to another. It fails
// with a conflict if the proposal is no longer in the expected status.
func (r *auctionRepository) UpdateProposalStatus(ctx context.Context, id string, from, to models.ProposalStatus) error {
	if !from.CanTransitionTo(to) {
		return apperr.Validation("proposal cannot move from %s to %s", from, to)
	}

	query := `
		UPDATE auction_proposals
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.Conflict("proposal %s is no longer %s", id, from).
			With("proposal_id", id)
	}

	return nil
}

// SetWinningProposal records the winner and accepts the proposal in one
// transaction. The auction update is a compare-and-set on an unset winner,
// so a second writer always loses with a conflict.
func (r *auctionRepository) SetWinningProposal(ctx context.Context, auctionID, proposalID string) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET winning_proposal_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND winning_proposal_id IS NULL AND status = $4
	`, auctionID, proposalID, string(models.AuctionResolved), string(models.AuctionEnded))
	if err != nil {
		return fmt.Errorf("failed to set winning proposal: %w", err)
	}
	if err := ensureRowsAffected(result, apperr.Conflict("auction %s already resolved", auctionID).
		With("auction_id", auctionID)); err != nil {
		return err
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE auction_proposals
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND auction_id = $2 AND status = $4
	`, proposalID, auctionID, string(models.ProposalAccepted), string(models.ProposalResolving))
	if err != nil {
		return fmt.Errorf("failed to accept proposal: %w", err)
	}
	if err := ensureRowsAffected(result, apperr.Conflict("proposal %s is no longer resolving", proposalID).
		With("proposal_id", proposalID)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit winner: %w", err)
	}

	return nil
}

// RejectProposals rejects the given proposals that are still pending and
// returns the ids actually rejected.
func (r *auctionRepository) RejectProposals(ctx context.Context, auctionID string, proposalIDs []string) ([]string, error) {
	if len(proposalIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE auction_proposals
		SET status = $3, updated_at = NOW()
		WHERE auction_id = $1 AND id = ANY($2) AND status = $4
		RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, auctionID, pq.Array(proposalIDs),
		string(models.ProposalRejected), string(models.ProposalPending))
	if err != nil {
		return nil, fmt.Errorf("failed to reject proposals: %w", err)
	}
	defer rows.Close()

	var rejected []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rejected proposal: %w", err)
		}
		rejected = append(rejected, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rejected proposals: %w", err)
	}

	return rejected, nil
}

// FindAuctionsDueForAutoSelection lists ended auctions without a winner
// whose auto-select delay has elapsed.
func (r *auctionRepository) FindAuctionsDueForAutoSelection(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM auctions
		WHERE status = $1
		  AND winning_proposal_id IS NULL
		  AND auto_select_after_hours > 0
		  AND end_date + make_interval(hours => auto_select_after_hours) <= $2
		ORDER BY end_date
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, string(models.AuctionEnded), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions due for auto selection: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}

	return ids, nil
}

func ensureRowsAffected(result sql.Result, onZero error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return onZero
	}
	return nil
}
