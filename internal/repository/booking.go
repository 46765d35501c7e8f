package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/swapbid/backend/internal/apperr"
)

var ErrBookingAlreadyLocked = errors.New("booking already locked")

const (
	bookingAvailable = "available"
	bookingLocked    = "locked"
)

// BookingRepository locks and unlocks reservations during settlement
type BookingRepository interface {
	LockBooking(ctx context.Context, bookingID, ownerID string) error
	UnlockBooking(ctx context.Context, bookingID string) error
}

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

// LockBooking marks an available booking as locked by ownerID. A booking in
// any other state fails with a validation error wrapping
// ErrBookingAlreadyLocked.
func (r *bookingRepository) LockBooking(ctx context.Context, bookingID, ownerID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $3, locked_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, bookingID, ownerID, bookingLocked, bookingAvailable)
	if err != nil {
		return fmt.Errorf("failed to lock booking: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = $1`, bookingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Validation("booking %s not found", bookingID)
	}
	if err != nil {
		return fmt.Errorf("failed to read booking status: %w", err)
	}

	return apperr.Wrap(apperr.KindValidation, ErrBookingAlreadyLocked,
		fmt.Sprintf("booking %s is not lockable", bookingID)).
		With("booking_id", bookingID).
		With("status", status)
}

// UnlockBooking releases a locked booking. Unlocking a booking that is not
// locked is a no-op.
func (r *bookingRepository) UnlockBooking(ctx context.Context, bookingID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, locked_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, bookingID, bookingAvailable, bookingLocked)
	if err != nil {
		return fmt.Errorf("failed to unlock booking: %w", err)
	}
	return nil
}
