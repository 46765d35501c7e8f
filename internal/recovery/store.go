package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/swapbid/backend/internal/models"
)

// Store persists pending ledger transactions.
type Store interface {
	Insert(ctx context.Context, entry *models.PendingLedgerTransaction) error
	Delete(ctx context.Context, id string) (bool, error)
	// ClaimDue leases up to limit due entries until now+lease. A claimed
	// entry is invisible to other claimers until its lease expires.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.PendingLedgerTransaction, error)
	Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error
	CountByOperationType(ctx context.Context) (map[string]int, *time.Time, error)
}

type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Insert(ctx context.Context, entry *models.PendingLedgerTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_ledger_transactions
		(id, operation_type, payload, attempts, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.OperationType, []byte(entry.Payload), entry.Attempts, entry.NextRetryAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pending ledger transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_ledger_transactions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete pending ledger transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (s *postgresStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.PendingLedgerTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, operation_type, payload, attempts, next_retry_at, created_at, last_error
		FROM pending_ledger_transactions
		WHERE next_retry_at <= $1 AND (claimed_until IS NULL OR claimed_until <= $1)
		ORDER BY next_retry_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due transactions: %w", err)
	}

	var (
		entries []*models.PendingLedgerTransaction
		ids     []string
	)
	for rows.Next() {
		var (
			e         models.PendingLedgerTransaction
			payload   []byte
			lastError sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OperationType, &payload, &e.Attempts, &e.NextRetryAt, &e.CreatedAt, &lastError); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pending transaction: %w", err)
		}
		e.Payload = payload
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		entries = append(entries, &e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate pending transactions: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_ledger_transactions
		SET claimed_until = $2
		WHERE id = ANY($1)
	`, pq.Array(ids), now.Add(lease)); err != nil {
		return nil, fmt.Errorf("failed to claim pending transactions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return entries, nil
}

func (s *postgresStore) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_ledger_transactions
		SET attempts = $2, next_retry_at = $3, last_error = $4, claimed_until = NULL
		WHERE id = $1
	`, id, attempts, nextRetryAt, lastError)
	if err != nil {
		return fmt.Errorf("failed to reschedule pending transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pending transaction %s not found", id)
	}
	return nil
}

func (s *postgresStore) CountByOperationType(ctx context.Context) (map[string]int, *time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_type, COUNT(*), MIN(created_at)
		FROM pending_ledger_transactions
		GROUP BY operation_type
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	var oldest *time.Time
	for rows.Next() {
		var (
			opType  string
			count   int
			minTime time.Time
		)
		if err := rows.Scan(&opType, &count, &minTime); err != nil {
			return nil, nil, fmt.Errorf("failed to scan queue counts: %w", err)
		}
		counts[opType] = count
		if oldest == nil || minTime.Before(*oldest) {
			t := minTime
			oldest = &t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate queue counts: %w", err)
	}

	return counts, oldest, nil
}
