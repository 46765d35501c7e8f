// Package recovery keeps ledger submissions that could not be confirmed and
// resubmits them in the background until they succeed or hit the attempt
// ceiling.
package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"go.uber.org/zap"
)

// Queue is the request-path view of the recovery queue.
type Queue struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewQueue(store Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:  store,
		logger: logger.Named("recovery"),
		now:    time.Now,
	}
}

// Enqueue stores a submission for resubmission with zero attempts, due now.
// Enqueueing an id that is already queued is a no-op.
func (q *Queue) Enqueue(ctx context.Context, txID, operationType string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperr.Internal(err, "encode pending ledger payload")
	}

	now := q.now().UTC()
	entry := &models.PendingLedgerTransaction{
		ID:            txID,
		OperationType: operationType,
		Payload:       raw,
		Attempts:      0,
		NextRetryAt:   now,
		CreatedAt:     now,
	}

	if err := q.store.Insert(ctx, entry); err != nil {
		return apperr.Internal(err, "enqueue pending ledger transaction").With("transaction_id", txID)
	}

	q.logger.Info("ledger transaction queued for recovery",
		zap.String("transaction_id", txID),
		zap.String("operation_type", operationType),
	)
	return nil
}

// RemoveFromQueue deletes an entry. Removing an unknown id is not an error.
func (q *Queue) RemoveFromQueue(ctx context.Context, txID string) error {
	removed, err := q.store.Delete(ctx, txID)
	if err != nil {
		return apperr.Internal(err, "remove pending ledger transaction").With("transaction_id", txID)
	}
	if removed {
		q.logger.Debug("ledger transaction removed from recovery", zap.String("transaction_id", txID))
	}
	return nil
}

// GetQueueStatus reports counts by operation type and the oldest entry age.
func (q *Queue) GetQueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	counts, oldest, err := q.store.CountByOperationType(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "read recovery queue status")
	}

	status := &models.QueueStatus{
		ByOperationType: counts,
		OldestCreatedAt: oldest,
	}
	for _, n := range counts {
		status.Total += n
	}
	if oldest != nil {
		status.OldestAge = q.now().Sub(*oldest)
	}

	return status, nil
}
