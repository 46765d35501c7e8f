package ledger

import (
	"context"
	"errors"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/breaker"
	"github.com/swapbid/backend/internal/metrics"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/retry"
	"go.uber.org/zap"
)

// Gateway submits through the retry policy, with the whole retry sequence
// guarded by the shared ledger circuit breaker.
type Gateway struct {
	submitter   Submitter
	breaker     *breaker.Breaker
	policy      *retry.Policy
	maxAttempts int
	metrics     *metrics.Recorder
	logger      *zap.Logger
}

var _ Submitter = (*Gateway)(nil)

func NewGateway(submitter Submitter, b *breaker.Breaker, policy *retry.Policy, maxAttempts int, rec *metrics.Recorder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Gateway{
		submitter:   submitter,
		breaker:     b,
		policy:      policy,
		maxAttempts: maxAttempts,
		metrics:     rec,
		logger:      logger.Named("ledger_gateway"),
	}
}

// SubmitTransaction returns the receipt or a classified error: TransientLedger
// (retryable, with the attempt count) once retries are exhausted,
// CircuitOpen while the breaker is open, or the first fatal error.
func (g *Gateway) SubmitTransaction(ctx context.Context, tx *models.LedgerTransaction) (*models.LedgerReceipt, error) {
	var receipt *models.LedgerReceipt

	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.policy.Execute(ctx, g.maxAttempts, func(ctx context.Context) error {
			r, err := g.submitter.SubmitTransaction(ctx, tx)
			if err != nil {
				g.metrics.LedgerAttemptFailed(ctx, tx.Type, retry.Classify(err).String())
				return err
			}
			receipt = r
			return nil
		})
	}, nil)
	if err == nil {
		return receipt, nil
	}

	err = normalize(err)
	g.logger.Warn("ledger submission failed",
		zap.String("transaction_id", tx.ID),
		zap.String("type", tx.Type),
		zap.Stringer("kind", apperr.KindOf(err)),
		zap.Error(err),
	)
	return nil, err
}

func normalize(err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return apperr.Wrap(apperr.KindTransientLedger, exhausted.Last, "ledger submission failed after retries").
			With("attempts", exhausted.Attempts)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err, "ledger submission failed")
}
