// Package metrics exposes the settlement engine's counters through the
// OpenTelemetry metric API. A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/swapbid/backend/settlement"

type Recorder struct {
	ledgerAttempts      metric.Int64Counter
	rollbackFailures    metric.Int64Counter
	recoveryResubmitted metric.Int64Counter
	recoveryDropped     metric.Int64Counter
	breakerTransitions  metric.Int64Counter
}

// NewRecorder registers the instruments on provider (the global provider when nil).
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	var (
		r   Recorder
		err error
	)

	r.ledgerAttempts, err = meter.Int64Counter(
		"settlement.ledger.attempts_failed",
		metric.WithDescription("Failed ledger submission attempts by classification"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create settlement.ledger.attempts_failed counter: %w", err)
	}

	r.rollbackFailures, err = meter.Int64Counter(
		"settlement.rollback.failures",
		metric.WithDescription("Compensating actions that failed and need manual repair"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create settlement.rollback.failures counter: %w", err)
	}

	r.recoveryResubmitted, err = meter.Int64Counter(
		"settlement.recovery.resubmitted",
		metric.WithDescription("Recovery queue resubmissions by outcome"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create settlement.recovery.resubmitted counter: %w", err)
	}

	r.recoveryDropped, err = meter.Int64Counter(
		"settlement.recovery.dropped",
		metric.WithDescription("Recovery entries dropped at the attempt ceiling"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create settlement.recovery.dropped counter: %w", err)
	}

	r.breakerTransitions, err = meter.Int64Counter(
		"settlement.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create settlement.breaker.transitions counter: %w", err)
	}

	return &r, nil
}

func (r *Recorder) LedgerAttemptFailed(ctx context.Context, operation, class string) {
	if r == nil {
		return
	}
	r.ledgerAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("class", class),
	))
}

func (r *Recorder) RollbackFailures(ctx context.Context, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.rollbackFailures.Add(ctx, int64(count))
}

func (r *Recorder) RecoveryResubmitted(ctx context.Context, operationType, outcome string) {
	if r == nil {
		return
	}
	r.recoveryResubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.String("outcome", outcome),
	))
}

func (r *Recorder) RecoveryDropped(ctx context.Context, operationType string) {
	if r == nil {
		return
	}
	r.recoveryDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", operationType),
	))
}

func (r *Recorder) BreakerTransition(ctx context.Context, operationClass, from, to string) {
	if r == nil {
		return
	}
	r.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_class", operationClass),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
