package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swapbid/backend/internal/apperr"
)

func newTestPolicy() (*Policy, *[]time.Duration) {
	p := NewPolicy(time.Second, 2, 10*time.Second, nil)
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"transient ledger", apperr.New(apperr.KindTransientLedger, "busy"), Retryable},
		{"circuit open", apperr.New(apperr.KindCircuitOpen, "open"), Retryable},
		{"validation", apperr.Validation("bad proposal"), Fatal},
		{"ledger rejected", apperr.New(apperr.KindLedgerRejected, "invalid signature"), Fatal},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"wrapped deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded), Retryable},
		{"canceled", context.Canceled, Fatal},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, Retryable},
		{"busy text", errors.New("ledger BUSY, try later"), Retryable},
		{"consensus timeout text", errors.New("CONSENSUS_TIMEOUT"), Retryable},
		{"unknown", errors.New("something odd"), Fatal},
		{"nil", nil, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPolicy_ComputeDelay(t *testing.T) {
	p := NewPolicy(time.Second, 2, 5*time.Second, nil)

	assert.Equal(t, time.Second, p.ComputeDelay(1))
	assert.Equal(t, 2*time.Second, p.ComputeDelay(2))
	assert.Equal(t, 4*time.Second, p.ComputeDelay(3))
	assert.Equal(t, 5*time.Second, p.ComputeDelay(4))
	assert.Equal(t, 5*time.Second, p.ComputeDelay(400))
	assert.Equal(t, time.Second, p.ComputeDelay(0))
}

func TestPolicy_Execute(t *testing.T) {
	t.Run("retryable error exhausts all attempts", func(t *testing.T) {
		p, slept := newTestPolicy()
		calls := 0
		transient := apperr.New(apperr.KindTransientLedger, "network down")

		err := p.Execute(context.Background(), 3, func(context.Context) error {
			calls++
			return transient
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.ErrorIs(t, err, transient)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	})

	t.Run("fatal error is not retried", func(t *testing.T) {
		p, slept := newTestPolicy()
		calls := 0
		fatal := apperr.Validation("bad payload")

		err := p.Execute(context.Background(), 3, func(context.Context) error {
			calls++
			return fatal
		})

		assert.Equal(t, 1, calls)
		assert.Same(t, fatal, err)
		assert.Empty(t, *slept)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		p, _ := newTestPolicy()
		calls := 0

		err := p.Execute(context.Background(), 3, func(context.Context) error {
			calls++
			if calls < 3 {
				return context.DeadlineExceeded
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("context cancellation stops backoff", func(t *testing.T) {
		p := NewPolicy(time.Hour, 2, time.Hour, nil)
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		err := p.Execute(ctx, 5, func(context.Context) error {
			calls++
			cancel()
			return context.DeadlineExceeded
		})

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 1, exhausted.Attempts)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempt observer sees every failure", func(t *testing.T) {
		p, _ := newTestPolicy()
		var classes []Class
		p.OnAttempt = func(_ context.Context, _ int, class Class, _ error) {
			classes = append(classes, class)
		}

		_ = p.Execute(context.Background(), 2, func(context.Context) error {
			return errors.New("service busy")
		})

		assert.Equal(t, []Class{Retryable, Retryable}, classes)
	})
}

func TestSleepWithContext(t *testing.T) {
	assert.NoError(t, SleepWithContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepWithContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
