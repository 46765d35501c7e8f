// Package retry classifies failures and runs operations under a bounded
// exponential backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/swapbid/backend/internal/apperr"
	"go.uber.org/zap"
)

// Class is the retry classification of an error.
type Class uint8

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// congestion markers reported by the ledger network in error text
var retryableMarkers = []string{
	"busy",
	"congestion",
	"consensus timeout",
	"consensus_timeout",
	"timeout",
	"temporarily unavailable",
}

// Classify decides whether err may be retried. Unknown errors are Fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	if e, ok := apperr.As(err); ok {
		if e.Retryable {
			return Retryable
		}
		return Fatal
	}

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return Classify(exhausted.Last)
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return Retryable
		}
	}

	return Fatal
}

// IsRetryable is shorthand for Classify(err) == Retryable.
func IsRetryable(err error) bool {
	return Classify(err) == Retryable
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy holds the backoff schedule.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	// OnAttempt observes every failed attempt; used for metrics.
	OnAttempt func(ctx context.Context, attempt int, class Class, err error)
}

// DefaultPolicy returns base 1s, multiplier 2 and the given ceiling.
func DefaultPolicy(maxDelay time.Duration, logger *zap.Logger) *Policy {
	return NewPolicy(time.Second, 2, maxDelay, logger)
}

func NewPolicy(baseDelay time.Duration, multiplier float64, maxDelay time.Duration, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return &Policy{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
		logger:     logger.Named("retry"),
		sleep:      SleepWithContext,
	}
}

// ComputeDelay returns min(base * multiplier^(attempt-1), maxDelay).
func (p *Policy) ComputeDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 1)) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Execute invokes op up to maxAttempts times. Fatal errors are returned
// immediately; retryable ones are retried after ComputeDelay(attempt). When
// every attempt fails an *ExhaustedError wraps the last error.
func (p *Policy) Execute(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		class := Classify(err)
		if p.OnAttempt != nil {
			p.OnAttempt(ctx, attempt, class, err)
		}
		if class == Fatal {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.ComputeDelay(attempt)
		p.logger.Warn("retryable failure, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := p.sleep(ctx, delay); err != nil {
			return &ExhaustedError{Attempts: attempt, Last: last}
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Last: last}
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
