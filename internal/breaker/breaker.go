// Package breaker guards shared downstream dependencies with one circuit
// breaker per operation class, built on sony/gobreaker.
package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/metrics"
	"github.com/swapbid/backend/internal/retry"
	"go.uber.org/zap"
)

// LedgerSubmit is the operation class shared by every ledger caller.
const LedgerSubmit = "ledger-submit"

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold uint32        // consecutive failures that open the circuit
	Window           time.Duration // closed-state counting window, 0 keeps counts until a success
	Cooldown         time.Duration // time spent open before the half-open probe
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// Snapshot is the observable state of one breaker.
type Snapshot struct {
	OperationClass      string     `json:"operationClass"`
	State               State      `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutiveFailures"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
}

// Fallback is invoked instead of the operation while the circuit is open.
// It receives the CircuitOpen error the caller would otherwise get.
type Fallback func(ctx context.Context, openErr error) error

type Breaker struct {
	class    string
	cooldown time.Duration
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *metrics.Recorder

	mu       sync.Mutex
	openedAt time.Time
}

// Execute runs op through the breaker. While open it returns a CircuitOpen
// error (or the fallback's result) without calling op. Only retryable
// failures count against the breaker; business errors pass through.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error, fallback Fallback) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		openErr := b.openError(err)
		b.logger.Warn("circuit open, request rejected",
			zap.String("operation_class", b.class),
			zap.Duration("retry_after", b.retryAfter()),
		)
		if fallback != nil {
			return fallback(ctx, openErr)
		}
		return openErr
	}

	return err
}

func (b *Breaker) State() State {
	return convertState(b.cb.State())
}

func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	counts := b.cb.Counts()

	s := Snapshot{
		OperationClass:      b.class,
		State:               state,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}

	b.mu.Lock()
	if state != StateClosed && !b.openedAt.IsZero() {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	b.mu.Unlock()

	return s
}

func (b *Breaker) openError(cause error) *apperr.Error {
	e := apperr.Wrap(apperr.KindCircuitOpen, cause, "ledger temporarily unavailable")
	e.With("operation_class", b.class)
	e.With("retry_after", b.retryAfter().Round(time.Second).String())
	return e
}

func (b *Breaker) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return b.cooldown
	}
	remaining := time.Until(b.openedAt.Add(b.cooldown))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// called by gobreaker while it holds its own lock; must not call back into b.cb
func (b *Breaker) onStateChange(from, to gobreaker.State) {
	fromState, toState := convertState(from), convertState(to)

	b.mu.Lock()
	if to == gobreaker.StateOpen {
		b.openedAt = time.Now()
	}
	b.mu.Unlock()

	fields := []zap.Field{
		zap.String("operation_class", b.class),
		zap.String("from", string(fromState)),
		zap.String("to", string(toState)),
	}

	switch to {
	case gobreaker.StateOpen:
		b.logger.Error("circuit breaker opened, requests will fast-fail", fields...)
	case gobreaker.StateHalfOpen:
		b.logger.Warn("circuit breaker half-open, probing dependency", fields...)
	case gobreaker.StateClosed:
		b.logger.Warn("circuit breaker closed, dependency healthy", fields...)
	}

	b.metrics.BreakerTransition(context.Background(), b.class, string(fromState), string(toState))
}

// Manager owns the process-wide breakers, one per operation class.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

func NewManager(logger *zap.Logger, rec *metrics.Recorder) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger.Named("breaker"),
		metrics:  rec,
	}
}

// GetOrCreate returns the breaker for class, creating it with cfg on first use.
func (m *Manager) GetOrCreate(class string, cfg Config) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[class]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok = m.breakers[class]; ok {
		return b
	}

	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}

	b = &Breaker{
		class:    class,
		cooldown: cfg.Cooldown,
		logger:   m.logger,
		metrics:  m.metrics,
	}

	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        class,
		MaxRequests: 1,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsRetryable(err)
		},
	})

	m.breakers[class] = b
	m.logger.Info("created circuit breaker",
		zap.String("operation_class", class),
		zap.Uint32("failure_threshold", cfg.FailureThreshold),
		zap.Duration("cooldown", cfg.Cooldown),
	)

	return b
}

// Snapshots returns the state of every breaker ordered by class.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snapshots = append(snapshots, b.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].OperationClass < snapshots[j].OperationClass
	})

	return snapshots
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
