// Package rollback implements a per-operation stack of compensating actions.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/metrics"
	"go.uber.org/zap"
)

// Action undoes one side effect.
type Action func(ctx context.Context) error

type entry struct {
	name   string
	action Action
}

// Stack runs compensations in reverse registration order.
type Stack struct {
	mu      sync.Mutex
	entries []entry
	logger  *zap.Logger
	metrics *metrics.Recorder
}

func NewStack(logger *zap.Logger, rec *metrics.Recorder) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		logger:  logger.Named("rollback"),
		metrics: rec,
	}
}

// Add pushes a named compensation onto the stack.
func (s *Stack) Add(name string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry{name: name, action: action})
}

// Len reports how many compensations are pending.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Clear discards every pending compensation without running it.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
}

// Execute pops and runs every compensation, newest first. A failing action
// does not stop the rest; if any failed, a RollbackFailure error reports how
// many.
func (s *Stack) Execute(ctx context.Context) error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var failures []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		if err := e.action(ctx); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", e.name, err))
			s.logger.Error("compensating action failed",
				zap.String("severity", "critical"),
				zap.String("action", e.name),
				zap.Error(err),
			)
			continue
		}

		s.logger.Debug("compensating action completed", zap.String("action", e.name))
	}

	if len(failures) == 0 {
		return nil
	}

	s.metrics.RollbackFailures(ctx, len(failures))

	return apperr.Wrap(apperr.KindRollbackFailure, errors.Join(failures...),
		fmt.Sprintf("%d of %d compensating actions failed", len(failures), len(entries))).
		With("failures", len(failures)).
		With("total", len(entries))
}
