package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/repository"
	"go.uber.org/zap"
)

var ErrSelectorRunning = errors.New("auto selector already running")

type autoResolver interface {
	HandleAutoSelection(ctx context.Context, auctionID string) (*models.ResolutionResult, error)
}

// AutoSelector periodically resolves ended auctions whose owners have not
// picked a winner within the auto-select window.
type AutoSelector struct {
	auctions  repository.AuctionRepository
	resolver  autoResolver
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	sweepMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAutoSelector(auctions repository.AuctionRepository, resolver autoResolver, interval time.Duration, batchSize int, logger *zap.Logger) *AutoSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AutoSelector{
		auctions:  auctions,
		resolver:  resolver,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.Named("auto_selector"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *AutoSelector) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.cancel != nil {
		return ErrSelectorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Sweep(ctx)
			}
		}
	}(a.done)

	a.logger.Info("auto selector started", zap.Duration("interval", a.interval))
	return nil
}

func (a *AutoSelector) Stop() {
	a.runMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Info("auto selector stopped")
}

// Sweep resolves every due auction once and returns how many were resolved.
func (a *AutoSelector) Sweep(ctx context.Context) int {
	if !a.sweepMu.TryLock() {
		return 0
	}
	defer a.sweepMu.Unlock()

	ids, err := a.auctions.FindAuctionsDueForAutoSelection(ctx, a.now(), a.batchSize)
	if err != nil {
		a.logger.Error("failed to list auctions due for auto-selection", zap.Error(err))
		return 0
	}

	resolved := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := a.resolver.HandleAutoSelection(ctx, id); err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindConflict, apperr.KindValidation:
				a.logger.Debug("auction skipped", zap.String("auction_id", id), zap.Error(err))
			default:
				a.logger.Warn("auto-selection failed", zap.String("auction_id", id), zap.Error(err))
			}
			continue
		}
		resolved++
	}

	if resolved > 0 {
		a.logger.Info("auto-selection sweep finished", zap.Int("due", len(ids)), zap.Int("resolved", resolved))
	}
	return resolved
}
