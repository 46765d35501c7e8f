package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/audit"
	"github.com/swapbid/backend/internal/ledger"
	"github.com/swapbid/backend/internal/metrics"
	"github.com/swapbid/backend/internal/models"
	"github.com/swapbid/backend/internal/retry"
	"go.uber.org/zap"
)

var ErrProcessorRunning = errors.New("recovery processor already running")

type ProcessorConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int           // ceiling after which an entry is dropped with an alert
	ClaimTTL    time.Duration // lease on claimed entries, must exceed one resubmission
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Interval:    30 * time.Second,
		BatchSize:   50,
		MaxAttempts: 10,
		ClaimTTL:    5 * time.Minute,
	}
}

// Result counts what one processing pass did.
type Result struct {
	Claimed     int
	Resubmitted int
	Rescheduled int
	Dropped     int
}

// Processor drains due entries on a fixed interval.
type Processor struct {
	store     Store
	submitter ledger.Submitter
	backoff   *retry.Policy
	cfg       ProcessorConfig
	audit     *audit.Logger
	metrics   *metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time

	tickMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor builds a processor. backoff schedules the next attempt after
// a failure; submitter should already apply retry and the circuit breaker.
func NewProcessor(store Store, submitter ledger.Submitter, backoff *retry.Policy, cfg ProcessorConfig,
	auditLogger *audit.Logger, rec *metrics.Recorder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultProcessorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}

	return &Processor{
		store:     store,
		submitter: submitter,
		backoff:   backoff,
		cfg:       cfg,
		audit:     auditLogger,
		metrics:   rec,
		logger:    logger.Named("recovery_processor"),
		now:       time.Now,
	}
}

// Start runs the processing loop until Stop is called or ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.cancel != nil {
		return ErrProcessorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, p.done)

	p.logger.Info("recovery processor started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("max_attempts", p.cfg.MaxAttempts),
	)
	return nil
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessDue(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (p *Processor) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("recovery processor stopped")
}

// ProcessDue runs one pass. A pass that starts while another is still in
// flight returns immediately.
func (p *Processor) ProcessDue(ctx context.Context) Result {
	var res Result

	if !p.tickMu.TryLock() {
		p.logger.Debug("previous recovery pass still running, skipping tick")
		return res
	}
	defer p.tickMu.Unlock()

	entries, err := p.store.ClaimDue(ctx, p.now().UTC(), p.cfg.BatchSize, p.cfg.ClaimTTL)
	if err != nil {
		p.logger.Error("failed to claim due ledger transactions", zap.Error(err))
		return res
	}
	res.Claimed = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch p.process(ctx, entry) {
		case outcomeConfirmed:
			res.Resubmitted++
		case outcomeRescheduled:
			res.Rescheduled++
		case outcomeDropped:
			res.Dropped++
		}
	}

	if res.Claimed > 0 {
		p.logger.Info("recovery pass finished",
			zap.Int("claimed", res.Claimed),
			zap.Int("resubmitted", res.Resubmitted),
			zap.Int("rescheduled", res.Rescheduled),
			zap.Int("dropped", res.Dropped),
		)
	}
	return res
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeConfirmed
	outcomeRescheduled
	outcomeDropped
)

func (p *Processor) process(ctx context.Context, entry *models.PendingLedgerTransaction) outcome {
	fields := []zap.Field{
		zap.String("transaction_id", entry.ID),
		zap.String("operation_type", entry.OperationType),
		zap.Int("attempts", entry.Attempts),
	}

	tx, err := entry.Transaction()
	if err != nil {
		return p.drop(ctx, entry, entry.Attempts, apperr.Internal(err, "corrupt pending payload"))
	}

	receipt, err := p.submitter.SubmitTransaction(ctx, tx)
	if err == nil {
		if _, delErr := p.store.Delete(ctx, entry.ID); delErr != nil {
			// the claim lease expires and the idempotent resubmission is repeated
			p.logger.Error("confirmed ledger transaction not removed from queue", append(fields, zap.Error(delErr))...)
		}
		p.metrics.RecoveryResubmitted(ctx, entry.OperationType, "confirmed")
		p.logger.Info("recovered ledger transaction confirmed",
			append(fields, zap.String("ledger_transaction_id", receipt.TransactionID))...)
		return outcomeConfirmed
	}

	p.metrics.RecoveryResubmitted(ctx, entry.OperationType, "failed")

	if !retry.IsRetryable(err) {
		return p.drop(ctx, entry, entry.Attempts+1, err)
	}

	attempts := entry.Attempts
	// an open circuit never reached the ledger, so it does not use up an attempt
	if !apperr.IsKind(err, apperr.KindCircuitOpen) {
		attempts++
	}
	if attempts >= p.cfg.MaxAttempts {
		return p.drop(ctx, entry, attempts, err)
	}

	next := p.now().UTC().Add(p.backoff.ComputeDelay(attempts))
	if rerr := p.store.Reschedule(ctx, entry.ID, attempts, next, err.Error()); rerr != nil {
		p.logger.Error("failed to reschedule pending ledger transaction", append(fields, zap.Error(rerr))...)
		return outcomeNone
	}

	p.logger.Warn("ledger resubmission failed, rescheduled",
		append(fields, zap.Time("next_retry_at", next), zap.Error(err))...)
	return outcomeRescheduled
}

func (p *Processor) drop(ctx context.Context, entry *models.PendingLedgerTransaction, attempts int, cause error) outcome {
	if _, err := p.store.Delete(ctx, entry.ID); err != nil {
		p.logger.Error("failed to drop pending ledger transaction",
			zap.String("transaction_id", entry.ID),
			zap.Error(err),
		)
		return outcomeNone
	}

	p.metrics.RecoveryDropped(ctx, entry.OperationType)
	p.audit.RecoveryDropped(entry.ID, entry.OperationType, attempts, cause)
	p.logger.Error("ledger transaction dropped from recovery, manual intervention required",
		zap.String("severity", "critical"),
		zap.String("transaction_id", entry.ID),
		zap.String("operation_type", entry.OperationType),
		zap.Int("attempts", attempts),
		zap.ByteString("payload", entry.Payload),
		zap.Error(cause),
	)
	return outcomeDropped
}
