package payment

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/rmpay/config"
	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/ledger"
	"github.com/coachpo/rmpay/internal/observability"
)

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"
)

// Sweeper reconciles pending ledger transactions against provider state on a
// fixed interval. Re-running a sweep over an already-terminal transaction is
// a no-op: the pending selection excludes it and the ledger refuses terminal
// overwrites.
type Sweeper struct {
	client      ProviderClient
	ledger      ledger.Ledger
	autoCancel  bool
	cancelAfter time.Duration
	workers     int
	clock       func() time.Time
	log         observability.Logger
	outcomes    metric.Int64Counter

	running atomic.Bool
}

// NewSweeper constructs a reconciliation sweeper from the policy knobs in
// cfg. A nil clock uses time.Now.
func NewSweeper(client ProviderClient, ldg ledger.Ledger, cfg config.Settings, clock func() time.Time) (*Sweeper, error) {
	if clock == nil {
		clock = time.Now
	}
	workers := cfg.SweepWorkers
	if workers <= 0 {
		workers = 1
	}
	cancelAfter := cfg.CancelAfter
	if cancelAfter <= 0 {
		cancelAfter = 30 * time.Minute
	}

	meter := otel.Meter("github.com/coachpo/rmpay/internal/payment")
	outcomes, err := meter.Int64Counter("rmpay.reconcile.outcomes",
		metric.WithDescription("Reconciliation outcomes per swept transaction."))
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		client:      client,
		ledger:      ldg,
		autoCancel:  cfg.AutoCancel,
		cancelAfter: cancelAfter,
		workers:     workers,
		clock:       clock,
		log:         observability.Log(),
		outcomes:    outcomes,
	}, nil
}

// Run drives Sweep on the given interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("reconciliation sweep failed", observability.F("error", err))
			}
		}
	}
}

// Sweep reconciles every pending transaction once. Overlapping invocations
// are skipped; distinct transactions are processed with bounded parallelism
// since they share no mutable state.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("sweep already in progress, skipping")
		return nil
	}
	defer s.running.Store(false)

	pending, err := s.ledger.PendingTransactions(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	sweepID := uuid.NewString()
	s.log.Debug("sweep started",
		observability.F("sweep", sweepID),
		observability.F("pending", len(pending)))

	workers := pool.New().WithMaxGoroutines(s.workers)
	for _, tx := range pending {
		tx := tx
		workers.Go(func() {
			s.reconcile(ctx, sweepID, tx)
		})
	}
	workers.Wait()
	return nil
}

func (s *Sweeper) reconcile(ctx context.Context, sweepID string, tx ledger.Transaction) {
	status, err := s.client.QueryOrder(ctx, tx.ID)
	if err != nil {
		if errs.IsTransactionNotFound(err) && s.autoCancel {
			if _, created, perr := ledger.ParseReference(tx.ID); perr == nil && s.clock().Sub(created) > s.cancelAfter {
				s.transition(ctx, sweepID, tx, ledger.StatusFailed, "cancelled")
				return
			}
		}
		// Transient or unhandled failure: leave pending, the next sweep retries.
		s.count(ctx, "error")
		s.log.Debug("query failed, transaction retained",
			observability.F("sweep", sweepID),
			observability.F("ref", tx.ID),
			observability.F("error", err))
		return
	}

	switch strings.ToUpper(status.Status) {
	case statusSuccess:
		tx.ProviderTransactionID = status.TransactionID
		tx.Method = status.Method
		s.transition(ctx, sweepID, tx, ledger.StatusSucceeded, "succeeded")
	case statusFailed:
		s.transition(ctx, sweepID, tx, ledger.StatusFailed, "failed")
	default:
		s.count(ctx, "retained")
	}
}

func (s *Sweeper) transition(ctx context.Context, sweepID string, tx ledger.Transaction, to ledger.Status, outcome string) {
	if err := s.ledger.UpdateStatus(ctx, tx, to); err != nil {
		if errs.HasCode(err, errs.CodeConflict) {
			// Lost the race to the webhook; the terminal write stands.
			s.count(ctx, "conflict")
			s.log.Debug("transition skipped, record already terminal",
				observability.F("sweep", sweepID),
				observability.F("ref", tx.ID))
			return
		}
		s.count(ctx, "error")
		s.log.Error("ledger update failed",
			observability.F("sweep", sweepID),
			observability.F("ref", tx.ID),
			observability.F("error", err))
		return
	}
	s.count(ctx, outcome)
	s.log.Info("transaction reconciled",
		observability.F("sweep", sweepID),
		observability.F("ref", tx.ID),
		observability.F("status", string(to)))
}

func (s *Sweeper) count(ctx context.Context, outcome string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
