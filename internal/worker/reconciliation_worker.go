package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/service"
	"go.uber.org/zap"
)

// Reconciler compares account and token totals against the journal.
type Reconciler interface {
	Run(ctx context.Context) (*service.ReconciliationReport, error)
}

// ReconciliationWorker re-checks ledger conservation on a fixed interval and keeps the
// most recent report for operators.
type ReconciliationWorker struct {
	svc      Reconciler
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	last *service.ReconciliationReport
}

// NewReconciliationWorker checks hourly unless WithInterval says otherwise.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start checks once immediately, then on every tick until ctx ends or Stop is called.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	log := zap.L().With(zap.String("worker", "reconciliation"))
	log.Info("worker starting", zap.Duration("interval", w.interval))

	_, _ = w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped", zap.Error(ctx.Err()))
			return
		case <-w.stopCh:
			log.Info("worker stopped")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the loop in the background and returns its stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs one pass. An imbalance is logged and counted, not returned as an error.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (*service.ReconciliationReport, error) {
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return nil, err
	}

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	if report.Balanced {
		observability.IncrementWorkerRun("reconciliation", "success")
		return report, nil
	}
	observability.IncrementWorkerRun("reconciliation", "imbalanced")
	for _, c := range report.Currencies {
		if c.Balanced {
			continue
		}
		zap.L().Error("ledger out of balance",
			zap.String("currency", c.Currency),
			zap.Int64("balance", c.Balance),
			zap.Int64("expected_balance", c.Expected),
			zap.Int64("held", c.Held),
			zap.Int64("expected_held", c.ExpectedHeld),
		)
	}
	if !report.Tokens.Balanced {
		zap.L().Error("token supply out of balance",
			zap.Int64("circulating", report.Tokens.Circulating),
			zap.Int64("expected", report.Tokens.Expected),
		)
	}
	return report, nil
}

// LastReport returns the most recent successful report, or nil before the first one.
func (w *ReconciliationWorker) LastReport() *service.ReconciliationReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
