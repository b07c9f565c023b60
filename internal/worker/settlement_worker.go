package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ledger-engine/internal/observability"
	"go.uber.org/zap"
)

// PendingProcessor confirms pending external movements and reports how many were finalized.
type PendingProcessor interface {
	ProcessPending(ctx context.Context, batch int32) (int, error)
}

// SettlementWorker polls external rails for pending deposits and withdrawals.
// Several instances may run at once: finalizing an entry twice is a no-op.
type SettlementWorker struct {
	processor    PendingProcessor
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewSettlementWorker creates a worker polling every 10 seconds in batches of 10.
func NewSettlementWorker(processor PendingProcessor) *SettlementWorker {
	return &SettlementWorker{
		processor:    processor,
		pollInterval: 10 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *SettlementWorker) WithBatchSize(size int32) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start runs until Stop is called or ctx is canceled.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("settlement batch failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker to stop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce processes a single batch immediately.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) (int, error) {
	n, err := w.processor.ProcessPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		return n, err
	}
	observability.IncrementWorkerRun("settlement", "success")
	if n > 0 {
		zap.L().Info("settlement batch finalized entries", zap.Int("finalized", n))
	}
	return n, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SettlementWorker) String() string {
	return fmt.Sprintf("SettlementWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
