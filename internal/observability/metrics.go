package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	ledgerImbalanceCounter    *prometheus.CounterVec
	idempotencyCounter        *prometheus.CounterVec
	journalEntryCounter       *prometheus.CounterVec
	tokenBurnCounter          prometheus.Counter
	storeRetryCounter         *prometheus.CounterVec
	bulkWithdrawalCounter     *prometheus.CounterVec
	externalSettlementCounter *prometheus.CounterVec
	pendingExternalGauge      prometheus.Gauge
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of reconciliation checks that found diverging totals",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		journalEntryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journal_entries_total",
			Help: "Journal entries finalized by kind and status",
		}, []string{"kind", "status"})

		tokenBurnCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_burned_micros_total",
			Help: "Token micros removed from circulation",
		})

		storeRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_conflict_retries_total",
			Help: "Operations retried after a transient store conflict",
		}, []string{"operation"})

		bulkWithdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_withdrawals_total",
			Help: "Bulk withdrawal outcomes",
		}, []string{"result"})

		externalSettlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "external_settlements_total",
			Help: "External movements finalized by direction and outcome",
		}, []string{"direction", "outcome"})

		pendingExternalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "external_pending_entries",
			Help: "External movements still awaiting confirmation in the last settlement batch",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			journalEntryCounter,
			tokenBurnCounter,
			storeRetryCounter,
			bulkWithdrawalCounter,
			externalSettlementCounter,
			pendingExternalGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(currency string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementJournalEntry(kind, status string) {
	if journalEntryCounter == nil {
		return
	}
	journalEntryCounter.WithLabelValues(kind, status).Inc()
}

func AddTokensBurned(micros int64) {
	if tokenBurnCounter == nil || micros <= 0 {
		return
	}
	tokenBurnCounter.Add(float64(micros))
}

func IncrementStoreRetry(operation string) {
	if storeRetryCounter == nil {
		return
	}
	storeRetryCounter.WithLabelValues(operation).Inc()
}

func IncrementBulkWithdrawal(result string) {
	if bulkWithdrawalCounter == nil {
		return
	}
	bulkWithdrawalCounter.WithLabelValues(result).Inc()
}

func IncrementExternalSettlement(direction, outcome string) {
	if externalSettlementCounter == nil {
		return
	}
	externalSettlementCounter.WithLabelValues(direction, outcome).Inc()
}

func SetPendingExternal(n int) {
	if pendingExternalGauge == nil {
		return
	}
	pendingExternalGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
