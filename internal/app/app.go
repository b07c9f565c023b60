package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/ledger-engine/internal/api"
	"github.com/ayo6706/ledger-engine/internal/api/middleware"
	"github.com/ayo6706/ledger-engine/internal/config"
	"github.com/ayo6706/ledger-engine/internal/db"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/gateway"
	"github.com/ayo6706/ledger-engine/internal/idempotency"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/ayo6706/ledger-engine/internal/repository/memstore"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/ayo6706/ledger-engine/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ledgerStore is what the services and the readiness check need from persistence.
type ledgerStore interface {
	service.SnapshotStore
	Ping(ctx context.Context) error
}

// Run bootstraps the HTTP server, the settlement and reconciliation workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// cache stays a nil interface without redis so consumers can tell it is absent.
	var cache redis.Cmdable
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		cache = redisClient
	}

	publisher, closePublisher := newPublisher(cfg, cache)
	defer closePublisher()

	svc, err := newServices(cfg, store, cache, publisher)
	if err != nil {
		return err
	}

	settlementWorker := worker.NewSettlementWorker(svc.External).
		WithPollInterval(cfg.SettlementPollInterval).
		WithBatchSize(cfg.SettlementBatchSize)
	stopSettlement := settlementWorker.Run(ctx)
	logger.Info("settlement worker started", zap.Stringer("worker", settlementWorker))

	reconciliationWorker := worker.NewReconciliationWorker(svc.Reconciliation).WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	svc.Reconciler = reconciliationWorker
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	idemStore := idempotency.NewStore(cache, store, cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, store, idemStore, cache, svc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSettlement()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore connects and migrates Postgres, or builds the in-memory store for local runs.
func openStore(ctx context.Context, cfg *config.Config) (ledgerStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		zap.L().Warn("using in-memory store; state is lost on exit")
		return memstore.New(), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repository.NewStore(pool), pool.Close, nil
}

// newPublisher fans journal events out to redis and kafka, whichever are configured.
func newPublisher(cfg *config.Config, cache redis.Cmdable) (events.Publisher, func()) {
	var multi events.Multi
	closers := []func(){}
	if cache != nil {
		multi = append(multi, events.NewRedisPublisher(cache, cfg.EventsChannel))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		multi = append(multi, kp)
		closers = append(closers, func() {
			if err := kp.Close(); err != nil {
				zap.L().Warn("close kafka publisher", zap.Error(err))
			}
		})
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(multi) == 0 {
		return events.Nop{}, closeAll
	}
	return multi, closeAll
}

func newServices(cfg *config.Config, store ledgerStore, cache redis.Cmdable, publisher events.Publisher) (api.Services, error) {
	supply, err := decimal.NewFromString(cfg.TokenTotalSupply)
	if err != nil {
		return api.Services{}, fmt.Errorf("parse token supply: %w", err)
	}
	retry := service.RetryPolicy{
		MaxRetries:      cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}

	gateways := gateway.NewRegistry()
	for _, name := range cfg.GatewayProviders {
		gw := gateway.NewMockGateway()
		gw.Name = strings.ToUpper(name)
		gw.FailureRate = cfg.GatewayFailureRate
		gw.SettleAfter = cfg.GatewaySettleAfter
		gateways.Register(name, gw)
	}

	audit := service.NewAuditService()
	settings := service.NewSettingsService(store, cache, cfg.SettingsCacheTTL, cfg.TokenPrecision, audit)
	ledger := service.NewLedger(store)
	journal := service.NewJournal(store, audit)
	tokens := service.NewTokenService(store, journal, settings, service.TokenConfig{
		Symbol:      cfg.TokenSymbol,
		TotalSupply: domain.FromDecimal(supply),
		Retry:       retry,
	}, publisher)
	external := service.NewExternalTransferService(store, ledger, journal, tokens, settings, gateways, retry, publisher)

	return api.Services{
		Accounts:       service.NewAccountService(store, ledger, journal, audit, cfg.DefaultCurrency),
		Transfers:      service.NewTransferService(store, ledger, journal, tokens, settings, retry, publisher),
		External:       external,
		Tokens:         tokens,
		Settings:       settings,
		Bulk:           service.NewBulkWithdrawalService(store, ledger, journal, audit, retry, publisher),
		Reconciliation: service.NewReconciliationService(store, cfg.TokenSymbol),
		Reports:        service.NewReportService(store, journal, tokens),
		Webhooks:       service.NewWebhookService(external, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
		Journal:        journal,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
