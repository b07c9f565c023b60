package api

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/api/handler"
	"github.com/ayo6706/ledger-engine/internal/api/middleware"
	"github.com/ayo6706/ledger-engine/internal/api/spec"
	"github.com/ayo6706/ledger-engine/internal/config"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/idempotency"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/ayo6706/ledger-engine/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the ledger services the HTTP layer delegates to.
type Services struct {
	Accounts       *service.AccountService
	Transfers      *service.TransferService
	External       *service.ExternalTransferService
	Tokens         *service.TokenService
	Settings       *service.SettingsService
	Bulk           *service.BulkWithdrawalService
	Reconciliation *service.ReconciliationService
	Reports        *service.ReportService
	Webhooks       *service.WebhookService
	Journal        *service.Journal
	// Reconciler is the running reconciliation worker. When nil, an unscheduled worker over
	// Reconciliation serves the admin endpoints.
	Reconciler handler.Reconciler
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	store  handler.Pinger
	idem   *idempotency.Store
	redis  redis.Cmdable
	svc    Services
}

// NewRouter wires handlers onto chi. A nil redis disables the redis readiness check.
func NewRouter(cfg *config.Config, logger *zap.Logger, store handler.Pinger, idem *idempotency.Store, redis redis.Cmdable, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, store: store, idem: idem, redis: redis, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.store, api.redis)
	authHandler := handler.NewAuthHandler(api.svc.Accounts)
	userHandler := handler.NewUserHandler(api.svc.Accounts)
	accountHandler := handler.NewAccountHandler(api.svc.Accounts)
	transferHandler := handler.NewTransferHandler(api.svc.Transfers, api.svc.Accounts)
	externalHandler := handler.NewExternalHandler(api.svc.External, api.svc.Accounts, api.svc.Journal)
	tokenHandler := handler.NewTokenHandler(api.svc.Tokens)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)
	reconciler := api.svc.Reconciler
	if reconciler == nil {
		reconciler = worker.NewReconciliationWorker(api.svc.Reconciliation)
	}
	adminHandler := handler.NewAdminHandler(
		api.svc.Accounts,
		api.svc.Settings,
		api.svc.Bulk,
		api.svc.Tokens,
		reconciler,
		api.svc.External,
		api.svc.Reports,
	)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Post("/v1/webhooks/external", webhookHandler.HandleSettlementWebhook)
		r.Get("/v1/tokens/stats", tokenHandler.Stats)
		r.Get("/v1/tokens/leaderboard", tokenHandler.Leaderboard)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))

		// Accounts
		r.Get("/v1/accounts", accountHandler.ListAccounts)
		r.Post("/v1/accounts", accountHandler.CreateAccount)
		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)
		r.Get("/v1/accounts/{id}/history", accountHandler.GetStatement)

		// Money movement
		r.Post("/v1/transfers", transferHandler.MakeInternalTransfer)
		r.Post("/v1/deposits", externalHandler.CreateDeposit)
		r.Post("/v1/withdrawals", externalHandler.CreateWithdrawal)
		r.Post("/v1/external/{id}/confirm", externalHandler.Confirm)

		// Tokens
		r.Get("/v1/tokens/balance", tokenHandler.Balance)
		r.Get("/v1/tokens/history", tokenHandler.History)
		r.Post("/v1/tokens/burn", tokenHandler.Burn)
		r.Post("/v1/tokens/transfer", tokenHandler.Transfer)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/overview", adminHandler.Overview)
			r.Get("/transactions", adminHandler.ListTransactions)
			r.Get("/transactions/export", adminHandler.ExportTransactions)
			r.Get("/settings", adminHandler.ListSettings)
			r.Put("/settings", adminHandler.UpdateSetting)
			r.Patch("/accounts/{id}/status", adminHandler.SetAccountStatus)
			r.Get("/withdrawals", adminHandler.ListBulkWithdrawals)
			r.Post("/withdrawals", adminHandler.CreateBulkWithdrawal)
			r.Post("/tokens/earn", adminHandler.EarnTokens)
			r.Get("/reconcile", adminHandler.LastReconciliation)
			r.Post("/reconcile", adminHandler.Reconcile)
			r.Post("/settlements/process", adminHandler.ProcessPending)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "request/route-not-found", "route not found")
	})

	return r
}
