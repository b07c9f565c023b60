package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ayo6706/ledger-engine/internal/api/middleware"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves the privileged routes. Every call converts the verified admin role
// into an authz.AdminClaim before touching a service.
type AdminHandler struct {
	accounts       *service.AccountService
	settings       *service.SettingsService
	bulk           *service.BulkWithdrawalService
	tokens         *service.TokenService
	reconciliation Reconciler
	external       *service.ExternalTransferService
	reports        *service.ReportService
}

// Reconciler runs a reconciliation pass on demand and remembers the latest report.
type Reconciler interface {
	RunOnce(ctx context.Context) (*service.ReconciliationReport, error)
	LastReport() *service.ReconciliationReport
}

func NewAdminHandler(
	accounts *service.AccountService,
	settings *service.SettingsService,
	bulk *service.BulkWithdrawalService,
	tokens *service.TokenService,
	reconciliation Reconciler,
	external *service.ExternalTransferService,
	reports *service.ReportService,
) *AdminHandler {
	return &AdminHandler{
		accounts:       accounts,
		settings:       settings,
		bulk:           bulk,
		tokens:         tokens,
		reconciliation: reconciliation,
		external:       external,
		reports:        reports,
	}
}

func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	rows, err := h.settings.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "settings/read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, rows)
}

func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key         string `json:"key"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := h.settings.Update(r.Context(), middleware.AdminClaimFromContext(r.Context()), req.Key, req.Value, req.Description)
	if err != nil {
		writeServiceError(w, r, err, "settings/update-failed")
		return
	}
	RespondJSON(w, http.StatusOK, row)
}

// SetAccountStatus handles PATCH /v1/admin/accounts/{id}/status.
func (h *AdminHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := h.accounts.SetStatus(r.Context(), middleware.AdminClaimFromContext(r.Context()), accountID, req.Status)
	if err != nil {
		writeServiceError(w, r, err, "account/status-update-failed")
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// CreateBulkWithdrawal drains the largest balances of a currency first until amount is covered.
func (h *AdminHandler) CreateBulkWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency    string `json:"currency"`
		Amount      string `json:"amount"`
		Destination string `json:"destination"`
		Description string `json:"description"`
		ReferenceID string `json:"reference_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}
	reference := req.ReferenceID
	if reference == "" {
		reference = r.Header.Get("Idempotency-Key")
	}
	res, err := h.bulk.Withdraw(r.Context(), middleware.AdminClaimFromContext(r.Context()), service.BulkWithdrawalCmd{
		Currency:    req.Currency,
		Amount:      amount,
		Destination: req.Destination,
		Description: req.Description,
		ReferenceID: reference,
	})
	if err != nil {
		writeServiceError(w, r, err, "withdrawal/bulk-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

func (h *AdminHandler) ListBulkWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pageParams(r)
	rows, next, err := h.bulk.Withdrawals(r.Context(), middleware.AdminClaimFromContext(r.Context()), limit, cursor)
	if err != nil {
		writeServiceError(w, r, err, "withdrawal/list-failed")
		return
	}
	RespondJSON(w, http.StatusOK, newPage(rows, next))
}

// EarnTokens mints tokens for a user from one of the known earn sources.
func (h *AdminHandler) EarnTokens(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Amount string `json:"amount"`
		Source string `json:"source"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}
	source := req.Source
	if source == "" {
		source = domain.EarnAdminReward
	}
	entry, err := h.tokens.Earn(r.Context(), userID, amount, source)
	if err != nil {
		writeServiceError(w, r, err, "token/earn-failed")
		return
	}
	zap.L().Info("tokens granted by admin",
		zap.String("user_id", userID.String()),
		zap.String("actor_id", middleware.UserIDFromContext(r.Context())),
		zap.String("amount", domain.FormatAmount(amount)),
	)
	RespondJSON(w, http.StatusCreated, entry)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "reconciliation/failed")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// LastReconciliation returns the latest report without running a new pass.
func (h *AdminHandler) LastReconciliation(w http.ResponseWriter, r *http.Request) {
	report := h.reconciliation.LastReport()
	if report == nil {
		RespondError(w, r, http.StatusNotFound, "reconciliation/no-report", "no reconciliation has run yet")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// ProcessPending asks the rails about pending external entries right away: ?batch=.
func (h *AdminHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	batch, err := strconv.Atoi(r.URL.Query().Get("batch"))
	if err != nil || batch <= 0 {
		batch = defaultPageSize
	}
	n, err := h.external.ProcessPending(r.Context(), int32(min(batch, maxPageSize)))
	if err != nil {
		writeServiceError(w, r, err, "external/process-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"finalized": n})
}

// Overview summarizes users, balances, journal activity and token supply.
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.reports.Overview(r.Context(), middleware.AdminClaimFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "report/overview-failed")
		return
	}
	RespondJSON(w, http.StatusOK, overview)
}

// ListTransactions pages the whole journal newest first:
// ?kind=&status=&currency=&account_id=&user_id=&offset=&limit=&cursor=.
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}
	limit, _ := pageParams(r)
	entries, next, err := h.reports.Transactions(r.Context(), middleware.AdminClaimFromContext(r.Context()), filter, limit)
	if err != nil {
		writeServiceError(w, r, err, "report/transactions-failed")
		return
	}
	RespondJSON(w, http.StatusOK, newPage(entries, next))
}

// ExportTransactions streams every matching entry as newline-delimited JSON. It accepts the
// same filters as ListTransactions.
func (h *AdminHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}
	entries, err := h.reports.ExportTransactions(r.Context(), middleware.AdminClaimFromContext(r.Context()), filter)
	if err != nil {
		writeServiceError(w, r, err, "report/export-failed")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	written := 0
	for entry, err := range entries {
		if err != nil {
			zap.L().Error("transaction export aborted", zap.Int("written", written), zap.Error(err))
			return
		}
		if err := enc.Encode(entry); err != nil {
			zap.L().Warn("transaction export client went away", zap.Int("written", written), zap.Error(err))
			return
		}
		written++
		if flusher != nil && written%100 == 0 {
			flusher.Flush()
		}
	}
}
