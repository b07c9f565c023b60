package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/ledger-engine/internal/api/middleware"
	"github.com/ayo6706/ledger-engine/internal/api/problem"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string, opts ...problem.Option) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message, opts...)
}

// Page wraps one page of results and the cursor for the next one. NextCursor is zero on
// the last page.
type Page[T any] struct {
	Items      []T   `json:"items"`
	NextCursor int64 `json:"next_cursor,omitempty"`
}

func newPage[T any](items []T, next int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, NextCursor: next}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+param, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func parseAmount(w http.ResponseWriter, r *http.Request, raw string) (int64, bool) {
	amount, err := domain.ParseAmount(raw)
	if err != nil || amount <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a positive decimal string")
		return 0, false
	}
	return amount, true
}

// pageParams reads limit and cursor query parameters. Bad values fall back to defaults.
func pageParams(r *http.Request) (int32, int64) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	cursor, err := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	if err != nil || cursor < 0 {
		cursor = 0
	}
	return int32(limit), cursor
}

// listParam collects a query parameter given repeatedly or as a comma separated list.
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// historyFilter reads kind, status, currency, account_id, user_id, cursor and offset.
func historyFilter(w http.ResponseWriter, r *http.Request) (service.HistoryFilter, bool) {
	q := r.URL.Query()
	_, cursor := pageParams(r)
	f := service.HistoryFilter{
		Kinds:    listParam(r, "kind"),
		Statuses: listParam(r, "status"),
		Currency: strings.ToUpper(strings.TrimSpace(q.Get("currency"))),
		Cursor:   cursor,
	}
	ids := []struct {
		param string
		dst   **uuid.UUID
	}{{"account_id", &f.AccountID}, {"user_id", &f.UserID}}
	for _, p := range ids {
		raw := q.Get(p.param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-"+p.param, "Invalid "+p.param)
			return f, false
		}
		*p.dst = &id
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || offset < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return f, false
		}
		f.Offset = int32(offset)
	}
	return f, true
}

type errorMapping struct {
	err         error
	status      int
	problemType string
	detail      string
}

// Order matters: the first match wins.
var serviceErrors = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "ledger/not-found", "resource not found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ledger/already-exists", "resource already exists"},
	{domain.ErrUnauthorized, http.StatusForbidden, "auth/insufficient-permissions", "admin privileges required"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "ledger/insufficient-funds", "insufficient available balance"},
	{domain.ErrInsufficientTokenBalance, http.StatusUnprocessableEntity, "ledger/insufficient-token-balance", "insufficient token balance"},
	{domain.ErrInsufficientAggregateFunds, http.StatusUnprocessableEntity, "ledger/insufficient-aggregate-funds", "insufficient pooled balance in this currency"},
	{domain.ErrDailyLimitExceeded, http.StatusUnprocessableEntity, "ledger/daily-limit-exceeded", "daily transaction limit exceeded"},
	{domain.ErrAccountFrozen, http.StatusConflict, "ledger/account-not-active", "account is not active"},
	{domain.ErrInvalidTransition, http.StatusConflict, "ledger/invalid-transition", "status change not allowed"},
	{domain.ErrCurrencyMismatch, http.StatusBadRequest, "ledger/currency-mismatch", "currency does not match the account"},
	{domain.ErrSelfTransfer, http.StatusBadRequest, "ledger/self-transfer", "source and destination must differ"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ledger/invalid-amount", "invalid amount"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "request/invalid-input", "invalid request"},
	{domain.ErrUnsupportedRail, http.StatusBadRequest, "external/unsupported-rail", "unsupported payment rail"},
	{domain.ErrExternalPending, http.StatusConflict, "external/settlement-pending", "settlement is still pending"},
	{domain.ErrExternalFailed, http.StatusBadGateway, "external/settlement-failed", "external settlement failed"},
	{domain.ErrOperationAborted, http.StatusServiceUnavailable, "ledger/operation-aborted", "operation aborted, retry later"},
	{domain.ErrStoreConflict, http.StatusServiceUnavailable, "ledger/store-conflict", "concurrent update, retry later"},
	{service.ErrInvalidSignature, http.StatusUnauthorized, "webhook/invalid-signature", "invalid webhook signature"},
}

// writeServiceError maps ledger errors onto problem documents with a fixed detail per
// error class; the full chain only goes to the log. Anything unknown is reported as a 500
// with the given fallback slug.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var opts []problem.Option
	var shortfall *domain.ShortfallError
	if errors.As(err, &shortfall) {
		opts = append(opts, problem.WithShortfall(problem.Shortfall{
			Requested: domain.FormatAmount(shortfall.Requested),
			Available: domain.FormatAmount(shortfall.Available),
			Missing:   domain.FormatAmount(shortfall.Shortfall()),
			Currency:  shortfall.Currency,
		}))
	}
	log := zap.L().With(
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
	)
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			log.Info("request rejected", zap.String("problem", m.problemType))
			RespondError(w, r, m.status, m.problemType, m.detail, opts...)
			return
		}
	}
	if status, pType, msg, ok := mapDBError(err); ok {
		log.Warn("request hit a store constraint", zap.String("problem", pType))
		RespondError(w, r, status, pType, msg)
		return
	}
	log.Error("request failed")
	RespondError(w, r, http.StatusInternalServerError, fallback, "internal error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
