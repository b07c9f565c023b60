package handler

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/google/uuid"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// authorizeAccount loads the account from the URL and checks the caller owns it
// (admins may read any account).
func (h *AccountHandler) authorizeAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return nil, false
	}
	accountID, ok := urlUUID(w, r, "id")
	if !ok {
		return nil, false
	}
	account, err := h.svc.GetAccount(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err, "account/read-failed")
		return nil, false
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return nil, false
	}
	return account, true
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.GetBalance(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, r, err, "account/balance-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

// GetStatement pages the account's journal newest first: ?kind=&status=&limit=&cursor=.
func (h *AccountHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	limit, cursor := pageParams(r)
	filter := service.HistoryFilter{Kinds: listParam(r, "kind"), Statuses: listParam(r, "status"), Cursor: cursor}
	entries, next, err := h.svc.Statement(r.Context(), account.ID, filter, limit)
	if err != nil {
		writeServiceError(w, r, err, "account/statement-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, newPage(entries, next))
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	accounts, err := h.svc.ListAccounts(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, err, "account/list-failed")
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	RespondJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		Currency string `json:"currency"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID := actorID
	if req.UserID != "" {
		userID, err = uuid.Parse(req.UserID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
			return
		}
	}
	if !isAdmin && userID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	account, err := h.svc.OpenAccount(r.Context(), userID, req.Currency)
	if err != nil {
		writeServiceError(w, r, err, "account/create-failed")
		return
	}

	RespondJSON(w, http.StatusCreated, account)
}
