package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/google/uuid"
)

// ExternalHandler starts and confirms deposits and withdrawals that settle on an external rail.
type ExternalHandler struct {
	svc      *service.ExternalTransferService
	accounts *service.AccountService
	journal  *service.Journal
}

func NewExternalHandler(svc *service.ExternalTransferService, accounts *service.AccountService, journal *service.Journal) *ExternalHandler {
	return &ExternalHandler{svc: svc, accounts: accounts, journal: journal}
}

type externalRequest struct {
	AccountID   string         `json:"account_id"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Provider    string         `json:"provider"`
	Destination string         `json:"destination"`
	Description string         `json:"description"`
	ReferenceID string         `json:"reference_id"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateDeposit handles POST /v1/deposits. The entry stays pending until the rail confirms,
// so the response is 202 Accepted.
func (h *ExternalHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.svc.InitiateDeposit)
}

// CreateWithdrawal handles POST /v1/withdrawals. Funds are held until the rail confirms.
func (h *ExternalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.svc.InitiateWithdrawal)
}

type initiateFunc func(ctx context.Context, cmd service.ExternalCmd) (*models.JournalEntry, error)

func (h *ExternalHandler) initiate(w http.ResponseWriter, r *http.Request, start initiateFunc) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req externalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account_id")
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}
	if !h.ownsAccount(w, r, accountID, actorID, isAdmin) {
		return
	}

	reference := req.ReferenceID
	if reference == "" {
		reference = r.Header.Get("Idempotency-Key")
	}
	entry, err := start(r.Context(), service.ExternalCmd{
		AccountID:   accountID,
		Amount:      amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		Destination: req.Destination,
		ReferenceID: reference,
		Description: req.Description,
		Metadata:    req.Metadata,
		ActorID:     &actorID,
	})
	if err != nil {
		writeServiceError(w, r, err, "external/initiate-failed")
		return
	}
	RespondJSON(w, http.StatusAccepted, entry)
}

// Confirm handles POST /v1/external/{id}/confirm. A still-pending rail answers 202 with the
// unchanged entry; a final answer answers 200 with the settled entry.
func (h *ExternalHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	entryID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.journal.Get(r.Context(), entryID)
	if err != nil {
		writeServiceError(w, r, err, "external/confirm-failed")
		return
	}
	if !isAdmin {
		accountID := entry.ToAccountID
		if entry.Kind == domain.KindWithdrawal {
			accountID = entry.FromAccountID
		}
		if accountID == nil {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
		if !h.ownsAccount(w, r, *accountID, actorID, false) {
			return
		}
	}

	entry, err = h.svc.Confirm(r.Context(), entryID)
	if errors.Is(err, domain.ErrExternalPending) && entry != nil {
		RespondJSON(w, http.StatusAccepted, entry)
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "external/confirm-failed")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}

func (h *ExternalHandler) ownsAccount(w http.ResponseWriter, r *http.Request, accountID, actorID uuid.UUID, isAdmin bool) bool {
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err, "account/read-failed")
		return false
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return false
	}
	return true
}
