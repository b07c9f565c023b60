package handler

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/google/uuid"
)

type TransferHandler struct {
	svc      *service.TransferService
	accounts *service.AccountService
}

func NewTransferHandler(svc *service.TransferService, accounts *service.AccountService) *TransferHandler {
	return &TransferHandler{svc: svc, accounts: accounts}
}

// MakeInternalTransfer moves funds between two accounts. The reference id defaults to the
// Idempotency-Key header, so a replayed request never posts twice.
func (h *TransferHandler) MakeInternalTransfer(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		FromAccountID string `json:"from_account_id"`
		ToAccountID   string `json:"to_account_id"`
		Amount        string `json:"amount"`
		Currency      string `json:"currency"`
		Description   string `json:"description"`
		ReferenceID   string `json:"reference_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-from-account-id", "Invalid from_account_id")
		return
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-to-account-id", "Invalid to_account_id")
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}

	source, err := h.accounts.GetAccount(r.Context(), fromID)
	if err != nil {
		writeServiceError(w, r, err, "transfer/failed")
		return
	}
	if !isAdmin && source.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	reference := req.ReferenceID
	if reference == "" {
		reference = r.Header.Get("Idempotency-Key")
	}
	entry, err := h.svc.Transfer(r.Context(), service.TransferCmd{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		ReferenceID:   reference,
		ActorID:       &actorID,
	})
	if err != nil {
		writeServiceError(w, r, err, "transfer/failed")
		return
	}

	RespondJSON(w, http.StatusCreated, entry)
}
