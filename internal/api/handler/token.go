package handler

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/service"
	"github.com/google/uuid"
)

// TokenHandler exposes the caller's token wallet and the public token statistics.
type TokenHandler struct {
	svc *service.TokenService
}

func NewTokenHandler(svc *service.TokenService) *TokenHandler {
	return &TokenHandler{svc: svc}
}

func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	acc, err := h.svc.Balance(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, err, "token/balance-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"symbol":        h.svc.Symbol(),
		"balance":       acc.Balance,
		"earned_tokens": acc.EarnedTokens,
		"burned_tokens": acc.BurnedTokens,
	})
}

func (h *TokenHandler) History(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, cursor := pageParams(r)
	entries, next, err := h.svc.History(r.Context(), actorID, limit, cursor)
	if err != nil {
		writeServiceError(w, r, err, "token/history-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, newPage(entries, next))
}

func (h *TokenHandler) Burn(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}
	entry, err := h.svc.Burn(r.Context(), actorID, amount)
	if err != nil {
		writeServiceError(w, r, err, "token/burn-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// Transfer sends tokens from the caller to another user; the configured share is burned.
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req struct {
		ToUserID    string `json:"to_user_id"`
		Amount      string `json:"amount"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	toID, err := uuid.Parse(req.ToUserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-to-user-id", "Invalid to_user_id")
		return
	}
	amount, ok := parseAmount(w, r, req.Amount)
	if !ok {
		return
	}
	res, err := h.svc.Transfer(r.Context(), service.TokenTransferCmd{
		FromUserID:  actorID,
		ToUserID:    toID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err, "token/transfer-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

func (h *TokenHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "token/stats-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

func (h *TokenHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := pageParams(r)
	if r.URL.Query().Get("limit") == "" {
		limit = 0
	}
	rows, err := h.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err, "token/leaderboard-read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, rows)
}
