package handler

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/service"
)

type UserHandler struct {
	svc *service.AccountService
}

func NewUserHandler(svc *service.AccountService) *UserHandler {
	return &UserHandler{svc: svc}
}

type registerResponse struct {
	User    *models.User    `json:"user"`
	Account *models.Account `json:"account"`
}

// CreateUser registers a user with an empty account in the requested (or default) currency.
// Self-registration always yields the user role.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Currency string `json:"currency"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, account, err := h.svc.RegisterUser(r.Context(), service.RegisterUserCmd{
		Username: req.Username,
		Email:    req.Email,
		Role:     domain.RoleUser,
		Currency: req.Currency,
	})
	if err != nil {
		writeServiceError(w, r, err, "user/create-failed")
		return
	}

	RespondJSON(w, http.StatusCreated, registerResponse{User: user, Account: account})
}
