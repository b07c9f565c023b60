package handler

import (
	"io"
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookHandler handles incoming settlement callbacks from external rails.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandleSettlementWebhook handles POST /v1/webhooks/external.
// The body is signed with HMAC-SHA256 in X-Webhook-Signature.
func (h *WebhookHandler) HandleSettlementWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	resp, err := h.webhookSvc.HandleSettlementWebhook(r.Context(), body, signature)
	if err != nil {
		zap.L().Warn("process settlement webhook failed", zap.Error(err))
		writeServiceError(w, r, err, "webhook/failed")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
