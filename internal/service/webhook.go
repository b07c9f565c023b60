package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/google/uuid"
)

var ErrInvalidSignature = errors.New("invalid signature")

// WebhookService turns rail callbacks into confirmation attempts. A callback is only a hint:
// the outcome is always read back from the rail through Confirm.
type WebhookService struct {
	external *ExternalTransferService
	hmacKey  []byte
	skipSig  bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(external *ExternalTransferService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		external: external,
		hmacKey:  []byte(hmacKey),
		skipSig:  skipSignature,
	}
}

// SettlementWebhookPayload is the callback body sent by a rail.
type SettlementWebhookPayload struct {
	EntryID     string `json:"entry_id"`
	Provider    string `json:"provider"`
	ExternalRef string `json:"external_ref"`
}

type SettlementWebhookResponse struct {
	EntryID uuid.UUID `json:"entry_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// HandleSettlementWebhook verifies the HMAC signature and tries to finalize the referenced entry.
func (s *WebhookService) HandleSettlementWebhook(ctx context.Context, payload []byte, signature string) (*SettlementWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var body SettlementWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %v", domain.ErrInvalidInput, err)
	}
	entryID, err := uuid.Parse(strings.TrimSpace(body.EntryID))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid entry_id", domain.ErrInvalidInput)
	}

	entry, err := s.external.journal.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if body.Provider != "" && body.Provider != entry.ExternalProvider {
		return nil, fmt.Errorf("%w: entry %s does not belong to provider %s", domain.ErrInvalidInput, entryID, body.Provider)
	}
	if body.ExternalRef != "" && entry.ExternalRef != "" && body.ExternalRef != entry.ExternalRef {
		return nil, fmt.Errorf("%w: external_ref does not match entry %s", domain.ErrInvalidInput, entryID)
	}

	entry, err = s.external.Confirm(ctx, entryID)
	switch {
	case errors.Is(err, domain.ErrExternalPending):
		return &SettlementWebhookResponse{EntryID: entryID, Status: domain.StatusPending, Message: "Settlement not confirmed yet"}, nil
	case errors.Is(err, domain.ErrExternalFailed):
		return &SettlementWebhookResponse{EntryID: entryID, Status: domain.StatusFailed, Message: "Settlement failed"}, nil
	case err != nil:
		return nil, err
	}
	return &SettlementWebhookResponse{EntryID: entryID, Status: entry.Status, Message: "Settlement processed"}, nil
}

func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// constant-time
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// Sign returns the signature header value a rail would send for payload.
func Sign(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
