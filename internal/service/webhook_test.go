package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/gateway"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookBody(t *testing.T, p SettlementWebhookPayload) []byte {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body
}

func TestHandleSettlementWebhook(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.external, "secret", false)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(75), Provider: testProvider})
	require.NoError(t, err)
	body := webhookBody(t, SettlementWebhookPayload{EntryID: entry.ID.String(), Provider: testProvider, ExternalRef: entry.ExternalRef})

	resp, err := svc.HandleSettlementWebhook(ctx, body, Sign("secret", body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, resp.Status)
	assert.Equal(t, int64(0), env.balance(t, acc.ID).Balance)

	require.NoError(t, env.gateway.Resolve(entry.ExternalRef, gateway.StatusSucceeded))
	resp, err = svc.HandleSettlementWebhook(ctx, body, Sign("secret", body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, units(75), env.balance(t, acc.ID).Balance)

	// duplicate delivery
	resp, err = svc.HandleSettlementWebhook(ctx, body, Sign("secret", body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, units(75), env.balance(t, acc.ID).Balance)
}

func TestHandleSettlementWebhookRejections(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.external, "secret", false)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(5), Provider: testProvider})
	require.NoError(t, err)
	valid := webhookBody(t, SettlementWebhookPayload{EntryID: entry.ID.String()})

	_, err = svc.HandleSettlementWebhook(ctx, valid, "sha256=deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewWebhookService(env.external, "", false).HandleSettlementWebhook(ctx, valid, Sign("", valid))
	require.ErrorIs(t, err, ErrInvalidSignature)

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"malformed", []byte(`{"entry_id":`), domain.ErrInvalidInput},
		{"bad id", webhookBody(t, SettlementWebhookPayload{EntryID: "nope"}), domain.ErrInvalidInput},
		{"unknown entry", webhookBody(t, SettlementWebhookPayload{EntryID: uuid.NewString()}), domain.ErrNotFound},
		{"other provider", webhookBody(t, SettlementWebhookPayload{EntryID: entry.ID.String(), Provider: "stripe"}), domain.ErrInvalidInput},
		{"other reference", webhookBody(t, SettlementWebhookPayload{EntryID: entry.ID.String(), ExternalRef: "FAKE-1"}), domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleSettlementWebhook(ctx, tt.body, Sign("secret", tt.body))
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(0), env.balance(t, acc.ID).Balance)
}

func TestHandleSettlementWebhookSkipsSignature(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.external, "", true)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(5), Provider: testProvider})
	require.NoError(t, err)
	require.NoError(t, env.gateway.Resolve(entry.ExternalRef, gateway.StatusFailed))

	resp, err := svc.HandleSettlementWebhook(ctx, webhookBody(t, SettlementWebhookPayload{EntryID: entry.ID.String()}), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
}
