package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGatewayInitiateIsIdempotent(t *testing.T) {
	gw := NewMockGateway()
	ctx := context.Background()
	req := Request{IdempotencyKey: "entry-1", Direction: DirectionWithdrawal, Amount: 10, Currency: "BGN"}

	ref1, err := gw.Initiate(ctx, req)
	require.NoError(t, err)
	ref2, err := gw.Initiate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	_, err = gw.Initiate(ctx, Request{IdempotencyKey: "entry-2"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestMockGatewaySettlesAfterDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gw := NewMockGateway()
	gw.FailureRate = 0
	gw.SettleAfter = time.Minute
	gw.now = func() time.Time { return now }
	ctx := context.Background()

	ref, err := gw.Initiate(ctx, Request{IdempotencyKey: "entry-1", Amount: 10})
	require.NoError(t, err)

	status, err := gw.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	now = now.Add(2 * time.Minute)
	status, err = gw.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)

	_, err = gw.Confirm(ctx, "missing")
	require.Error(t, err)
}

func TestMockGatewayResolve(t *testing.T) {
	gw := NewMockGateway()
	ctx := context.Background()
	ref, err := gw.Initiate(ctx, Request{IdempotencyKey: "entry-1", Amount: 10})
	require.NoError(t, err)

	require.NoError(t, gw.Resolve(ref, StatusFailed))
	status, err := gw.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry().Register("stripe", NewMockGateway()).Register("bank", NewMockGateway())
	_, ok := r.Get("stripe")
	assert.True(t, ok)
	_, ok = r.Get("solana")
	assert.False(t, ok)
	assert.Equal(t, []string{"bank", "stripe"}, r.Names())
}
