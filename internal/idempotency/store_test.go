package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/ledger-engine/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycleWithoutRedis(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, memstore.New(), time.Minute)

	_, err := s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/transfers")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Reserve(ctx, "k1", "h1", "POST", "/v1/transfers")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrInProgress)

	rec, err := s.Finalize(ctx, "k1", "h1", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)

	rec, err = s.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "store", rec.ServedBy)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = s.Lookup(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrHashMismatch)

	_, err = s.Finalize(ctx, "missing", "h1", 200, nil, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWaitForCompletionHonoursContext(t *testing.T) {
	s := NewStore(nil, memstore.New(), time.Minute)
	ok, err := s.Reserve(context.Background(), "k1", "h1", "POST", "/v1/transfers")
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = s.WaitForCompletion(ctx, "k1", "h1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseFreesUnfinishedReservation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, memstore.New(), time.Minute)

	ok, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/transfers")
	require.NoError(t, err)
	require.True(t, ok)

	// a different body cannot drop someone else's reservation
	require.NoError(t, s.Release(ctx, "k1", "h2"))
	_, err = s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, s.Release(ctx, "k1", "h1"))
	_, err = s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err = s.Reserve(ctx, "k1", "h1", "POST", "/v1/transfers")
	require.NoError(t, err)
	assert.True(t, ok)
}
