package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/db"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	release := dblock.Acquire()
	t.Cleanup(release)

	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"), db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE TABLE audit_log, idempotency_keys, journal_entries, token_accounts, accounts, users CASCADE")
	require.NoError(t, err)
	return pool
}

func TestClassifyConflicts(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := classify(fmt.Errorf("update: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, domain.ErrStoreConflict, code)
	}

	unique := &pgconn.PgError{Code: "23505"}
	assert.False(t, errors.Is(classify(unique), domain.ErrStoreConflict))
	assert.Nil(t, classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_journal_entries_reference"})
	assert.True(t, IsUniqueViolation(err, "ux_journal_entries_reference"))
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, "users_email_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23514"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
}

func TestCreateUserAndAccount(t *testing.T) {
	pool := setupTestDB(t)
	q := New(pool)
	ctx := context.Background()

	userID := uuid.New()
	user := &models.User{
		ID:       userID,
		Username: "testuser_" + userID.String()[:8],
		Email:    "test_" + userID.String()[:8] + "@example.com",
	}
	require.NoError(t, q.CreateUser(ctx, user))

	dbUser, err := q.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, dbUser.ID)
	assert.Equal(t, domain.RoleUser, dbUser.Role)

	account := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: "BGN"}
	require.NoError(t, q.CreateAccount(ctx, account))

	dbAccount, err := q.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dbAccount.Balance)
	assert.Equal(t, domain.AccountActive, dbAccount.Status)

	_, err = q.GetAccount(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAvailableBalanceConstraint(t *testing.T) {
	pool := setupTestDB(t)
	q := New(pool)
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Username: "constraint", Email: "constraint@example.com"}
	require.NoError(t, q.CreateUser(ctx, user))
	account := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: "BGN", Balance: 100, AvailableBalance: 100}
	require.NoError(t, q.CreateAccount(ctx, account))

	_, err := q.UpdateAccountBalances(ctx, account.ID, 0, -150)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23514", pgErr.Code)
}

func TestJournalEntryLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	q := store.Queries()
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Username: "journal", Email: "journal@example.com"}
	require.NoError(t, q.CreateUser(ctx, user))
	account := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: "BGN"}
	require.NoError(t, q.CreateAccount(ctx, account))

	entry := &models.JournalEntry{
		ID:          uuid.New(),
		ToAccountID: &account.ID,
		ToUserID:    &user.ID,
		Amount:      5_000_000,
		Currency:    "BGN",
		Kind:        domain.KindDeposit,
		Status:      domain.StatusPending,
		ReferenceID: "dep-1",
		Metadata:    []byte(`{"provider":"mock"}`),
	}
	require.NoError(t, q.InsertJournalEntry(ctx, entry))
	require.NotZero(t, entry.Seq)

	err := store.RunInTx(ctx, func(qtx Querier) error {
		locked, err := qtx.GetJournalEntryForUpdate(ctx, entry.ID)
		if err != nil {
			return err
		}
		require.Equal(t, domain.StatusPending, locked.Status)
		if _, err := qtx.UpdateAccountBalances(ctx, account.ID, entry.Amount, entry.Amount); err != nil {
			return err
		}
		finalized, err := qtx.FinalizeJournalEntry(ctx, entry.ID, domain.StatusCompleted)
		if err != nil {
			return err
		}
		require.Greater(t, finalized.Seq, entry.Seq)
		return nil
	})
	require.NoError(t, err)

	// completed entries are immutable
	_, err = q.FinalizeJournalEntry(ctx, entry.ID, domain.StatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = pool.Exec(ctx, "UPDATE journal_entries SET amount = 1 WHERE id = $1", entry.ID)
	require.Error(t, err)

	byRef, err := q.GetJournalEntryByReference(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, byRef.Status)
	assert.JSONEq(t, `{"provider":"mock"}`, string(byRef.Metadata))

	entries, err := q.ListJournalEntries(ctx, JournalFilter{AccountID: &account.ID, Kinds: []string{domain.KindDeposit}})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	totals, err := q.SumAccountsByCurrency(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(5_000_000), totals[0].Balance)
}

func TestPendingExternalQueriesAndSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	q := store.Queries()
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Username: "pending", Email: "pending@example.com"}
	require.NoError(t, q.CreateUser(ctx, user))
	account := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: "BGN"}
	require.NoError(t, q.CreateAccount(ctx, account))

	var ids []uuid.UUID
	for i := range 3 {
		e := &models.JournalEntry{
			ID:               uuid.New(),
			ToAccountID:      &account.ID,
			ToUserID:         &user.ID,
			Amount:           int64(i+1) * 1_000_000,
			Currency:         "BGN",
			Kind:             domain.KindDeposit,
			Status:           domain.StatusPending,
			ExternalProvider: "mock",
		}
		require.NoError(t, q.InsertJournalEntry(ctx, e))
		ids = append(ids, e.ID)
	}

	n, err := q.CountPendingExternalByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	first, err := q.ListPendingExternalEntries(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)
	rest, err := q.ListPendingExternalEntries(ctx, first[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[2], rest[0].ID)

	err = store.RunInSnapshot(ctx, func(snap Querier) error {
		before, err := snap.CountUsers(ctx)
		require.NoError(t, err)
		require.NoError(t, q.CreateUser(ctx, &models.User{ID: uuid.New(), Username: "late", Email: "late@example.com"}))
		after, err := snap.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		return nil
	})
	require.NoError(t, err)

	users, err := q.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), users)
}
