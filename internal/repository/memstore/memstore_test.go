package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, s *Store, balance int64) *models.Account {
	t.Helper()
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Username: "u-" + uuid.NewString()[:8], Email: uuid.NewString()[:8] + "@example.com"}
	require.NoError(t, s.Queries().CreateUser(ctx, user))
	acc := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: "BGN", Balance: balance, AvailableBalance: balance}
	require.NoError(t, s.Queries().CreateAccount(ctx, acc))
	return acc
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 100)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.UpdateAccountBalances(ctx, acc.ID, -40, -40)
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)

		inside, err := q.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, int64(60), inside.Balance)
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.Queries().GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), after.Balance)
}

func TestFailNextCommits(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 100)
	ctx := context.Background()
	s.FailNextCommits(1)

	debit := func(q repository.Querier) error {
		_, err := q.UpdateAccountBalances(ctx, acc.ID, -10, -10)
		return err
	}
	require.ErrorIs(t, s.RunInTx(ctx, debit), domain.ErrStoreConflict)
	require.NoError(t, s.RunInTx(ctx, debit))

	after, err := s.Queries().GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), after.Balance)
}

func TestAccountCheckConstraints(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 100)

	_, err := s.Queries().UpdateAccountBalances(context.Background(), acc.ID, 0, -101)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23514", pgErr.Code)
}

func TestJournalFinalizeAndOrdering(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 0)
	ctx := context.Background()
	q := s.Queries()

	first := &models.JournalEntry{ID: uuid.New(), ToAccountID: &acc.ID, Amount: 10, Currency: "BGN", Kind: domain.KindDeposit, Status: domain.StatusPending, ReferenceID: "ref-1"}
	second := &models.JournalEntry{ID: uuid.New(), ToAccountID: &acc.ID, Amount: 20, Currency: "BGN", Kind: domain.KindDeposit, Status: domain.StatusPending}
	require.NoError(t, q.InsertJournalEntry(ctx, first))
	require.NoError(t, q.InsertJournalEntry(ctx, second))

	dup := &models.JournalEntry{ID: uuid.New(), ToAccountID: &acc.ID, Amount: 5, Currency: "BGN", Kind: domain.KindDeposit, Status: domain.StatusPending, ReferenceID: "ref-1"}
	var pgErr *pgconn.PgError
	require.ErrorAs(t, q.InsertJournalEntry(ctx, dup), &pgErr)
	assert.Equal(t, "23505", pgErr.Code)

	// finalizing the older entry moves it to the head of the history
	finalized, err := q.FinalizeJournalEntry(ctx, first.ID, domain.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, finalized.FinalizedAt)
	assert.Greater(t, finalized.Seq, second.Seq)

	_, err = q.FinalizeJournalEntry(ctx, first.ID, domain.StatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	entries, err := q.ListJournalEntries(ctx, repository.JournalFilter{AccountID: &acc.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)

	older, err := q.ListJournalEntries(ctx, repository.JournalFilter{AccountID: &acc.ID, BeforeSeq: entries[0].Seq})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, second.ID, older[0].ID)

	pending, err := q.ListJournalEntries(ctx, repository.JournalFilter{Statuses: []string{domain.StatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	q := s.Queries()

	ok, err := q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: "k", RequestHash: "h", Method: "POST", Path: "/v1/transfers"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: "k", RequestHash: "h", Method: "POST", Path: "/v1/transfers"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{IdempotencyKey: "k", RequestHash: "other"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	rec, err := q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{IdempotencyKey: "k", RequestHash: "h", ResponseStatus: 201, ResponseBody: []byte(`{}`), ContentType: "application/json"})
	require.NoError(t, err)
	assert.False(t, rec.InProgress)
	assert.Equal(t, 201, rec.ResponseStatus)
}

func TestPendingExternalEntries(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 0)
	other := seedAccount(t, s, 0)
	ctx := context.Background()
	q := s.Queries()

	pending := func(account *models.Account, provider string) *models.JournalEntry {
		e := &models.JournalEntry{ID: uuid.New(), ToAccountID: &account.ID, Amount: 10, Currency: "BGN", Kind: domain.KindDeposit, Status: domain.StatusPending, ExternalProvider: provider}
		require.NoError(t, q.InsertJournalEntry(ctx, e))
		return e
	}
	a1 := pending(acc, "mock")
	pending(acc, "")
	a2 := pending(acc, "mock")
	b1 := pending(other, "mock")

	n, err := q.CountPendingExternalByAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := q.ListPendingExternalEntries(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []uuid.UUID{a1.ID, a2.ID}, []uuid.UUID{page[0].ID, page[1].ID})

	rest, err := q.ListPendingExternalEntries(ctx, page[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, b1.ID, rest[0].ID)

	_, err = q.FinalizeJournalEntry(ctx, a1.ID, domain.StatusCompleted)
	require.NoError(t, err)
	n, err = q.CountPendingExternalByAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunInSnapshotDiscardsWrites(t *testing.T) {
	s := New()
	acc := seedAccount(t, s, 100)
	ctx := context.Background()

	err := s.RunInSnapshot(ctx, func(q repository.Querier) error {
		before, err := q.GetAccount(ctx, acc.ID)
		require.NoError(t, err)

		// a commit from elsewhere is not visible inside the snapshot
		require.NoError(t, s.RunInTx(ctx, func(tx repository.Querier) error {
			_, err := tx.UpdateAccountBalances(ctx, acc.ID, -30, -30)
			return err
		}))
		after, err := q.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Balance, after.Balance)

		_, err = q.UpdateAccountBalances(ctx, acc.ID, 500, 500)
		return err
	})
	require.NoError(t, err)

	got, err := s.Queries().GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.Balance)

	users, err := s.Queries().CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
}
