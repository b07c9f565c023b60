package service

import (
	"context"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/ayo6706/ledger-engine/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice, a := env.newUser(t, "BGN")
	bob, b := env.newUser(t, "BGN")
	_, e := env.newUser(t, "EUR")
	env.fund(t, a.ID, units(300))
	env.fund(t, e.ID, units(80))

	_, err := env.transfers.Transfer(ctx, TransferCmd{FromAccountID: a.ID, ToAccountID: b.ID, Amount: units(120)})
	require.NoError(t, err)
	_, err = env.external.InitiateWithdrawal(ctx, ExternalCmd{AccountID: b.ID, Amount: units(20), Provider: testProvider, Destination: "x"})
	require.NoError(t, err)
	_, err = env.bulk.Withdraw(ctx, admin(), BulkWithdrawalCmd{Currency: "EUR", Amount: units(30)})
	require.NoError(t, err)
	_, err = env.tokens.Transfer(ctx, TokenTransferCmd{FromUserID: alice.ID, ToUserID: bob.ID, Amount: 100_000})
	require.NoError(t, err)

	report, err := env.recon.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Balanced)
	require.Len(t, report.Currencies, 2)

	bgn := report.Currencies[0]
	assert.Equal(t, "BGN", bgn.Currency)
	assert.Equal(t, units(300), bgn.Balance)
	assert.Equal(t, units(20), bgn.Held)
	assert.Equal(t, units(20), bgn.ExpectedHeld)

	eur := report.Currencies[1]
	assert.Equal(t, "EUR", eur.Currency)
	assert.Equal(t, units(50), eur.Expected)

	// deposit 0.15 + transfer 0.06 + deposit 0.04, less the 0.0001 burned
	assert.Equal(t, int64(150_000+60_000+40_000-100), report.Tokens.Circulating)
	assert.True(t, report.Tokens.Balanced)
}

func TestReconciliationDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")
	env.fund(t, acc.ID, units(10))

	_, err := env.store.Queries().UpdateAccountBalances(ctx, acc.ID, 5, 5)
	require.NoError(t, err)

	report, err := env.recon.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Balanced)
	require.Len(t, report.Currencies, 1)
	assert.False(t, report.Currencies[0].Balanced)
	assert.Equal(t, units(10)+5, report.Currencies[0].Balance)
	assert.Equal(t, units(10), report.Currencies[0].Expected)

	_, err = env.store.Queries().UpdateTokenAccount(ctx, acc.UserID, 1, 0, 0)
	require.NoError(t, err)
	report, err = env.recon.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Tokens.Balanced)
	assert.Equal(t, int64(domain.MicrosPerUnit/200+1), report.Tokens.Circulating)
}

// interleavingStore commits a write right after the first read of a snapshot scope.
type interleavingStore struct {
	*memstore.Store
	between func()
}

func (s *interleavingStore) RunInSnapshot(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.Store.RunInSnapshot(ctx, func(q repository.Querier) error {
		return fn(&interleavingQuerier{Querier: q, store: s})
	})
}

type interleavingQuerier struct {
	repository.Querier
	store *interleavingStore
}

func (q *interleavingQuerier) SumAccountsByCurrency(ctx context.Context) ([]repository.CurrencyTotal, error) {
	totals, err := q.Querier.SumAccountsByCurrency(ctx)
	if q.store.between != nil {
		q.store.between()
		q.store.between = nil
	}
	return totals, err
}

func TestReconciliationReadsOneSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")
	env.fund(t, acc.ID, units(10))

	store := &interleavingStore{Store: env.store, between: func() { env.fund(t, acc.ID, units(7)) }}
	report, err := NewReconciliationService(store, "MNR").Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced, "%+v", report)
	require.Len(t, report.Currencies, 1)
	assert.Equal(t, units(10), report.Currencies[0].Balance)
	assert.Equal(t, units(10), report.Currencies[0].Expected)
	assert.Nil(t, store.between)

	assert.Equal(t, units(17), env.balance(t, acc.ID).Balance)
	env.requireBalanced(t)
}
