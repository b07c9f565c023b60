package service

import (
	"context"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReportLedger(t *testing.T, env *testEnv) (a, b, e *models.Account) {
	t.Helper()
	ctx := context.Background()
	_, a = env.newUser(t, "BGN")
	_, b = env.newUser(t, "BGN")
	_, e = env.newUser(t, "EUR")
	env.fund(t, a.ID, units(100))
	env.fund(t, e.ID, units(50))

	_, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: b.ID, Amount: units(5), Provider: testProvider})
	require.NoError(t, err)
	_, err = env.external.InitiateWithdrawal(ctx, ExternalCmd{AccountID: a.ID, Amount: units(10), Provider: testProvider, Destination: "BG80BNBG96611020345678"})
	require.NoError(t, err)
	return a, b, e
}

func TestOverview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedReportLedger(t, env)

	_, err := env.reports.Overview(ctx, authz.AdminClaim{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	o, err := env.reports.Overview(ctx, admin())
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.Users)
	assert.Equal(t, int64(3), o.Accounts)
	require.Equal(t, []CurrencyOverview{
		{Currency: "BGN", Accounts: 2, Balance: units(100), Available: units(90), Held: units(10)},
		{Currency: "EUR", Accounts: 1, Balance: units(50), Available: units(50)},
	}, o.Currencies)

	var entries int64
	pendingWithdrawals := int64(0)
	for _, a := range o.Activity {
		entries += a.Entries
		if a.Kind == domain.KindWithdrawal && a.Status == domain.StatusPending {
			pendingWithdrawals += a.Amount
		}
	}
	assert.Equal(t, o.Entries, entries)
	assert.Equal(t, units(10), pendingWithdrawals)

	require.NotNil(t, o.Tokens)
	assert.Equal(t, "MNR", o.Tokens.Symbol)
	require.NotEmpty(t, o.RecentActivity)
	assert.LessOrEqual(t, len(o.RecentActivity), recentActivitySize)
	assert.Equal(t, domain.KindWithdrawal, o.RecentActivity[0].Kind)
}

func TestTransactionsFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b, e := seedReportLedger(t, env)

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"pending only", HistoryFilter{Statuses: []string{domain.StatusPending}}, 2},
		{"currency and kind", HistoryFilter{Currency: "EUR", Kinds: []string{domain.KindDeposit}}, 1},
		{"account", HistoryFilter{AccountID: &b.ID}, 1},
		{"completed deposits", HistoryFilter{Kinds: []string{domain.KindDeposit}, Statuses: []string{domain.StatusCompleted}}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, next, err := env.reports.Transactions(ctx, admin(), tc.filter, 50)
			require.NoError(t, err)
			assert.Len(t, page, tc.want)
			assert.Zero(t, next)
		})
	}

	pending, _, err := env.reports.Transactions(ctx, admin(), HistoryFilter{Statuses: []string{domain.StatusPending}}, 50)
	require.NoError(t, err)
	for _, p := range pending {
		assert.Equal(t, domain.StatusPending, p.Status)
		assert.NotEqual(t, e.ID, accountRef(&p))
	}
	assert.Equal(t, a.ID, accountRef(&pending[0]))

	_, _, err = env.reports.Transactions(ctx, admin(), HistoryFilter{Kinds: []string{"swap"}}, 50)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, _, err = env.reports.Transactions(ctx, authz.AdminClaim{}, HistoryFilter{}, 50)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExportTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedReportLedger(t, env)

	filter := HistoryFilter{Currency: "BGN", PageSize: 1}
	entries, err := env.reports.ExportTransactions(ctx, admin(), filter)
	require.NoError(t, err)

	var exported []models.JournalEntry
	for entry, err := range entries {
		require.NoError(t, err)
		exported = append(exported, entry)
	}
	page, _, err := env.reports.Transactions(ctx, admin(), HistoryFilter{Currency: "BGN"}, 200)
	require.NoError(t, err)
	assert.Equal(t, page, exported)

	_, err = env.reports.ExportTransactions(ctx, admin(), HistoryFilter{Statuses: []string{"done"}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
