package service

import (
	"context"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWaterfall(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	acc := func(id uuid.UUID, balance, available int64) models.Account {
		return models.Account{ID: id, Currency: "BGN", Balance: balance, AvailableBalance: available}
	}

	tests := []struct {
		name     string
		accounts []models.Account
		amount   int64
		want     map[uuid.UUID]int64
		wantErr  error
	}{
		{
			name:     "largest balance first",
			accounts: []models.Account{acc(low, 100, 100), acc(high, 300, 300)},
			amount:   350,
			want:     map[uuid.UUID]int64{high: 300, low: 50},
		},
		{
			name:     "ties break on id",
			accounts: []models.Account{acc(high, 200, 200), acc(low, 200, 200)},
			amount:   150,
			want:     map[uuid.UUID]int64{low: 150},
		},
		{
			name:     "held funds are not taken",
			accounts: []models.Account{acc(high, 500, 100), acc(low, 200, 200)},
			amount:   250,
			want:     map[uuid.UUID]int64{low: 200, high: 50},
		},
		{
			name:     "ordered by available balance",
			accounts: []models.Account{acc(low, 900, 50), acc(high, 300, 300)},
			amount:   280,
			want:     map[uuid.UUID]int64{high: 280},
		},
		{
			name:     "aggregate shortfall",
			accounts: []models.Account{acc(high, 10, 10), acc(low, 5, 5)},
			amount:   16,
			wantErr:  domain.ErrInsufficientAggregateFunds,
		},
		{
			name:     "non positive amount",
			accounts: []models.Account{acc(high, 10, 10)},
			amount:   0,
			wantErr:  domain.ErrInvalidAmount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanWaterfall(tt.accounts, tt.amount)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got := map[uuid.UUID]int64{}
			var total int64
			for _, d := range plan {
				got[d.AccountID] = d.Amount
				total += d.Amount
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.amount, total)
		})
	}
}

func TestBulkWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, big := env.newUser(t, "EUR")
	_, mid := env.newUser(t, "EUR")
	_, small := env.newUser(t, "EUR")
	_, other := env.newUser(t, "BGN")
	env.fund(t, big.ID, units(500))
	env.fund(t, mid.ID, units(300))
	env.fund(t, small.ID, units(100))
	env.fund(t, other.ID, units(1000))

	res, err := env.bulk.Withdraw(ctx, admin(), BulkWithdrawalCmd{Currency: "eur", Amount: units(650), Destination: "treasury"})
	require.NoError(t, err)
	assert.Equal(t, WithdrawalCompleted, res.State)
	assert.Equal(t, domain.KindAdminWithdrawal, res.Entry.Kind)
	assert.Equal(t, domain.StatusCompleted, res.Entry.Status)
	require.Len(t, res.Deductions, 2)
	assert.Equal(t, big.ID, res.Deductions[0].AccountID)
	assert.Equal(t, units(500), res.Deductions[0].Amount)
	assert.Equal(t, units(500), res.Deductions[0].BalanceBefore)
	assert.Equal(t, mid.ID, res.Deductions[1].AccountID)
	assert.Equal(t, units(150), res.Deductions[1].Amount)

	assert.Equal(t, int64(0), env.balance(t, big.ID).Balance)
	assert.Equal(t, units(150), env.balance(t, mid.ID).Balance)
	assert.Equal(t, units(100), env.balance(t, small.ID).Balance)
	assert.Equal(t, units(1000), env.balance(t, other.ID).Balance)
	env.requireBalanced(t)

	history, next, err := env.bulk.Withdrawals(ctx, admin(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, next)
	require.Len(t, history, 1)
	assert.Equal(t, res.Entry.ID, history[0].Entry.ID)
	assert.Len(t, history[0].Deductions, 2)
}

func TestBulkWithdrawalShortfallChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, a := env.newUser(t, "EUR")
	_, b := env.newUser(t, "EUR")
	env.fund(t, a.ID, units(40))
	env.fund(t, b.ID, units(50))

	_, err := env.bulk.Withdraw(ctx, admin(), BulkWithdrawalCmd{Currency: "EUR", Amount: units(91)})
	var short *domain.ShortfallError
	require.ErrorAs(t, err, &short)
	require.ErrorIs(t, err, domain.ErrInsufficientAggregateFunds)
	assert.Equal(t, units(90), short.Available)
	assert.Equal(t, "EUR", short.Currency)

	assert.Equal(t, units(40), env.balance(t, a.ID).Balance)
	assert.Equal(t, units(50), env.balance(t, b.ID).Balance)
	env.requireBalanced(t)
}

func TestBulkWithdrawalRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.bulk.Withdraw(context.Background(), authz.AdminClaim{}, BulkWithdrawalCmd{Currency: "EUR", Amount: units(1)})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestBulkWithdrawalReferenceReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, a := env.newUser(t, "EUR")
	env.fund(t, a.ID, units(100))

	cmd := BulkWithdrawalCmd{Currency: "EUR", Amount: units(10), ReferenceID: "sweep-2024-01"}
	first, err := env.bulk.Withdraw(ctx, admin(), cmd)
	require.NoError(t, err)
	second, err := env.bulk.Withdraw(ctx, admin(), cmd)
	require.NoError(t, err)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, units(90), env.balance(t, a.ID).Balance)
}

func TestWithdrawalResultReportsUnreadableMetadata(t *testing.T) {
	entry := &models.JournalEntry{ID: uuid.New(), Status: domain.StatusCompleted, Metadata: []byte(`{"deductions":"all"}`)}
	res, err := withdrawalResult(entry)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, WithdrawalCompleted, res.State)
	assert.Empty(t, res.Deductions)

	entry.Metadata = []byte(`{"deductions":[{"account_id":"00000000-0000-0000-0000-000000000001","amount":5}]}`)
	res, err = withdrawalResult(entry)
	require.NoError(t, err)
	require.Len(t, res.Deductions, 1)
}
