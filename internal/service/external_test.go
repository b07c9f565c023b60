package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/gateway"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositSettlesOnlyAfterConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, acc := env.newUser(t, "BGN")

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(200), Provider: testProvider})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, entry.Status)
	assert.NotEmpty(t, entry.ExternalRef)
	assert.Equal(t, int64(0), env.balance(t, acc.ID).Balance)

	_, err = env.external.Confirm(ctx, entry.ID)
	require.ErrorIs(t, err, domain.ErrExternalPending)
	assert.Equal(t, int64(0), env.balance(t, acc.ID).Balance)

	require.NoError(t, env.gateway.Resolve(entry.ExternalRef, gateway.StatusSucceeded))
	done, err := env.external.Confirm(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Greater(t, done.Seq, entry.Seq)
	assert.Equal(t, units(200), env.balance(t, acc.ID).Balance)

	tokens, err := env.tokens.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), tokens.Balance)

	again, err := env.external.Confirm(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Seq, again.Seq)
	assert.Equal(t, units(200), env.balance(t, acc.ID).Balance)
	env.requireBalanced(t)
}

func TestFailedDepositLeavesBalanceUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(20), Provider: testProvider})
	require.NoError(t, err)
	require.NoError(t, env.gateway.Resolve(entry.ExternalRef, gateway.StatusFailed))

	done, err := env.external.Confirm(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Equal(t, int64(0), env.balance(t, acc.ID).Balance)
	env.requireBalanced(t)
}

func TestWithdrawalHoldsUntilSettled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")
	env.fund(t, acc.ID, units(100))

	cmd := ExternalCmd{AccountID: acc.ID, Amount: units(40), Provider: testProvider, Destination: "BG80BNBG96611020345678"}
	first, err := env.external.InitiateWithdrawal(ctx, cmd)
	require.NoError(t, err)

	b := env.balance(t, acc.ID)
	assert.Equal(t, units(100), b.Balance)
	assert.Equal(t, units(60), b.Available)
	assert.Equal(t, units(40), b.Held)
	env.requireBalanced(t)

	require.NoError(t, env.gateway.Resolve(first.ExternalRef, gateway.StatusFailed))
	failed, err := env.external.Confirm(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	b = env.balance(t, acc.ID)
	assert.Equal(t, units(100), b.Balance)
	assert.Equal(t, units(100), b.Available)

	second, err := env.external.InitiateWithdrawal(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, env.gateway.Resolve(second.ExternalRef, gateway.StatusSucceeded))
	done, err := env.external.Confirm(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	b = env.balance(t, acc.ID)
	assert.Equal(t, units(60), b.Balance)
	assert.Equal(t, units(60), b.Available)
	env.requireBalanced(t)
}

func TestWithdrawalRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")
	env.fund(t, acc.ID, units(10))

	tests := []struct {
		name string
		cmd  ExternalCmd
		want error
	}{
		{"no destination", ExternalCmd{AccountID: acc.ID, Amount: units(1), Provider: testProvider}, domain.ErrInvalidInput},
		{"unknown rail", ExternalCmd{AccountID: acc.ID, Amount: units(1), Provider: "swift", Destination: "x"}, domain.ErrUnsupportedRail},
		{"more than available", ExternalCmd{AccountID: acc.ID, Amount: units(11), Provider: testProvider, Destination: "x"}, domain.ErrInsufficientFunds},
		{"currency mismatch", ExternalCmd{AccountID: acc.ID, Amount: units(1), Currency: "EUR", Provider: testProvider, Destination: "x"}, domain.ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.external.InitiateWithdrawal(ctx, tt.cmd)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, units(10), env.balance(t, acc.ID).Available)
}

func TestExternalReferenceReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	cmd := ExternalCmd{AccountID: acc.ID, Amount: units(5), Provider: testProvider, ReferenceID: "dep-1"}
	first, err := env.external.InitiateDeposit(ctx, cmd)
	require.NoError(t, err)
	second, err := env.external.InitiateDeposit(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExternalRef, second.ExternalRef)

	cmd.Amount = units(6)
	_, err = env.external.InitiateDeposit(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfirmRejectsInternalEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, a := env.newUser(t, "BGN")
	_, b := env.newUser(t, "BGN")
	env.fund(t, a.ID, units(10))

	entry, err := env.transfers.Transfer(ctx, TransferCmd{FromAccountID: a.ID, ToAccountID: b.ID, Amount: units(1)})
	require.NoError(t, err)
	_, err = env.external.Confirm(ctx, entry.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProcessPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	settled, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(3), Provider: testProvider})
	require.NoError(t, err)
	_, err = env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(4), Provider: testProvider})
	require.NoError(t, err)
	require.NoError(t, env.gateway.Resolve(settled.ExternalRef, gateway.StatusSucceeded))

	n, err := env.external.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, units(3), env.balance(t, acc.ID).Balance)

	n, err = env.external.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	env.requireBalanced(t)
}

func TestProcessPendingReachesEntriesBehindStuckOnes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	var refs []string
	for _, amount := range []int64{1, 2, 3} {
		e, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(amount), Provider: testProvider})
		require.NoError(t, err)
		refs = append(refs, e.ExternalRef)
	}
	require.NoError(t, env.gateway.Resolve(refs[2], gateway.StatusSucceeded))

	n, err := env.external.ProcessPending(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.external.ProcessPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, units(3), env.balance(t, acc.ID).Balance)

	total := 0
	for range 3 {
		n, err := env.external.ProcessPending(ctx, 2)
		require.NoError(t, err)
		total += n
	}
	assert.Zero(t, total)

	_, err = env.external.ProcessPending(ctx, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	env.requireBalanced(t)
}

type flakyGateway struct {
	*gateway.MockGateway
	failInitiate int
}

func (g *flakyGateway) Initiate(ctx context.Context, req gateway.Request) (string, error) {
	if g.failInitiate > 0 {
		g.failInitiate--
		return "", errors.New("connection reset")
	}
	return g.MockGateway.Initiate(ctx, req)
}

func TestIndeterminateInitiateIsRedispatchedOnConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	flaky := &flakyGateway{MockGateway: env.gateway, failInitiate: 1}
	env.external.gateways = gateway.NewRegistry().Register(testProvider, flaky)

	entry, err := env.external.InitiateDeposit(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(8), Provider: testProvider})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, entry.Status)
	assert.Empty(t, entry.ExternalRef)

	_, err = env.external.Confirm(ctx, entry.ID)
	require.ErrorIs(t, err, domain.ErrExternalPending)

	stored, err := env.journal.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ExternalRef)
	require.NoError(t, env.gateway.Resolve(stored.ExternalRef, gateway.StatusSucceeded))

	done, err := env.external.Confirm(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, units(8), env.balance(t, acc.ID).Balance)
}

func TestUnreadableWithdrawalMetadataFailsAndReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")
	env.fund(t, acc.ID, units(50))

	flaky := &flakyGateway{MockGateway: env.gateway, failInitiate: 1}
	env.external.gateways = gateway.NewRegistry().Register(testProvider, flaky)

	entry, err := env.external.InitiateWithdrawal(ctx, ExternalCmd{AccountID: acc.ID, Amount: units(20), Provider: testProvider, Destination: "BG80BNBG96611020345678"})
	require.NoError(t, err)
	require.Empty(t, entry.ExternalRef)
	assert.Equal(t, units(30), env.balance(t, acc.ID).Available)

	entry.Metadata = []byte(`{"destination":42}`)
	failed, err := env.external.dispatch(ctx, flaky, entry)
	require.ErrorIs(t, err, domain.ErrExternalFailed)
	require.NotNil(t, failed)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	b := env.balance(t, acc.ID)
	assert.Equal(t, units(50), b.Balance)
	assert.Equal(t, units(50), b.Available)
	env.requireBalanced(t)
}

func TestDestinationOf(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		want     string
		wantErr  bool
	}{
		{"empty", "", "", false},
		{"present", `{"destination":"BG80BNBG96611020345678","note":"rent"}`, "BG80BNBG96611020345678", false},
		{"absent", `{"note":"rent"}`, "", false},
		{"wrong type", `{"destination":42}`, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := destinationOf(&models.JournalEntry{Metadata: []byte(tc.metadata)})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
