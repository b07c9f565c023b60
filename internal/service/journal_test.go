package service

import (
	"context"
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalSettleIsFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, acc := env.newUser(t, "BGN")

	entry := &models.JournalEntry{ToAccountID: &acc.ID, Amount: units(1), Currency: "BGN", Kind: domain.KindDeposit}
	require.NoError(t, env.store.RunInTx(ctx, func(q repository.Querier) error {
		return env.journal.Record(ctx, q, entry, nil)
	}))

	applied := 0
	settle := func(outcome string) (*models.JournalEntry, bool, error) {
		var out *models.JournalEntry
		var changed bool
		err := env.store.RunInTx(ctx, func(q repository.Querier) error {
			var err error
			out, changed, err = env.journal.Settle(ctx, q, entry.ID, outcome, nil, func(*models.JournalEntry) error {
				applied++
				return nil
			})
			return err
		})
		return out, changed, err
	}

	done, changed, err := settle(domain.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	again, changed, err := settle(domain.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, done.Seq, again.Seq)

	_, _, err = settle(domain.StatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = settle(domain.StatusPending)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, applied)
}

func TestJournalRecordValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry models.JournalEntry
		want  error
	}{
		{"zero amount", models.JournalEntry{Currency: "BGN", Kind: domain.KindTransfer}, domain.ErrInvalidAmount},
		{"negative fee", models.JournalEntry{Amount: 1, Fee: -1, Currency: "BGN", Kind: domain.KindTransfer}, domain.ErrInvalidAmount},
		{"unknown kind", models.JournalEntry{Amount: 1, Currency: "BGN", Kind: "gift"}, domain.ErrInvalidInput},
		{"no currency", models.JournalEntry{Amount: 1, Kind: domain.KindTransfer}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.store.RunInTx(ctx, func(q repository.Querier) error {
				e := tt.entry
				return env.journal.Record(ctx, q, &e, nil)
			})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJournalHistoryWalksAllPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, a := env.newUser(t, "BGN")
	_, b := env.newUser(t, "BGN")
	env.fund(t, a.ID, units(100))
	for range 5 {
		_, err := env.transfers.Transfer(ctx, TransferCmd{FromAccountID: a.ID, ToAccountID: b.ID, Amount: units(1)})
		require.NoError(t, err)
	}

	var seqs []int64
	for e, err := range env.journal.History(ctx, HistoryFilter{AccountID: &a.ID, PageSize: 2}) {
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}
	require.Len(t, seqs, 6)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i-1], seqs[i])
	}

	var transfers int
	for e, err := range env.journal.History(ctx, HistoryFilter{AccountID: &b.ID, Kinds: []string{domain.KindTransfer}, PageSize: 2}) {
		require.NoError(t, err)
		transfers++
		if transfers == 3 {
			assert.Equal(t, domain.KindTransfer, e.Kind)
			break
		}
	}
	assert.Equal(t, 3, transfers)
}
