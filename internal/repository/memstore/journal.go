package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
)

func (q *Queries) InsertJournalEntry(_ context.Context, e *models.JournalEntry) error {
	return q.with(func(st *state, now time.Time) error {
		if e.Amount <= 0 || e.Fee < 0 {
			return fmt.Errorf("failed to insert journal entry: %w", checkViolation("journal_entries_amount_check"))
		}
		if _, ok := st.entries[e.ID]; ok {
			return fmt.Errorf("failed to insert journal entry: %w", uniqueViolation("journal_entries_pkey"))
		}
		if e.ReferenceID != "" {
			if _, ok := st.references[e.ReferenceID]; ok {
				return fmt.Errorf("failed to insert journal entry: %w", uniqueViolation("ux_journal_entries_reference"))
			}
		}
		for _, id := range []*uuid.UUID{e.FromAccountID, e.ToAccountID} {
			if id == nil {
				continue
			}
			if _, ok := st.accounts[*id]; !ok {
				return fmt.Errorf("failed to insert journal entry: %w", foreignKeyViolation("journal_entries_account_fkey"))
			}
		}
		for _, id := range []*uuid.UUID{e.FromUserID, e.ToUserID} {
			if id == nil {
				continue
			}
			if _, ok := st.users[*id]; !ok {
				return fmt.Errorf("failed to insert journal entry: %w", foreignKeyViolation("journal_entries_user_fkey"))
			}
		}
		e.Seq = q.nextSeq(st)
		e.CreatedAt = now
		e.UpdatedAt = now
		st.entries[e.ID] = *e
		if e.ReferenceID != "" {
			st.references[e.ReferenceID] = e.ID
		}
		return nil
	})
}

func (q *Queries) getEntry(id uuid.UUID) (*models.JournalEntry, error) {
	var out models.JournalEntry
	err := q.with(func(st *state, _ time.Time) error {
		e, ok := st.entries[id]
		if !ok {
			return fmt.Errorf("journal entry %s: %w", id, domain.ErrNotFound)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) GetJournalEntry(_ context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	return q.getEntry(id)
}

func (q *Queries) GetJournalEntryForUpdate(_ context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	return q.getEntry(id)
}

func (q *Queries) GetJournalEntryByReference(_ context.Context, referenceID string) (*models.JournalEntry, error) {
	var out models.JournalEntry
	err := q.with(func(st *state, _ time.Time) error {
		id, ok := st.references[referenceID]
		if !ok {
			return fmt.Errorf("journal entry with reference %s: %w", referenceID, domain.ErrNotFound)
		}
		out = st.entries[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) FinalizeJournalEntry(_ context.Context, id uuid.UUID, status string) (*models.JournalEntry, error) {
	var out models.JournalEntry
	err := q.with(func(st *state, now time.Time) error {
		e, ok := st.entries[id]
		if !ok || e.Status != domain.StatusPending {
			return fmt.Errorf("finalize journal entry %s: %w", id, domain.ErrInvalidTransition)
		}
		e.Status = status
		e.Seq = q.nextSeq(st)
		e.UpdatedAt = now
		finalized := now
		e.FinalizedAt = &finalized
		st.entries[id] = e
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) SetJournalExternalRef(_ context.Context, id uuid.UUID, externalRef string) (int64, error) {
	var rows int64
	err := q.with(func(st *state, now time.Time) error {
		e, ok := st.entries[id]
		if !ok || e.Status != domain.StatusPending {
			return nil
		}
		e.ExternalRef = externalRef
		e.UpdatedAt = now
		st.entries[id] = e
		rows = 1
		return nil
	})
	return rows, err
}

func matches(e models.JournalEntry, f repository.JournalFilter) bool {
	if f.AccountID != nil && !eqID(e.FromAccountID, *f.AccountID) && !eqID(e.ToAccountID, *f.AccountID) {
		return false
	}
	if f.UserID != nil && !eqID(e.FromUserID, *f.UserID) && !eqID(e.ToUserID, *f.UserID) {
		return false
	}
	if f.Currency != "" && e.Currency != f.Currency {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	if f.BeforeSeq > 0 && e.Seq >= f.BeforeSeq {
		return false
	}
	return true
}

func eqID(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}

func (q *Queries) ListJournalEntries(_ context.Context, f repository.JournalFilter) ([]models.JournalEntry, error) {
	var out []models.JournalEntry
	err := q.with(func(st *state, _ time.Time) error {
		for _, e := range st.entries {
			if matches(e, f) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b models.JournalEntry) int {
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})

	offset := int(max(f.Offset, 0))
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	limit := int(f.Limit)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queries) ListPendingExternalEntries(_ context.Context, afterSeq int64, limit int32) ([]models.JournalEntry, error) {
	var out []models.JournalEntry
	err := q.with(func(st *state, _ time.Time) error {
		for _, e := range st.entries {
			if pendingExternal(e) && e.Seq > afterSeq {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b models.JournalEntry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queries) CountPendingExternalByAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	err := q.with(func(st *state, _ time.Time) error {
		for _, e := range st.entries {
			if pendingExternal(e) && (eqID(e.FromAccountID, accountID) || eqID(e.ToAccountID, accountID)) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func pendingExternal(e models.JournalEntry) bool {
	return e.Status == domain.StatusPending && domain.IsExternalKind(e.Kind) && e.ExternalProvider != ""
}

func (q *Queries) SumOutgoingSince(_ context.Context, accountID uuid.UUID, kind string, since time.Time) (int64, error) {
	var total int64
	err := q.with(func(st *state, _ time.Time) error {
		for _, e := range st.entries {
			if e.Kind != kind || e.Status != domain.StatusCompleted || !eqID(e.FromAccountID, accountID) {
				continue
			}
			if e.FinalizedAt != nil && !e.FinalizedAt.Before(since) {
				total += e.Amount
			}
		}
		return nil
	})
	return total, err
}

func (q *Queries) SumJournalByKind(_ context.Context) ([]repository.JournalTotal, error) {
	var out []repository.JournalTotal
	err := q.with(func(st *state, _ time.Time) error {
		type key struct{ currency, kind, status string }
		totals := map[key]*repository.JournalTotal{}
		for _, e := range st.entries {
			k := key{e.Currency, e.Kind, e.Status}
			t, ok := totals[k]
			if !ok {
				t = &repository.JournalTotal{Currency: e.Currency, Kind: e.Kind, Status: e.Status}
				totals[k] = t
			}
			t.Entries++
			t.Amount += e.Amount
			t.Fee += e.Fee
		}
		for _, t := range totals {
			out = append(out, *t)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b repository.JournalTotal) int {
		return strings.Compare(a.Currency+"|"+a.Kind+"|"+a.Status, b.Currency+"|"+b.Kind+"|"+b.Status)
	})
	return out, err
}
