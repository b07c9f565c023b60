package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
)

const (
	defaultHistoryPageSize = 100
	maxPageLimit           = 200
)

var journalTransitions = map[string]map[string]struct{}{
	domain.StatusPending: {
		domain.StatusCompleted: {},
		domain.StatusFailed:    {},
	},
	domain.StatusCompleted: {},
	domain.StatusFailed:    {},
}

func canTransition(current, next string) bool {
	nextStates, ok := journalTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// Journal records movements of value. Entries are created pending and finalized once;
// finalized entries never change again.
type Journal struct {
	store QueryStore
	audit *AuditService
}

func NewJournal(store QueryStore, audit *AuditService) *Journal {
	return &Journal{store: store, audit: audit}
}

// Record persists e as a pending entry in the caller's scope.
func (j *Journal) Record(ctx context.Context, q repository.Querier, e *models.JournalEntry, actorID *uuid.UUID) error {
	if e.Amount <= 0 {
		return fmt.Errorf("%w: journal amount must be positive, got %d", domain.ErrInvalidAmount, e.Amount)
	}
	if e.Fee < 0 {
		return fmt.Errorf("%w: negative fee", domain.ErrInvalidAmount)
	}
	if !domain.IsKnownKind(e.Kind) {
		return fmt.Errorf("%w: unknown journal kind %q", domain.ErrInvalidInput, e.Kind)
	}
	if e.Currency == "" {
		return fmt.Errorf("%w: currency is required", domain.ErrInvalidInput)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = domain.StatusPending

	if err := q.InsertJournalEntry(ctx, e); err != nil {
		// A concurrent scope took the same reference; retrying sees its entry.
		if repository.IsUniqueViolation(err, "ux_journal_entries_reference") {
			return fmt.Errorf("%w: reference %s: %w", domain.ErrStoreConflict, e.ReferenceID, err)
		}
		return fmt.Errorf("record journal entry: %w", err)
	}
	return j.audit.Write(ctx, q, "journal_entry", e.ID, actorID, "created", "", domain.StatusPending, e.Metadata)
}

// Settle moves entry id to outcome and runs apply in the same scope. Settling an entry
// already in outcome is a no-op and reports changed=false without running apply.
func (j *Journal) Settle(ctx context.Context, q repository.Querier, id uuid.UUID, outcome string, actorID *uuid.UUID, apply func(e *models.JournalEntry) error) (entry *models.JournalEntry, changed bool, err error) {
	if outcome != domain.StatusCompleted && outcome != domain.StatusFailed {
		return nil, false, fmt.Errorf("%w: %q is not a final status", domain.ErrInvalidTransition, outcome)
	}
	current, err := q.GetJournalEntryForUpdate(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("lock journal entry %s: %w", id, err)
	}
	if current.Status == outcome {
		return current, false, nil
	}
	if !canTransition(current.Status, outcome) {
		return nil, false, fmt.Errorf("%w: journal entry %s %s -> %s", domain.ErrInvalidTransition, id, current.Status, outcome)
	}

	if apply != nil {
		if err := apply(current); err != nil {
			return nil, false, err
		}
	}

	final, err := q.FinalizeJournalEntry(ctx, id, outcome)
	if err != nil {
		return nil, false, fmt.Errorf("finalize journal entry %s: %w", id, err)
	}
	if err := j.audit.Write(ctx, q, "journal_entry", id, actorID, "finalized", current.Status, outcome, nil); err != nil {
		return nil, false, err
	}
	return final, true, nil
}

// Finalize is Settle without balance effects.
func (j *Journal) Finalize(ctx context.Context, q repository.Querier, id uuid.UUID, outcome string, actorID *uuid.UUID) (*models.JournalEntry, bool, error) {
	return j.Settle(ctx, q, id, outcome, actorID, nil)
}

// Post records e and completes it with apply in one step.
func (j *Journal) Post(ctx context.Context, q repository.Querier, e *models.JournalEntry, actorID *uuid.UUID, apply func(e *models.JournalEntry) error) (*models.JournalEntry, error) {
	if err := j.Record(ctx, q, e, actorID); err != nil {
		return nil, err
	}
	final, _, err := j.Settle(ctx, q, e.ID, domain.StatusCompleted, actorID, apply)
	return final, err
}

// Get reads one committed entry.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	e, err := j.store.Queries().GetJournalEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get journal entry %s: %w", id, err)
	}
	return e, nil
}

// HistoryFilter selects entries newest first. Cursor is an exclusive seq upper bound;
// Offset skips entries on the first page only.
type HistoryFilter struct {
	AccountID *uuid.UUID
	UserID    *uuid.UUID
	Currency  string
	Kinds     []string
	Statuses  []string
	Cursor    int64
	Offset    int32
	PageSize  int32
}

// Validate rejects unknown kinds and statuses so a typo does not read as an empty history.
func (f HistoryFilter) Validate() error {
	for _, k := range f.Kinds {
		if !domain.IsKnownKind(k) {
			return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, k)
		}
	}
	for _, st := range f.Statuses {
		if !domain.IsKnownStatus(st) {
			return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, st)
		}
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: negative offset", domain.ErrInvalidInput)
	}
	return nil
}

func (f HistoryFilter) query(cursor int64, offset, limit int32) repository.JournalFilter {
	return repository.JournalFilter{
		AccountID: f.AccountID,
		UserID:    f.UserID,
		Currency:  f.Currency,
		Kinds:     f.Kinds,
		Statuses:  f.Statuses,
		BeforeSeq: cursor,
		Offset:    offset,
		Limit:     limit,
	}
}

// History lazily walks matching entries in reverse seq order, one page per query.
// Stopping the range stops the queries.
func (j *Journal) History(ctx context.Context, f HistoryFilter) iter.Seq2[models.JournalEntry, error] {
	return func(yield func(models.JournalEntry, error) bool) {
		size := f.PageSize
		if size <= 0 {
			size = defaultHistoryPageSize
		}
		cursor, offset := f.Cursor, f.Offset
		for {
			page, err := j.store.Queries().ListJournalEntries(ctx, f.query(cursor, offset, size))
			if err != nil {
				yield(models.JournalEntry{}, fmt.Errorf("list journal entries: %w", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if int32(len(page)) < size {
				return
			}
			cursor, offset = page[len(page)-1].Seq, 0
		}
	}
}

// Page returns up to limit entries and the cursor of the next page, or zero on the last page.
func (j *Journal) Page(ctx context.Context, f HistoryFilter, limit int32) ([]models.JournalEntry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, maxPageLimit)
	entries, err := j.store.Queries().ListJournalEntries(ctx, f.query(f.Cursor, f.Offset, limit+1))
	if err != nil {
		return nil, 0, fmt.Errorf("list journal entries: %w", err)
	}
	if int32(len(entries)) <= limit {
		return entries, 0, nil
	}
	entries = entries[:limit]
	return entries, entries[len(entries)-1].Seq, nil
}

// announce counts and publishes entries finalized by a committed scope.
func announce(ctx context.Context, pub events.Publisher, entries ...*models.JournalEntry) {
	for _, e := range entries {
		if e == nil || e.Status == domain.StatusPending {
			continue
		}
		observability.IncrementJournalEntry(e.Kind, e.Status)
		if e.Kind == domain.KindBurn && e.Status == domain.StatusCompleted {
			observability.AddTokensBurned(e.Amount)
		}
	}
	events.PublishEntries(ctx, pub, entries...)
}
