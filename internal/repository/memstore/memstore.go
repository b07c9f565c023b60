// Package memstore is an in-memory repository.Querier with serializable transactions.
// Every RunInTx works on a private copy of the data that replaces the shared copy on
// commit, so a failed callback leaves nothing behind.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	users      map[uuid.UUID]models.User
	accounts   map[uuid.UUID]models.Account
	tokens     map[uuid.UUID]models.TokenAccount
	entries    map[uuid.UUID]models.JournalEntry
	references map[string]uuid.UUID
	settings   map[string]models.AdminSetting
	idem       map[string]models.IdempotencyKey
	audit      []models.AuditLog
	seq        int64
}

func newState() *state {
	return &state{
		users:      map[uuid.UUID]models.User{},
		accounts:   map[uuid.UUID]models.Account{},
		tokens:     map[uuid.UUID]models.TokenAccount{},
		entries:    map[uuid.UUID]models.JournalEntry{},
		references: map[string]uuid.UUID{},
		settings:   map[string]models.AdminSetting{},
		idem:       map[string]models.IdempotencyKey{},
	}
}

func (s *state) clone() *state {
	return &state{
		users:      maps.Clone(s.users),
		accounts:   maps.Clone(s.accounts),
		tokens:     maps.Clone(s.tokens),
		entries:    maps.Clone(s.entries),
		references: maps.Clone(s.references),
		settings:   maps.Clone(s.settings),
		idem:       maps.Clone(s.idem),
		audit:      slices.Clone(s.audit),
		seq:        s.seq,
	}
}

// Store holds the committed state. It satisfies the same contract as repository.Store.
type Store struct {
	mu          sync.Mutex
	st          *state
	now         func() time.Time
	failCommits int
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Queries returns an autocommit query set.
func (s *Store) Queries() repository.Querier {
	return &Queries{store: s}
}

// RunInTx runs fn against a private copy and publishes it when fn succeeds.
// Transactions are fully serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&Queries{store: s, tx: work}); err != nil {
		return err
	}
	if s.failCommits > 0 {
		s.failCommits--
		return fmt.Errorf("commit transaction: %w: simulated serialization failure", domain.ErrStoreConflict)
	}
	s.st = work
	return nil
}

// RunInSnapshot runs fn against a copy of the committed state taken on entry. Writes made
// by fn are discarded.
func (s *Store) RunInSnapshot(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()
	return fn(&Queries{store: s, tx: snap})
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// FailNextCommits makes the next n commits fail with a store conflict.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// AuditLogs returns committed audit records, oldest first.
func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.audit)
}

// Queries implements repository.Querier. A nil tx means autocommit.
type Queries struct {
	store *Store
	tx    *state
}

var _ repository.Querier = (*Queries)(nil)

func (q *Queries) with(fn func(st *state, now time.Time) error) error {
	if q.tx != nil {
		return fn(q.tx, q.store.now())
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.st, q.store.now())
}

func (q *Queries) nextSeq(st *state) int64 {
	st.seq++
	return st.seq
}
