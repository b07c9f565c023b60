package service

import (
	"context"

	"github.com/ayo6706/ledger-engine/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// Never call Queries from inside a RunInTx callback; use the transactional q instead.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// SnapshotStore adds read-only scopes that observe a single consistent state.
type SnapshotStore interface {
	QueryStore
	RunInSnapshot(ctx context.Context, fn func(q repository.Querier) error) error
}
