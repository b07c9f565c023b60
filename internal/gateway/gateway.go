package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Direction is the way money crosses the ledger boundary.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// Status is the settlement state reported by an external rail.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRejected means the rail refused the request outright. Any other Initiate
// error is treated as indeterminate and retried with the same idempotency key.
var ErrRejected = errors.New("rejected by gateway")

// Request describes one external movement. IdempotencyKey is the journal entry id,
// so repeating Initiate for the same entry never moves money twice.
type Request struct {
	IdempotencyKey string
	Direction      Direction
	Amount         int64
	Currency       string
	AccountRef     string
	Destination    string
}

// Gateway is an external settlement rail (payment provider, bank, chain).
type Gateway interface {
	// Initiate starts the movement and returns the rail's reference.
	Initiate(ctx context.Context, req Request) (string, error)
	// Confirm reports the settlement state of a previously initiated movement.
	Confirm(ctx context.Context, ref string) (Status, error)
}

// Registry maps provider names to rails.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: map[string]Gateway{}}
}

// Register adds or replaces a rail.
func (r *Registry) Register(name string, gw Gateway) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = gw
	return r
}

func (r *Registry) Get(name string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[name]
	return gw, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
