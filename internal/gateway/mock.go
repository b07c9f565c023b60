package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockGateway simulates an asynchronous external rail.
// Initiate is idempotent per key. A movement settles SettleAfter after it was
// initiated and fails with probability FailureRate.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate float64
	SettleAfter time.Duration
	Name        string

	mu      sync.Mutex
	now     func() time.Time
	byKey   map[string]string
	records map[string]*mockRecord
}

type mockRecord struct {
	req       Request
	createdAt time.Time
	status    Status
}

// NewMockGateway creates a new MockGateway with default settings.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1, // 10% failure rate
		SettleAfter: 2 * time.Second,
		Name:        "MOCK",
		now:         time.Now,
		byKey:       map[string]string{},
		records:     map[string]*mockRecord{},
	}
}

func (g *MockGateway) Initiate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("gateway call canceled: %w", err)
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrRejected)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if ref, ok := g.byKey[req.IdempotencyKey]; ok {
		return ref, nil
	}

	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("%s-%s-%05d", g.Name, g.now().Format("20060102-150405"), rand.Intn(100000))
	for g.records[ref] != nil {
		ref = fmt.Sprintf("%s-%s-%05d", g.Name, g.now().Format("20060102-150405"), rand.Intn(100000))
	}
	g.byKey[req.IdempotencyKey] = ref
	g.records[ref] = &mockRecord{req: req, createdAt: g.now(), status: StatusPending}
	return ref, nil
}

func (g *MockGateway) Confirm(ctx context.Context, ref string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusPending, fmt.Errorf("gateway call canceled: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[ref]
	if !ok {
		return StatusPending, fmt.Errorf("unknown reference %q", ref)
	}
	if rec.status != StatusPending {
		return rec.status, nil
	}
	if g.now().Sub(rec.createdAt) < g.SettleAfter {
		return StatusPending, nil
	}
	rec.status = StatusSucceeded
	if rand.Float64() < g.FailureRate {
		rec.status = StatusFailed
	}
	return rec.status, nil
}

// Resolve forces the outcome of a pending movement.
func (g *MockGateway) Resolve(ref string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[ref]
	if !ok {
		return fmt.Errorf("unknown reference %q", ref)
	}
	rec.status = status
	return nil
}
