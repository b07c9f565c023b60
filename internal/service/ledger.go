package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
)

// Balance is a point-in-time view of one account.
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Balance   int64     `json:"balance"`
	Available int64     `json:"available_balance"`
	Held      int64     `json:"held"`
}

func balanceOf(a *models.Account) Balance {
	return Balance{
		AccountID: a.ID,
		Currency:  a.Currency,
		Status:    a.Status,
		Balance:   a.Balance,
		Available: a.AvailableBalance,
		Held:      a.Held(),
	}
}

type adjustment struct {
	balance   int64
	available int64
	floor     int64
	// settlement adjustments finish movements already accepted, so they ignore account status.
	settlement bool
}

// Adjustments collects balance deltas per account. Several calls for the same
// account merge into one row update.
type Adjustments struct {
	byID map[uuid.UUID]*adjustment
}

func NewAdjustments() *Adjustments {
	return &Adjustments{byID: map[uuid.UUID]*adjustment{}}
}

func (a *Adjustments) get(id uuid.UUID, settlement bool) *adjustment {
	adj, ok := a.byID[id]
	if !ok {
		adj = &adjustment{settlement: settlement}
		a.byID[id] = adj
		return adj
	}
	adj.settlement = adj.settlement && settlement
	return adj
}

// Add changes balance and available balance by delta.
func (a *Adjustments) Add(id uuid.UUID, delta int64) *Adjustments {
	adj := a.get(id, false)
	adj.balance += delta
	adj.available += delta
	return a
}

// AddWithFloor is Add that also requires the available balance to stay at or above minAvailable.
func (a *Adjustments) AddWithFloor(id uuid.UUID, delta, minAvailable int64) *Adjustments {
	a.Add(id, delta)
	adj := a.byID[id]
	adj.floor = max(adj.floor, minAvailable)
	return a
}

// Hold reserves amount of the available balance for an in-flight withdrawal.
func (a *Adjustments) Hold(id uuid.UUID, amount int64) *Adjustments {
	a.get(id, false).available -= amount
	return a
}

// Release returns a held amount to the available balance.
func (a *Adjustments) Release(id uuid.UUID, amount int64) *Adjustments {
	a.get(id, true).available += amount
	return a
}

// Capture removes a held amount from the balance once the withdrawal settled.
func (a *Adjustments) Capture(id uuid.UUID, amount int64) *Adjustments {
	a.get(id, true).balance -= amount
	return a
}

// Receive credits funds an external rail confirmed. It applies to frozen accounts too.
func (a *Adjustments) Receive(id uuid.UUID, amount int64) *Adjustments {
	adj := a.get(id, true)
	adj.balance += amount
	adj.available += amount
	return a
}

// IDs returns the touched accounts in lock order.
func (a *Adjustments) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.byID))
	for id := range a.byID {
		ids = append(ids, id)
	}
	return sortIDs(ids)
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, func(x, y uuid.UUID) int { return strings.Compare(x.String(), y.String()) })
	return slices.Compact(ids)
}

// Ledger owns account balances. Every mutation goes through Apply inside a store scope.
type Ledger struct {
	store QueryStore
}

func NewLedger(store QueryStore) *Ledger {
	return &Ledger{store: store}
}

// Lock takes row locks on ids in ascending order and returns the locked rows by id.
func (l *Ledger) Lock(ctx context.Context, q repository.Querier, ids ...uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	locked := make(map[uuid.UUID]*models.Account, len(ids))
	for _, id := range sortIDs(slices.Clone(ids)) {
		acc, err := q.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = acc
	}
	return locked, nil
}

// Apply validates and writes adj in the caller's scope. Nothing is written when any
// account would break 0 <= available <= balance or is not active.
func (l *Ledger) Apply(ctx context.Context, q repository.Querier, adj *Adjustments) error {
	ids := adj.IDs()
	locked, err := l.Lock(ctx, q, ids...)
	if err != nil {
		return err
	}

	for _, id := range ids {
		d := adj.byID[id]
		acc := locked[id]
		if !d.settlement && acc.Status != domain.AccountActive {
			return fmt.Errorf("account %s is %s: %w", id, acc.Status, domain.ErrAccountFrozen)
		}
		newAvailable := acc.AvailableBalance + d.available
		newBalance := acc.Balance + d.balance
		if newAvailable < d.floor {
			return domain.NewShortfall(domain.ErrInsufficientFunds, d.floor-d.available, acc.AvailableBalance, acc.Currency)
		}
		if newBalance < 0 {
			return domain.NewShortfall(domain.ErrInsufficientFunds, -d.balance, acc.Balance, acc.Currency)
		}
		if newAvailable > newBalance {
			return fmt.Errorf("account %s: available %d would exceed balance %d", id, newAvailable, newBalance)
		}
	}

	for _, id := range ids {
		d := adj.byID[id]
		if d.balance == 0 && d.available == 0 {
			continue
		}
		rows, err := q.UpdateAccountBalances(ctx, id, d.balance, d.available)
		if err != nil {
			return fmt.Errorf("update balances of %s: %w", id, err)
		}
		if err := requireExactlyOne(rows, "update account balances"); err != nil {
			return err
		}
	}
	return nil
}

// GetBalance reads the committed balance of one account.
func (l *Ledger) GetBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	acc, err := l.store.Queries().GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return balanceOf(acc), nil
}
