package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WithdrawalState string

const (
	WithdrawalPlanned    WithdrawalState = "planned"
	WithdrawalValidating WithdrawalState = "validating"
	WithdrawalApplying   WithdrawalState = "applying"
	WithdrawalCompleted  WithdrawalState = "completed"
	WithdrawalAborted    WithdrawalState = "aborted"
)

type BulkWithdrawalCmd struct {
	Currency    string
	Amount      int64
	Destination string
	Description string
	ReferenceID string
}

// Deduction is one account's share of a bulk withdrawal.
type Deduction struct {
	AccountID     uuid.UUID `json:"account_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
}

type BulkWithdrawalResult struct {
	Entry      *models.JournalEntry `json:"entry"`
	Deductions []Deduction          `json:"deductions"`
	State      WithdrawalState      `json:"state"`
}

type withdrawalMetadata struct {
	Destination string      `json:"destination,omitempty"`
	Deductions  []Deduction `json:"deductions"`
}

// PlanWaterfall drains accounts largest available balance first (ties by ascending id)
// until amount is covered, never taking more than an account's available balance.
func PlanWaterfall(accounts []models.Account, amount int64) ([]Deduction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	ordered := slices.Clone(accounts)
	slices.SortFunc(ordered, func(a, b models.Account) int {
		if c := cmp.Compare(b.AvailableBalance, a.AvailableBalance); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	var currency string
	var total int64
	for _, a := range ordered {
		currency = a.Currency
		total += max(a.AvailableBalance, 0)
	}
	if total < amount {
		return nil, domain.NewShortfall(domain.ErrInsufficientAggregateFunds, amount, total, currency)
	}

	remaining := amount
	var plan []Deduction
	for _, a := range ordered {
		if remaining == 0 {
			break
		}
		take := min(a.AvailableBalance, remaining)
		if take <= 0 {
			continue
		}
		plan = append(plan, Deduction{AccountID: a.ID, UserID: a.UserID, Amount: take, BalanceBefore: a.Balance})
		remaining -= take
	}
	return plan, nil
}

// BulkWithdrawalService removes an amount from the pooled balances of a currency.
type BulkWithdrawalService struct {
	store     QueryStore
	ledger    *Ledger
	journal   *Journal
	audit     *AuditService
	retry     RetryPolicy
	publisher events.Publisher
}

func NewBulkWithdrawalService(store QueryStore, ledger *Ledger, journal *Journal, audit *AuditService, retry RetryPolicy, publisher events.Publisher) *BulkWithdrawalService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &BulkWithdrawalService{store: store, ledger: ledger, journal: journal, audit: audit, retry: retry, publisher: publisher}
}

// Withdraw plans and applies a waterfall withdrawal in one scope. Either every deduction and
// the admin_withdrawal entry commit together, or nothing changes.
func (s *BulkWithdrawalService) Withdraw(ctx context.Context, claim authz.AdminClaim, cmd BulkWithdrawalCmd) (*BulkWithdrawalResult, error) {
	if err := claim.Require(); err != nil {
		return nil, err
	}
	cmd.Currency = normalizeCurrency(cmd.Currency)
	if cmd.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domain.ErrInvalidInput)
	}
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, cmd.Amount)
	}

	res := &BulkWithdrawalResult{State: WithdrawalPlanned}
	replayed := false
	err := withRetry(ctx, s.retry, "bulk_withdrawal", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			res.State, res.Entry, res.Deductions, replayed = WithdrawalValidating, nil, nil, false
			if cmd.ReferenceID != "" {
				existing, err := s.findByReference(ctx, q, cmd)
				if err != nil {
					return err
				}
				if existing != nil {
					*res, replayed = *existing, true
					return nil
				}
			}

			accounts, err := q.ListActiveAccountsByCurrencyForUpdate(ctx, cmd.Currency)
			if err != nil {
				return fmt.Errorf("lock %s accounts: %w", cmd.Currency, err)
			}
			plan, err := PlanWaterfall(accounts, cmd.Amount)
			if err != nil {
				var short *domain.ShortfallError
				if errors.As(err, &short) && short.Currency == "" {
					short.Currency = cmd.Currency
				}
				return err
			}

			res.State = WithdrawalApplying
			adj := NewAdjustments()
			for _, d := range plan {
				adj.AddWithFloor(d.AccountID, -d.Amount, 0)
			}
			metadata, err := encodeMetadata(withdrawalMetadata{Destination: cmd.Destination, Deductions: plan})
			if err != nil {
				return err
			}
			description := cmd.Description
			if description == "" {
				description = "Admin withdrawal"
			}
			entry, err := s.journal.Post(ctx, q, &models.JournalEntry{
				Amount:      cmd.Amount,
				Currency:    cmd.Currency,
				Kind:        domain.KindAdminWithdrawal,
				Description: description,
				ReferenceID: cmd.ReferenceID,
				Metadata:    metadata,
			}, claim.Actor(), func(*models.JournalEntry) error {
				return s.ledger.Apply(ctx, q, adj)
			})
			if err != nil {
				return err
			}
			if err := s.audit.Write(ctx, q, "bulk_withdrawal", entry.ID, claim.Actor(), "applied", string(WithdrawalValidating), string(WithdrawalCompleted), metadata); err != nil {
				return err
			}
			res.Entry, res.Deductions, res.State = entry, plan, WithdrawalCompleted
			return nil
		})
	})
	if err != nil {
		observability.IncrementBulkWithdrawal(string(WithdrawalAborted))
		zap.L().Warn("bulk withdrawal aborted",
			zap.String("currency", cmd.Currency),
			zap.Int64("amount", cmd.Amount),
			zap.String("state", string(res.State)),
			zap.Error(err),
		)
		return nil, err
	}
	if replayed {
		return res, nil
	}

	observability.IncrementBulkWithdrawal(string(WithdrawalCompleted))
	announce(ctx, s.publisher, res.Entry)
	zap.L().Info("bulk withdrawal completed",
		zap.String("entry_id", res.Entry.ID.String()),
		zap.String("currency", cmd.Currency),
		zap.Int64("amount", cmd.Amount),
		zap.Int("accounts", len(res.Deductions)),
		zap.String("actor_id", claim.ActorID().String()),
	)
	return res, nil
}

func (s *BulkWithdrawalService) findByReference(ctx context.Context, q repository.Querier, cmd BulkWithdrawalCmd) (*BulkWithdrawalResult, error) {
	existing, err := q.GetJournalEntryByReference(ctx, cmd.ReferenceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing.Kind != domain.KindAdminWithdrawal || existing.Amount != cmd.Amount || existing.Currency != cmd.Currency {
		return nil, fmt.Errorf("%w: reference %s was used for a different request", domain.ErrInvalidInput, cmd.ReferenceID)
	}
	return withdrawalResult(existing)
}

// withdrawalResult rebuilds a result from its journal entry. On unreadable metadata it
// still returns the entry, without deductions, alongside the error.
func withdrawalResult(e *models.JournalEntry) (*BulkWithdrawalResult, error) {
	state := WithdrawalCompleted
	if e.Status != domain.StatusCompleted {
		state = WithdrawalAborted
	}
	res := &BulkWithdrawalResult{Entry: e, State: state}
	if len(e.Metadata) == 0 {
		return res, nil
	}
	var meta withdrawalMetadata
	if err := json.Unmarshal(e.Metadata, &meta); err != nil {
		return res, fmt.Errorf("decode bulk withdrawal %s metadata: %w", e.ID, err)
	}
	res.Deductions = meta.Deductions
	return res, nil
}

// Withdrawals pages through past bulk withdrawals, newest first.
func (s *BulkWithdrawalService) Withdrawals(ctx context.Context, claim authz.AdminClaim, limit int32, cursor int64) ([]BulkWithdrawalResult, int64, error) {
	if err := claim.Require(); err != nil {
		return nil, 0, err
	}
	entries, next, err := s.journal.Page(ctx, HistoryFilter{Kinds: []string{domain.KindAdminWithdrawal}, Cursor: cursor}, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]BulkWithdrawalResult, 0, len(entries))
	for i := range entries {
		res, err := withdrawalResult(&entries[i])
		if err != nil {
			zap.L().Error("bulk withdrawal listed without deductions", zap.String("entry_id", entries[i].ID.String()), zap.Error(err))
		}
		out = append(out, *res)
	}
	return out, next, nil
}
