package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store       SnapshotStore
	tokenSymbol string
	now         func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store SnapshotStore, tokenSymbol string) *ReconciliationService {
	return &ReconciliationService{store: store, tokenSymbol: tokenSymbol, now: time.Now}
}

type CurrencyCheck struct {
	Currency     string `json:"currency"`
	Balance      int64  `json:"balance"`
	Expected     int64  `json:"expected_balance"`
	Held         int64  `json:"held"`
	ExpectedHeld int64  `json:"expected_held"`
	Balanced     bool   `json:"balanced"`
}

type TokenCheck struct {
	Circulating int64 `json:"circulating"`
	Expected    int64 `json:"expected"`
	Balanced    bool  `json:"balanced"`
}

type ReconciliationReport struct {
	CheckedAt  time.Time       `json:"checked_at"`
	Currencies []CurrencyCheck `json:"currencies"`
	Tokens     TokenCheck      `json:"tokens"`
	Balanced   bool            `json:"balanced"`
}

// Run compares account and token totals against the journal. Value only enters through
// completed deposits and earn entries and only leaves through completed withdrawals,
// admin withdrawals and burns; transfers net to zero.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	var (
		accountTotals []repository.CurrencyTotal
		journalTotals []repository.JournalTotal
		tokenTotals   *models.TokenTotals
	)
	err := s.store.RunInSnapshot(ctx, func(q repository.Querier) error {
		var err error
		if accountTotals, err = q.SumAccountsByCurrency(ctx); err != nil {
			return fmt.Errorf("sum account balances: %w", err)
		}
		if journalTotals, err = q.SumJournalByKind(ctx); err != nil {
			return fmt.Errorf("sum journal entries: %w", err)
		}
		if tokenTotals, err = q.GetTokenTotals(ctx); err != nil {
			return fmt.Errorf("sum token accounts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	checks := map[string]*CurrencyCheck{}
	check := func(currency string) *CurrencyCheck {
		c, ok := checks[currency]
		if !ok {
			c = &CurrencyCheck{Currency: currency}
			checks[currency] = c
		}
		return c
	}
	for _, t := range accountTotals {
		c := check(t.Currency)
		c.Balance = t.Balance
		c.Held = t.Balance - t.Available
	}

	report := &ReconciliationReport{CheckedAt: s.now().UTC(), Balanced: true}
	for _, t := range journalTotals {
		if t.Currency == s.tokenSymbol {
			if t.Status != domain.StatusCompleted {
				continue
			}
			switch t.Kind {
			case domain.KindEarn:
				report.Tokens.Expected += t.Amount
			case domain.KindBurn:
				report.Tokens.Expected -= t.Amount
			}
			continue
		}
		c := check(t.Currency)
		switch {
		case t.Status == domain.StatusCompleted && t.Kind == domain.KindDeposit:
			c.Expected += t.Amount
		case t.Status == domain.StatusCompleted && (t.Kind == domain.KindWithdrawal || t.Kind == domain.KindAdminWithdrawal):
			c.Expected -= t.Amount
		case t.Status == domain.StatusPending && t.Kind == domain.KindWithdrawal:
			c.ExpectedHeld += t.Amount
		}
	}

	for _, c := range checks {
		c.Balanced = c.Balance == c.Expected && c.Held == c.ExpectedHeld
		if !c.Balanced {
			report.Balanced = false
			observability.IncrementLedgerImbalance(c.Currency)
			zap.L().Error("CRITICAL: ledger imbalance detected",
				zap.String("currency", c.Currency),
				zap.Int64("balance", c.Balance),
				zap.Int64("expected_balance", c.Expected),
				zap.Int64("held", c.Held),
				zap.Int64("expected_held", c.ExpectedHeld),
			)
		}
		report.Currencies = append(report.Currencies, *c)
	}
	slices.SortFunc(report.Currencies, func(a, b CurrencyCheck) int {
		switch {
		case a.Currency < b.Currency:
			return -1
		case a.Currency > b.Currency:
			return 1
		}
		return 0
	})

	report.Tokens.Circulating = tokenTotals.Circulating
	report.Tokens.Balanced = report.Tokens.Circulating == report.Tokens.Expected
	if !report.Tokens.Balanced {
		report.Balanced = false
		observability.IncrementLedgerImbalance(s.tokenSymbol)
		zap.L().Error("CRITICAL: token supply imbalance detected",
			zap.Int64("circulating", report.Tokens.Circulating),
			zap.Int64("expected", report.Tokens.Expected),
		)
	}

	if report.Balanced {
		zap.L().Info("Ledger Balanced", zap.Int("currencies", len(report.Currencies)))
	}
	return report, nil
}
