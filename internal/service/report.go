package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
)

const recentActivitySize = 10

// ReportService answers operator questions about the whole ledger.
type ReportService struct {
	store   SnapshotStore
	journal *Journal
	tokens  *TokenService
	now     func() time.Time
}

func NewReportService(store SnapshotStore, journal *Journal, tokens *TokenService) *ReportService {
	return &ReportService{store: store, journal: journal, tokens: tokens, now: time.Now}
}

type CurrencyOverview struct {
	Currency  string `json:"currency"`
	Accounts  int64  `json:"accounts"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
}

type ActivityTotal struct {
	Currency string `json:"currency"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Entries  int64  `json:"entries"`
	Amount   int64  `json:"amount"`
	Fee      int64  `json:"fee"`
}

type Overview struct {
	GeneratedAt    time.Time             `json:"generated_at"`
	Users          int64                 `json:"users"`
	Accounts       int64                 `json:"accounts"`
	Entries        int64                 `json:"entries"`
	Currencies     []CurrencyOverview    `json:"currencies"`
	Activity       []ActivityTotal       `json:"activity"`
	Tokens         *TokenStats           `json:"tokens"`
	RecentActivity []models.JournalEntry `json:"recent_activity"`
}

// Overview summarizes users, balances, journal activity and the token economy. The counts
// and sums come from one snapshot; token stats and recent activity are read after it.
func (s *ReportService) Overview(ctx context.Context, claim authz.AdminClaim) (*Overview, error) {
	if err := claim.Require(); err != nil {
		return nil, err
	}

	out := &Overview{GeneratedAt: s.now().UTC(), Currencies: []CurrencyOverview{}, Activity: []ActivityTotal{}}
	err := s.store.RunInSnapshot(ctx, func(q repository.Querier) error {
		users, err := q.CountUsers(ctx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		out.Users = users

		accounts, err := q.SumAccountsByCurrency(ctx)
		if err != nil {
			return fmt.Errorf("sum account balances: %w", err)
		}
		for _, t := range accounts {
			out.Accounts += t.Accounts
			out.Currencies = append(out.Currencies, CurrencyOverview{
				Currency:  t.Currency,
				Accounts:  t.Accounts,
				Balance:   t.Balance,
				Available: t.Available,
				Held:      t.Balance - t.Available,
			})
		}

		journal, err := q.SumJournalByKind(ctx)
		if err != nil {
			return fmt.Errorf("sum journal entries: %w", err)
		}
		for _, t := range journal {
			out.Entries += t.Entries
			out.Activity = append(out.Activity, ActivityTotal(t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Tokens, err = s.tokens.Stats(ctx); err != nil {
		return nil, err
	}
	if out.RecentActivity, _, err = s.journal.Page(ctx, HistoryFilter{}, recentActivitySize); err != nil {
		return nil, err
	}
	if out.RecentActivity == nil {
		out.RecentActivity = []models.JournalEntry{}
	}
	return out, nil
}

// Transactions pages through journal entries across all accounts, newest first.
func (s *ReportService) Transactions(ctx context.Context, claim authz.AdminClaim, f HistoryFilter, limit int32) ([]models.JournalEntry, int64, error) {
	if err := claim.Require(); err != nil {
		return nil, 0, err
	}
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.journal.Page(ctx, f, limit)
}

// ExportTransactions walks every entry matching f, newest first, fetching one page at a time.
func (s *ReportService) ExportTransactions(ctx context.Context, claim authz.AdminClaim, f HistoryFilter) (iter.Seq2[models.JournalEntry, error], error) {
	if err := claim.Require(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.journal.History(ctx, f), nil
}
