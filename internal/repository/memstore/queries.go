package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultPageSize = 50

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{Code: "23514", ConstraintName: constraint, Message: "new row violates check constraint"}
}

func foreignKeyViolation(constraint string) error {
	return &pgconn.PgError{Code: "23503", ConstraintName: constraint, Message: "insert or update violates foreign key constraint"}
}

func (q *Queries) CreateUser(_ context.Context, user *models.User) error {
	return q.with(func(st *state, now time.Time) error {
		if user.Role == "" {
			user.Role = domain.RoleUser
		}
		for _, u := range st.users {
			if strings.EqualFold(u.Username, user.Username) {
				return fmt.Errorf("failed to create user: %w", uniqueViolation("users_username_key"))
			}
			if strings.EqualFold(u.Email, user.Email) {
				return fmt.Errorf("failed to create user: %w", uniqueViolation("users_email_key"))
			}
		}
		if _, ok := st.users[user.ID]; ok {
			return fmt.Errorf("failed to create user: %w", uniqueViolation("users_pkey"))
		}
		user.CreatedAt = now
		st.users[user.ID] = *user
		return nil
	})
}

func (q *Queries) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	var out models.User
	err := q.with(func(st *state, _ time.Time) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) CountUsers(_ context.Context) (int64, error) {
	var n int64
	err := q.with(func(st *state, _ time.Time) error {
		n = int64(len(st.users))
		return nil
	})
	return n, err
}

func (q *Queries) CreateAccount(_ context.Context, account *models.Account) error {
	return q.with(func(st *state, now time.Time) error {
		if _, ok := st.users[account.UserID]; !ok {
			return fmt.Errorf("failed to create account: %w", foreignKeyViolation("accounts_user_id_fkey"))
		}
		if _, ok := st.accounts[account.ID]; ok {
			return fmt.Errorf("failed to create account: %w", uniqueViolation("accounts_pkey"))
		}
		if account.AvailableBalance < 0 || account.AvailableBalance > account.Balance {
			return fmt.Errorf("failed to create account: %w", checkViolation("accounts_available_within_balance"))
		}
		if account.Status == "" {
			account.Status = domain.AccountActive
		}
		account.CreatedAt = now
		account.UpdatedAt = now
		st.accounts[account.ID] = *account
		return nil
	})
}

func (q *Queries) getAccount(id uuid.UUID) (*models.Account, error) {
	var out models.Account
	err := q.with(func(st *state, _ time.Time) error {
		a, ok := st.accounts[id]
		if !ok {
			return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	return q.getAccount(id)
}

func (q *Queries) GetAccountForUpdate(_ context.Context, id uuid.UUID) (*models.Account, error) {
	return q.getAccount(id)
}

func sortedAccounts(st *state, keep func(models.Account) bool, cmp func(a, b models.Account) int) []models.Account {
	var out []models.Account
	for _, a := range st.accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, cmp)
	return out
}

func (q *Queries) ListAccountsByUser(_ context.Context, userID uuid.UUID) ([]models.Account, error) {
	var out []models.Account
	err := q.with(func(st *state, _ time.Time) error {
		out = sortedAccounts(st,
			func(a models.Account) bool { return a.UserID == userID },
			func(a, b models.Account) int {
				if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
					return c
				}
				return strings.Compare(a.ID.String(), b.ID.String())
			})
		return nil
	})
	return out, err
}

func (q *Queries) ListActiveAccountsByCurrencyForUpdate(_ context.Context, currency string) ([]models.Account, error) {
	var out []models.Account
	err := q.with(func(st *state, _ time.Time) error {
		out = sortedAccounts(st,
			func(a models.Account) bool { return a.Currency == currency && a.Status == domain.AccountActive },
			func(a, b models.Account) int { return strings.Compare(a.ID.String(), b.ID.String()) })
		return nil
	})
	return out, err
}

func (q *Queries) UpdateAccountBalances(_ context.Context, id uuid.UUID, balanceDelta, availableDelta int64) (int64, error) {
	var rows int64
	err := q.with(func(st *state, now time.Time) error {
		a, ok := st.accounts[id]
		if !ok {
			return nil
		}
		a.Balance += balanceDelta
		a.AvailableBalance += availableDelta
		if a.AvailableBalance < 0 {
			return fmt.Errorf("failed to update account balances: %w", checkViolation("accounts_available_non_negative"))
		}
		if a.AvailableBalance > a.Balance {
			return fmt.Errorf("failed to update account balances: %w", checkViolation("accounts_available_within_balance"))
		}
		a.UpdatedAt = now
		st.accounts[id] = a
		rows = 1
		return nil
	})
	return rows, err
}

func (q *Queries) UpdateAccountStatus(_ context.Context, id uuid.UUID, status string) (int64, error) {
	var rows int64
	err := q.with(func(st *state, now time.Time) error {
		a, ok := st.accounts[id]
		if !ok {
			return nil
		}
		a.Status = status
		a.UpdatedAt = now
		st.accounts[id] = a
		rows = 1
		return nil
	})
	return rows, err
}

func (q *Queries) SumAccountsByCurrency(_ context.Context) ([]repository.CurrencyTotal, error) {
	var out []repository.CurrencyTotal
	err := q.with(func(st *state, _ time.Time) error {
		totals := map[string]*repository.CurrencyTotal{}
		for _, a := range st.accounts {
			t, ok := totals[a.Currency]
			if !ok {
				t = &repository.CurrencyTotal{Currency: a.Currency}
				totals[a.Currency] = t
			}
			t.Accounts++
			t.Balance += a.Balance
			t.Available += a.AvailableBalance
		}
		for _, t := range totals {
			out = append(out, *t)
		}
		slices.SortFunc(out, func(a, b repository.CurrencyTotal) int { return strings.Compare(a.Currency, b.Currency) })
		return nil
	})
	return out, err
}

func (q *Queries) CreateTokenAccount(_ context.Context, userID uuid.UUID) error {
	return q.with(func(st *state, now time.Time) error {
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("failed to create token account: %w", foreignKeyViolation("token_accounts_user_id_fkey"))
		}
		if _, ok := st.tokens[userID]; ok {
			return nil
		}
		st.tokens[userID] = models.TokenAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
		return nil
	})
}

func (q *Queries) getTokenAccount(userID uuid.UUID) (*models.TokenAccount, error) {
	var out models.TokenAccount
	err := q.with(func(st *state, _ time.Time) error {
		t, ok := st.tokens[userID]
		if !ok {
			return fmt.Errorf("token account %s: %w", userID, domain.ErrNotFound)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) GetTokenAccount(_ context.Context, userID uuid.UUID) (*models.TokenAccount, error) {
	return q.getTokenAccount(userID)
}

func (q *Queries) GetTokenAccountForUpdate(_ context.Context, userID uuid.UUID) (*models.TokenAccount, error) {
	return q.getTokenAccount(userID)
}

func (q *Queries) UpdateTokenAccount(_ context.Context, userID uuid.UUID, balanceDelta, earnedDelta, burnedDelta int64) (int64, error) {
	var rows int64
	err := q.with(func(st *state, now time.Time) error {
		t, ok := st.tokens[userID]
		if !ok {
			return nil
		}
		t.Balance += balanceDelta
		t.EarnedTokens += earnedDelta
		t.BurnedTokens += burnedDelta
		if t.Balance < 0 || t.EarnedTokens < 0 || t.BurnedTokens < 0 {
			return fmt.Errorf("failed to update token account: %w", checkViolation("token_accounts_balance_check"))
		}
		t.UpdatedAt = now
		st.tokens[userID] = t
		rows = 1
		return nil
	})
	return rows, err
}

func (q *Queries) GetTokenTotals(_ context.Context) (*models.TokenTotals, error) {
	out := &models.TokenTotals{}
	err := q.with(func(st *state, _ time.Time) error {
		for _, t := range st.tokens {
			out.Circulating += t.Balance
			out.Earned += t.EarnedTokens
			out.Burned += t.BurnedTokens
			if t.Balance > 0 {
				out.Holders++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queries) ListTopTokenAccounts(_ context.Context, limit int32) ([]models.TokenAccount, error) {
	var out []models.TokenAccount
	err := q.with(func(st *state, _ time.Time) error {
		for _, t := range st.tokens {
			if t.Balance > 0 {
				out = append(out, t)
			}
		}
		slices.SortFunc(out, func(a, b models.TokenAccount) int {
			if a.Balance != b.Balance {
				if a.Balance > b.Balance {
					return -1
				}
				return 1
			}
			return strings.Compare(a.UserID.String(), b.UserID.String())
		})
		if limit > 0 && len(out) > int(limit) {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}
