package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier on top of pgx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a query set bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

var _ Querier = (*Queries)(nil)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	query := `INSERT INTO users (id, username, email, role, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`
	err := q.db.QueryRow(ctx, query, user.ID, user.Username, user.Email, user.Role).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, username, email, role, created_at FROM users WHERE id = $1`
	err := q.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+id.String())
	}
	return user, nil
}

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

const accountColumns = `id, user_id, currency, balance, available_balance, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	a := &models.Account{}
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.AvailableBalance, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func collectAccounts(rows pgx.Rows) ([]models.Account, error) {
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (q *Queries) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.Status == "" {
		account.Status = domain.AccountActive
	}
	query := `INSERT INTO accounts (id, user_id, currency, balance, available_balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query, account.ID, account.UserID, account.Currency, account.Balance, account.AvailableBalance, account.Status).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "account "+id.String())
	}
	return a, nil
}

func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "account "+id.String())
	}
	return a, nil
}

func (q *Queries) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func (q *Queries) ListActiveAccountsByCurrencyForUpdate(ctx context.Context, currency string) ([]models.Account, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE currency = $1 AND status = $2
		ORDER BY id
		FOR UPDATE`, currency, domain.AccountActive)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts for %s: %w", currency, err)
	}
	return collectAccounts(rows)
}

func (q *Queries) UpdateAccountBalances(ctx context.Context, id uuid.UUID, balanceDelta, availableDelta int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $1, available_balance = available_balance + $2, updated_at = NOW()
		WHERE id = $3`, balanceDelta, availableDelta, id)
	if err != nil {
		return 0, fmt.Errorf("failed to update account balances: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return 0, fmt.Errorf("failed to update account status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) SumAccountsByCurrency(ctx context.Context) ([]CurrencyTotal, error) {
	rows, err := q.db.Query(ctx, `
		SELECT currency, COUNT(*), COALESCE(SUM(balance), 0)::BIGINT, COALESCE(SUM(available_balance), 0)::BIGINT
		FROM accounts
		GROUP BY currency
		ORDER BY currency`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum accounts: %w", err)
	}
	defer rows.Close()

	var totals []CurrencyTotal
	for rows.Next() {
		var t CurrencyTotal
		if err := rows.Scan(&t.Currency, &t.Accounts, &t.Balance, &t.Available); err != nil {
			return nil, fmt.Errorf("failed to scan account totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
