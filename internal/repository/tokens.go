package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tokenAccountColumns = `user_id, balance, earned_tokens, burned_tokens, created_at, updated_at`

func scanTokenAccount(row pgx.Row) (*models.TokenAccount, error) {
	t := &models.TokenAccount{}
	if err := row.Scan(&t.UserID, &t.Balance, &t.EarnedTokens, &t.BurnedTokens, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (q *Queries) CreateTokenAccount(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO token_accounts (user_id, balance, earned_tokens, burned_tokens, created_at, updated_at)
		VALUES ($1, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to create token account: %w", err)
	}
	return nil
}

func (q *Queries) GetTokenAccount(ctx context.Context, userID uuid.UUID) (*models.TokenAccount, error) {
	t, err := scanTokenAccount(q.db.QueryRow(ctx, `SELECT `+tokenAccountColumns+` FROM token_accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "token account "+userID.String())
	}
	return t, nil
}

func (q *Queries) GetTokenAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.TokenAccount, error) {
	t, err := scanTokenAccount(q.db.QueryRow(ctx, `SELECT `+tokenAccountColumns+` FROM token_accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "token account "+userID.String())
	}
	return t, nil
}

func (q *Queries) UpdateTokenAccount(ctx context.Context, userID uuid.UUID, balanceDelta, earnedDelta, burnedDelta int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE token_accounts
		SET balance = balance + $1, earned_tokens = earned_tokens + $2, burned_tokens = burned_tokens + $3, updated_at = NOW()
		WHERE user_id = $4`, balanceDelta, earnedDelta, burnedDelta, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to update token account: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetTokenTotals(ctx context.Context) (*models.TokenTotals, error) {
	t := &models.TokenTotals{}
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(balance), 0)::BIGINT,
		       COALESCE(SUM(earned_tokens), 0)::BIGINT,
		       COALESCE(SUM(burned_tokens), 0)::BIGINT,
		       COUNT(*) FILTER (WHERE balance > 0)
		FROM token_accounts`).Scan(&t.Circulating, &t.Earned, &t.Burned, &t.Holders)
	if err != nil {
		return nil, fmt.Errorf("failed to get token totals: %w", err)
	}
	return t, nil
}

func (q *Queries) ListTopTokenAccounts(ctx context.Context, limit int32) ([]models.TokenAccount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+tokenAccountColumns+`
		FROM token_accounts
		WHERE balance > 0
		ORDER BY balance DESC, user_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list token leaderboard: %w", err)
	}
	defer rows.Close()

	var accounts []models.TokenAccount
	for rows.Next() {
		t, err := scanTokenAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token account: %w", err)
		}
		accounts = append(accounts, *t)
	}
	return accounts, rows.Err()
}
