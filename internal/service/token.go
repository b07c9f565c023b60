package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// TokenConfig describes the platform token.
type TokenConfig struct {
	Symbol      string
	TotalSupply int64
	Retry       RetryPolicy
}

// TokenService manages per-user token balances. Every mutation writes journal entries
// denominated in the token symbol.
type TokenService struct {
	store     QueryStore
	journal   *Journal
	settings  SettingsProvider
	cfg       TokenConfig
	publisher events.Publisher
}

func NewTokenService(store QueryStore, journal *Journal, settings SettingsProvider, cfg TokenConfig, publisher events.Publisher) *TokenService {
	if cfg.Symbol == "" {
		cfg.Symbol = "MNR"
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TokenService{store: store, journal: journal, settings: settings, cfg: cfg, publisher: publisher}
}

func (s *TokenService) Symbol() string {
	return s.cfg.Symbol
}

// SplitBurn divides a transfer into the burned share and what the recipient receives.
// burn = amount * rate / 100 rounded down to precision.
func SplitBurn(amount int64, rate decimal.Decimal, precision int32) (burn, net int64) {
	burn = domain.PercentOf(amount, rate, precision)
	return burn, amount - burn
}

// lockTokenAccount locks the user's token account, opening it first when the user exists.
func (s *TokenService) lockTokenAccount(ctx context.Context, q repository.Querier, userID uuid.UUID) (*models.TokenAccount, error) {
	acc, err := q.GetTokenAccountForUpdate(ctx, userID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lock token account %s: %w", userID, err)
	}
	if _, err := q.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if err := q.CreateTokenAccount(ctx, userID); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: token account %s opened concurrently: %w", domain.ErrStoreConflict, userID, err)
		}
		return nil, fmt.Errorf("open token account %s: %w", userID, err)
	}
	acc, err = q.GetTokenAccountForUpdate(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		// A concurrent opener committed after this scope's snapshot.
		return nil, fmt.Errorf("%w: token account %s not visible yet", domain.ErrStoreConflict, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock token account %s: %w", userID, err)
	}
	return acc, nil
}

func (s *TokenService) updateTokens(ctx context.Context, q repository.Querier, userID uuid.UUID, balanceDelta, earnedDelta, burnedDelta int64) error {
	rows, err := q.UpdateTokenAccount(ctx, userID, balanceDelta, earnedDelta, burnedDelta)
	if err != nil {
		return fmt.Errorf("update token account %s: %w", userID, err)
	}
	return requireExactlyOne(rows, "update token account")
}

// Earn mints amount tokens to userID from one of the whitelisted sources.
func (s *TokenService) Earn(ctx context.Context, userID uuid.UUID, amount int64, source string) (*models.JournalEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: earn amount must be positive", domain.ErrInvalidAmount)
	}
	if !domain.IsEarnSource(source) {
		return nil, fmt.Errorf("%w: unknown earn source %q", domain.ErrInvalidInput, source)
	}

	var entry *models.JournalEntry
	err := withRetry(ctx, s.cfg.Retry, "token_earn", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			var err error
			entry, err = s.earn(ctx, q, userID, amount, source)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	announce(ctx, s.publisher, entry)
	return entry, nil
}

func (s *TokenService) earn(ctx context.Context, q repository.Querier, userID uuid.UUID, amount int64, source string) (*models.JournalEntry, error) {
	if _, err := s.lockTokenAccount(ctx, q, userID); err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(map[string]string{"source": source})
	if err != nil {
		return nil, err
	}
	return s.journal.Post(ctx, q, &models.JournalEntry{
		ToUserID:    ptr(userID),
		Amount:      amount,
		Currency:    s.cfg.Symbol,
		Kind:        domain.KindEarn,
		Description: "Earned from " + source,
		Metadata:    metadata,
	}, nil, func(*models.JournalEntry) error {
		return s.updateTokens(ctx, q, userID, amount, amount, 0)
	})
}

// rewardIn credits the emission reward for a completed movement of base inside the caller's scope.
// It returns nil when the reward rounds to zero.
func (s *TokenService) rewardIn(ctx context.Context, q repository.Querier, userID uuid.UUID, base int64, st Settings) (*models.JournalEntry, error) {
	reward := domain.PercentOf(base, st.EmissionRate, st.TokenPrecision)
	if reward <= 0 {
		return nil, nil
	}
	return s.earn(ctx, q, userID, reward, domain.EarnTransactionFee)
}

// Burn removes amount tokens from userID.
func (s *TokenService) Burn(ctx context.Context, userID uuid.UUID, amount int64) (*models.JournalEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: burn amount must be positive", domain.ErrInvalidAmount)
	}

	var entry *models.JournalEntry
	err := withRetry(ctx, s.cfg.Retry, "token_burn", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			acc, err := s.lockTokenAccount(ctx, q, userID)
			if err != nil {
				return err
			}
			if acc.Balance < amount {
				return domain.NewShortfall(domain.ErrInsufficientTokenBalance, amount, acc.Balance, s.cfg.Symbol)
			}
			entry, err = s.journal.Post(ctx, q, &models.JournalEntry{
				FromUserID:  ptr(userID),
				Amount:      amount,
				Currency:    s.cfg.Symbol,
				Kind:        domain.KindBurn,
				Description: "Tokens burned",
			}, nil, func(*models.JournalEntry) error {
				return s.updateTokens(ctx, q, userID, -amount, 0, amount)
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	announce(ctx, s.publisher, entry)
	return entry, nil
}

type TokenTransferCmd struct {
	FromUserID  uuid.UUID
	ToUserID    uuid.UUID
	Amount      int64
	Description string
}

// TokenTransferResult reports what the recipient got and what was burned on the way.
type TokenTransferResult struct {
	Transfer *models.JournalEntry `json:"transfer"`
	Burn     *models.JournalEntry `json:"burn,omitempty"`
	Amount   int64                `json:"amount"`
	Net      int64                `json:"net"`
	Burned   int64                `json:"burned"`
}

// Transfer moves tokens between users and burns the configured share.
func (s *TokenService) Transfer(ctx context.Context, cmd TokenTransferCmd) (*TokenTransferResult, error) {
	if cmd.FromUserID == cmd.ToUserID {
		return nil, domain.ErrSelfTransfer
	}
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidAmount)
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.transfer(ctx, cmd, st)
}

func (s *TokenService) transfer(ctx context.Context, cmd TokenTransferCmd, st Settings) (*TokenTransferResult, error) {
	burn, net := SplitBurn(cmd.Amount, st.BurnRate, st.TokenPrecision)
	if net <= 0 {
		return nil, fmt.Errorf("%w: nothing left to deliver after burning %s", domain.ErrInvalidAmount, domain.FormatAmount(burn))
	}

	res := &TokenTransferResult{Amount: cmd.Amount, Net: net, Burned: burn}
	err := withRetry(ctx, s.cfg.Retry, "token_transfer", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			locked := map[uuid.UUID]*models.TokenAccount{}
			for _, id := range sortIDs([]uuid.UUID{cmd.FromUserID, cmd.ToUserID}) {
				acc, err := s.lockTokenAccount(ctx, q, id)
				if err != nil {
					return err
				}
				locked[id] = acc
			}
			sender := locked[cmd.FromUserID]
			if sender.Balance < cmd.Amount {
				return domain.NewShortfall(domain.ErrInsufficientTokenBalance, cmd.Amount, sender.Balance, s.cfg.Symbol)
			}

			description := cmd.Description
			if description == "" {
				description = "Token transfer"
			}
			metadata, err := encodeMetadata(map[string]string{
				"gross":     domain.FormatAmount(cmd.Amount),
				"burn_rate": st.BurnRate.String(),
			})
			if err != nil {
				return err
			}
			res.Transfer, err = s.journal.Post(ctx, q, &models.JournalEntry{
				FromUserID:  ptr(cmd.FromUserID),
				ToUserID:    ptr(cmd.ToUserID),
				Amount:      net,
				Fee:         burn,
				Currency:    s.cfg.Symbol,
				Kind:        domain.KindTransfer,
				Description: description,
				Metadata:    metadata,
			}, ptr(cmd.FromUserID), func(*models.JournalEntry) error {
				if err := s.updateTokens(ctx, q, cmd.FromUserID, -cmd.Amount, 0, burn); err != nil {
					return err
				}
				return s.updateTokens(ctx, q, cmd.ToUserID, net, net, 0)
			})
			if err != nil {
				return err
			}

			res.Burn = nil
			if burn > 0 {
				res.Burn, err = s.journal.Post(ctx, q, &models.JournalEntry{
					FromUserID:  ptr(cmd.FromUserID),
					Amount:      burn,
					Currency:    s.cfg.Symbol,
					Kind:        domain.KindBurn,
					Description: "Transfer burn",
					Metadata:    []byte(fmt.Sprintf(`{"transfer_id":%q}`, res.Transfer.ID)),
				}, ptr(cmd.FromUserID), nil)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	announce(ctx, s.publisher, res.Transfer, res.Burn)
	zap.L().Info("token transfer completed",
		zap.String("from_user_id", cmd.FromUserID.String()),
		zap.String("to_user_id", cmd.ToUserID.String()),
		zap.Int64("net", net),
		zap.Int64("burned", burn),
	)
	return res, nil
}

// Balance returns the user's token account, or an empty one if none was opened yet.
func (s *TokenService) Balance(ctx context.Context, userID uuid.UUID) (*models.TokenAccount, error) {
	acc, err := s.store.Queries().GetTokenAccount(ctx, userID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get token account: %w", err)
	}
	if _, err := s.store.Queries().GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return &models.TokenAccount{UserID: userID}, nil
}

type TokenStats struct {
	Symbol       string `json:"symbol"`
	TotalSupply  int64  `json:"total_supply"`
	Circulating  int64  `json:"circulating_supply"`
	Earned       int64  `json:"total_earned"`
	Burned       int64  `json:"total_burned"`
	Holders      int64  `json:"holders"`
	BurnRate     string `json:"burn_rate"`
	EmissionRate string `json:"emission_rate"`
}

func (s *TokenService) Stats(ctx context.Context) (*TokenStats, error) {
	totals, err := s.store.Queries().GetTokenTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token totals: %w", err)
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	return &TokenStats{
		Symbol:       s.cfg.Symbol,
		TotalSupply:  s.cfg.TotalSupply,
		Circulating:  totals.Circulating,
		Earned:       totals.Earned,
		Burned:       totals.Burned,
		Holders:      totals.Holders,
		BurnRate:     st.BurnRate.String(),
		EmissionRate: st.EmissionRate.String(),
	}, nil
}

// Leaderboard lists the largest holders.
func (s *TokenService) Leaderboard(ctx context.Context, limit int32) ([]models.TokenAccount, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	limit = min(limit, maxLeaderboardSize)
	rows, err := s.store.Queries().ListTopTokenAccounts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list token leaderboard: %w", err)
	}
	return rows, nil
}

// History pages through the user's token entries, newest first.
func (s *TokenService) History(ctx context.Context, userID uuid.UUID, limit int32, cursor int64) ([]models.JournalEntry, int64, error) {
	return s.journal.Page(ctx, HistoryFilter{UserID: ptr(userID), Currency: s.cfg.Symbol, Cursor: cursor}, limit)
}
