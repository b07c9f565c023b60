package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransferService moves money between two accounts of the same currency.
type TransferService struct {
	store     QueryStore
	ledger    *Ledger
	journal   *Journal
	tokens    *TokenService
	settings  SettingsProvider
	retry     RetryPolicy
	publisher events.Publisher
	now       func() time.Time
}

func NewTransferService(store QueryStore, ledger *Ledger, journal *Journal, tokens *TokenService, settings SettingsProvider, retry RetryPolicy, publisher events.Publisher) *TransferService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TransferService{
		store:     store,
		ledger:    ledger,
		journal:   journal,
		tokens:    tokens,
		settings:  settings,
		retry:     retry,
		publisher: publisher,
		now:       time.Now,
	}
}

type TransferCmd struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        int64
	// Currency is optional; when set it must match both accounts.
	Currency    string
	Description string
	// ReferenceID makes the call idempotent: repeating it returns the original entry.
	ReferenceID string
	ActorID     *uuid.UUID
}

// Transfer debits the source, credits the destination and rewards the sender with
// emission tokens, all in one scope.
func (s *TransferService) Transfer(ctx context.Context, cmd TransferCmd) (*models.JournalEntry, error) {
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, cmd.Amount)
	}
	if cmd.FromAccountID == cmd.ToAccountID {
		return nil, domain.ErrSelfTransfer
	}
	cmd.Currency = normalizeCurrency(cmd.Currency)

	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Amount < st.MinTransactionAmount {
		return nil, fmt.Errorf("%w: minimum transfer is %s", domain.ErrInvalidAmount, domain.FormatAmount(st.MinTransactionAmount))
	}

	if cmd.ReferenceID != "" {
		existing, err := s.findByReference(ctx, s.store.Queries(), cmd)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	var entry, reward *models.JournalEntry
	replayed := false
	err = withRetry(ctx, s.retry, "transfer", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			entry, reward, replayed = nil, nil, false
			if cmd.ReferenceID != "" {
				existing, err := s.findByReference(ctx, q, cmd)
				if err != nil {
					return err
				}
				if existing != nil {
					entry, replayed = existing, true
					return nil
				}
			}

			var err error
			entry, err = s.transferIn(ctx, q, cmd, st)
			if err != nil {
				return err
			}
			source, err := q.GetAccount(ctx, cmd.FromAccountID)
			if err != nil {
				return fmt.Errorf("get source account: %w", err)
			}
			reward, err = s.tokens.rewardIn(ctx, q, source.UserID, cmd.Amount, st)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return entry, nil
	}

	announce(ctx, s.publisher, entry, reward)
	zap.L().Info("transfer completed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("from_account_id", cmd.FromAccountID.String()),
		zap.String("to_account_id", cmd.ToAccountID.String()),
		zap.Int64("amount", cmd.Amount),
		zap.String("currency", entry.Currency),
	)
	return entry, nil
}

func (s *TransferService) transferIn(ctx context.Context, q repository.Querier, cmd TransferCmd, st Settings) (*models.JournalEntry, error) {
	locked, err := s.ledger.Lock(ctx, q, cmd.FromAccountID, cmd.ToAccountID)
	if err != nil {
		return nil, err
	}
	from, to := locked[cmd.FromAccountID], locked[cmd.ToAccountID]
	if from.Currency != to.Currency {
		return nil, fmt.Errorf("%w: sender is %s, receiver is %s", domain.ErrCurrencyMismatch, from.Currency, to.Currency)
	}
	if cmd.Currency != "" && cmd.Currency != from.Currency {
		return nil, fmt.Errorf("%w: accounts are %s, requested %s", domain.ErrCurrencyMismatch, from.Currency, cmd.Currency)
	}

	if st.MaxDailyTransaction > 0 {
		spent, err := q.SumOutgoingSince(ctx, cmd.FromAccountID, domain.KindTransfer, startOfDayUTC(s.now()))
		if err != nil {
			return nil, fmt.Errorf("sum daily transfers: %w", err)
		}
		if spent+cmd.Amount > st.MaxDailyTransaction {
			return nil, domain.NewShortfall(domain.ErrDailyLimitExceeded, cmd.Amount, max(st.MaxDailyTransaction-spent, 0), from.Currency)
		}
	}

	description := cmd.Description
	if description == "" {
		description = "Transfer"
	}
	return s.journal.Post(ctx, q, &models.JournalEntry{
		FromAccountID: ptr(cmd.FromAccountID),
		ToAccountID:   ptr(cmd.ToAccountID),
		FromUserID:    ptr(from.UserID),
		ToUserID:      ptr(to.UserID),
		Amount:        cmd.Amount,
		Currency:      from.Currency,
		Kind:          domain.KindTransfer,
		Description:   description,
		ReferenceID:   cmd.ReferenceID,
	}, cmd.ActorID, func(*models.JournalEntry) error {
		return s.ledger.Apply(ctx, q, NewAdjustments().
			AddWithFloor(cmd.FromAccountID, -cmd.Amount, 0).
			Add(cmd.ToAccountID, cmd.Amount))
	})
}

// findByReference returns the entry already recorded under cmd.ReferenceID, or nil.
func (s *TransferService) findByReference(ctx context.Context, q repository.Querier, cmd TransferCmd) (*models.JournalEntry, error) {
	existing, err := q.GetJournalEntryByReference(ctx, cmd.ReferenceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing.Kind != domain.KindTransfer ||
		existing.Amount != cmd.Amount ||
		!eqAccount(existing.FromAccountID, cmd.FromAccountID) ||
		!eqAccount(existing.ToAccountID, cmd.ToAccountID) {
		return nil, fmt.Errorf("%w: reference %s was used for a different request", domain.ErrInvalidInput, cmd.ReferenceID)
	}
	return existing, nil
}

func eqAccount(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}
