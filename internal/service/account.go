package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3,10}$`)

var accountTransitions = map[string]map[string]struct{}{
	domain.AccountActive: {
		domain.AccountFrozen: {},
		domain.AccountClosed: {},
	},
	domain.AccountFrozen: {
		domain.AccountActive: {},
		domain.AccountClosed: {},
	},
	domain.AccountClosed: {},
}

type AccountService struct {
	store           QueryStore
	ledger          *Ledger
	journal         *Journal
	audit           *AuditService
	defaultCurrency string
}

func NewAccountService(store QueryStore, ledger *Ledger, journal *Journal, audit *AuditService, defaultCurrency string) *AccountService {
	if defaultCurrency == "" {
		defaultCurrency = "BGN"
	}
	return &AccountService{
		store:           store,
		ledger:          ledger,
		journal:         journal,
		audit:           audit,
		defaultCurrency: normalizeCurrency(defaultCurrency),
	}
}

type RegisterUserCmd struct {
	Username string
	Email    string
	Role     string
	Currency string
}

// RegisterUser creates the user with an empty account in the default currency and an empty
// token account.
func (s *AccountService) RegisterUser(ctx context.Context, cmd RegisterUserCmd) (*models.User, *models.Account, error) {
	cmd.Username = strings.TrimSpace(cmd.Username)
	cmd.Email = strings.TrimSpace(strings.ToLower(cmd.Email))
	if cmd.Username == "" || cmd.Email == "" {
		return nil, nil, fmt.Errorf("%w: username and email are required", domain.ErrInvalidInput)
	}
	if !strings.Contains(cmd.Email, "@") {
		return nil, nil, fmt.Errorf("%w: email is invalid", domain.ErrInvalidInput)
	}
	if cmd.Role == "" {
		cmd.Role = domain.RoleUser
	}
	if cmd.Role != domain.RoleUser && cmd.Role != domain.RoleAdmin {
		return nil, nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, cmd.Role)
	}
	currency := normalizeCurrency(cmd.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidInput, currency)
	}

	user := &models.User{ID: uuid.New(), Username: cmd.Username, Email: cmd.Email, Role: cmd.Role}
	account := &models.Account{ID: uuid.New(), UserID: user.ID, Currency: currency, Status: domain.AccountActive}
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.CreateUser(ctx, user); err != nil {
			if repository.IsUniqueViolation(err, "") {
				return fmt.Errorf("%w: username or email already registered", domain.ErrAlreadyExists)
			}
			return err
		}
		if err := q.CreateAccount(ctx, account); err != nil {
			return err
		}
		if err := q.CreateTokenAccount(ctx, user.ID); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "user", user.ID, nil, "registered", "", user.Role, nil)
	})
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("user registered", zap.String("user_id", user.ID.String()), zap.String("currency", currency))
	return user, account, nil
}

func (s *AccountService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.store.Queries().GetUser(ctx, id)
}

// OpenAccount adds an empty account in currency for an existing user.
func (s *AccountService) OpenAccount(ctx context.Context, userID uuid.UUID, currency string) (*models.Account, error) {
	currency = normalizeCurrency(currency)
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidInput, currency)
	}
	account := &models.Account{ID: uuid.New(), UserID: userID, Currency: currency, Status: domain.AccountActive}
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return err
		}
		if err := q.CreateAccount(ctx, account); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "account", account.ID, ptr(userID), "opened", "", domain.AccountActive, nil)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.store.Queries().GetAccount(ctx, id)
}

func (s *AccountService) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	return s.store.Queries().ListAccountsByUser(ctx, userID)
}

func (s *AccountService) GetBalance(ctx context.Context, id uuid.UUID) (Balance, error) {
	return s.ledger.GetBalance(ctx, id)
}

// SetStatus freezes, unfreezes or closes an account. Only an empty account with no pending
// deposit or withdrawal can be closed, and closing is final.
func (s *AccountService) SetStatus(ctx context.Context, claim authz.AdminClaim, id uuid.UUID, status string) (*models.Account, error) {
	if err := claim.Require(); err != nil {
		return nil, err
	}
	if _, ok := accountTransitions[status]; !ok {
		return nil, fmt.Errorf("%w: unknown account status %q", domain.ErrInvalidInput, status)
	}

	var out *models.Account
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		locked, err := s.ledger.Lock(ctx, q, id)
		if err != nil {
			return err
		}
		acc := locked[id]
		if acc.Status == status {
			out = acc
			return nil
		}
		if _, ok := accountTransitions[acc.Status][status]; !ok {
			return fmt.Errorf("%w: account %s %s -> %s", domain.ErrInvalidTransition, id, acc.Status, status)
		}
		if status == domain.AccountClosed && acc.Balance != 0 {
			return fmt.Errorf("%w: account %s still holds %s %s", domain.ErrInvalidTransition, id, domain.FormatAmount(acc.Balance), acc.Currency)
		}
		if status == domain.AccountClosed {
			pending, err := q.CountPendingExternalByAccount(ctx, id)
			if err != nil {
				return err
			}
			if pending > 0 {
				return fmt.Errorf("%w: account %s has %d pending external movements", domain.ErrInvalidTransition, id, pending)
			}
		}
		rows, err := q.UpdateAccountStatus(ctx, id, status)
		if err != nil {
			return fmt.Errorf("update account status: %w", err)
		}
		if err := requireExactlyOne(rows, "update account status"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, q, "account", id, claim.Actor(), "status_changed", acc.Status, status, nil); err != nil {
			return err
		}
		acc.Status = status
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Statement pages through the account's journal entries, newest first. Only the kind,
// status and cursor parts of f are used.
func (s *AccountService) Statement(ctx context.Context, accountID uuid.UUID, f HistoryFilter, limit int32) ([]models.JournalEntry, int64, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	if _, err := s.store.Queries().GetAccount(ctx, accountID); err != nil {
		return nil, 0, err
	}
	return s.journal.Page(ctx, HistoryFilter{
		AccountID: ptr(accountID),
		Kinds:     f.Kinds,
		Statuses:  f.Statuses,
		Cursor:    f.Cursor,
	}, limit)
}
