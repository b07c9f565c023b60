package repository

import (
	"context"
	"time"

	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access contract shared by the Postgres queries and the in-memory store.
// Methods ending in ForUpdate take a row lock held until the surrounding transaction ends.
type Querier interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error)
	// ListActiveAccountsByCurrencyForUpdate locks every active account of a currency in ascending id order.
	ListActiveAccountsByCurrencyForUpdate(ctx context.Context, currency string) ([]models.Account, error)
	UpdateAccountBalances(ctx context.Context, id uuid.UUID, balanceDelta, availableDelta int64) (int64, error)
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status string) (int64, error)
	SumAccountsByCurrency(ctx context.Context) ([]CurrencyTotal, error)

	CreateTokenAccount(ctx context.Context, userID uuid.UUID) error
	GetTokenAccount(ctx context.Context, userID uuid.UUID) (*models.TokenAccount, error)
	GetTokenAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.TokenAccount, error)
	UpdateTokenAccount(ctx context.Context, userID uuid.UUID, balanceDelta, earnedDelta, burnedDelta int64) (int64, error)
	GetTokenTotals(ctx context.Context) (*models.TokenTotals, error)
	ListTopTokenAccounts(ctx context.Context, limit int32) ([]models.TokenAccount, error)

	InsertJournalEntry(ctx context.Context, entry *models.JournalEntry) error
	GetJournalEntry(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error)
	GetJournalEntryForUpdate(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error)
	GetJournalEntryByReference(ctx context.Context, referenceID string) (*models.JournalEntry, error)
	// FinalizeJournalEntry moves a pending entry to status and draws a fresh seq.
	FinalizeJournalEntry(ctx context.Context, id uuid.UUID, status string) (*models.JournalEntry, error)
	SetJournalExternalRef(ctx context.Context, id uuid.UUID, externalRef string) (int64, error)
	ListJournalEntries(ctx context.Context, filter JournalFilter) ([]models.JournalEntry, error)
	// ListPendingExternalEntries returns pending external entries with seq above afterSeq, oldest first.
	ListPendingExternalEntries(ctx context.Context, afterSeq int64, limit int32) ([]models.JournalEntry, error)
	CountPendingExternalByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	SumOutgoingSince(ctx context.Context, accountID uuid.UUID, kind string, since time.Time) (int64, error)
	SumJournalByKind(ctx context.Context) ([]JournalTotal, error)

	ListSettings(ctx context.Context) ([]models.AdminSetting, error)
	UpsertSetting(ctx context.Context, setting models.AdminSetting) (*models.AdminSetting, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error

	GetIdempotencyKey(ctx context.Context, key string) (*models.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (*models.IdempotencyKey, error)
	// ReleaseIdempotencyKey drops an in-progress reservation so the key can be reused.
	ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error
}

// JournalFilter selects journal entries newest first. BeforeSeq of zero means no cursor.
type JournalFilter struct {
	AccountID *uuid.UUID
	UserID    *uuid.UUID
	Currency  string
	Kinds     []string
	Statuses  []string
	BeforeSeq int64
	Offset    int32
	Limit     int32
}

type CurrencyTotal struct {
	Currency  string
	Accounts  int64
	Balance   int64
	Available int64
}

type JournalTotal struct {
	Currency string
	Kind     string
	Status   string
	Entries  int64
	Amount   int64
	Fee      int64
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  string
	NextState  string
	Metadata   []byte
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
}
