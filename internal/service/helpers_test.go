package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/gateway"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testProvider = "mock"

func units(n int64) int64 {
	return n * domain.MicrosPerUnit
}

type testEnv struct {
	store     *memstore.Store
	gateway   *gateway.MockGateway
	settings  SettingsProvider
	audit     *AuditService
	ledger    *Ledger
	journal   *Journal
	tokens    *TokenService
	accounts  *AccountService
	transfers *TransferService
	external  *ExternalTransferService
	bulk      *BulkWithdrawalService
	recon     *ReconciliationService
	reports   *ReportService
}

// newTestEnv wires every service on an in-memory store. The mock rail never settles on
// its own; tests decide outcomes with Resolve.
func newTestEnv(t *testing.T, opts ...func(*Settings)) *testEnv {
	t.Helper()

	st := DefaultSettings()
	for _, o := range opts {
		o(&st)
	}
	store := memstore.New()
	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.SettleAfter = time.Hour

	retry := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	env := &testEnv{
		store:    store,
		gateway:  gw,
		settings: StaticSettings(st),
		audit:    NewAuditService(),
	}
	env.ledger = NewLedger(store)
	env.journal = NewJournal(store, env.audit)
	env.tokens = NewTokenService(store, env.journal, env.settings, TokenConfig{Symbol: "MNR", TotalSupply: units(1_000_000), Retry: retry}, nil)
	env.accounts = NewAccountService(store, env.ledger, env.journal, env.audit, "BGN")
	env.transfers = NewTransferService(store, env.ledger, env.journal, env.tokens, env.settings, retry, nil)
	env.external = NewExternalTransferService(store, env.ledger, env.journal, env.tokens, env.settings,
		gateway.NewRegistry().Register(testProvider, gw), retry, nil)
	env.bulk = NewBulkWithdrawalService(store, env.ledger, env.journal, env.audit, retry, nil)
	env.recon = NewReconciliationService(store, "MNR")
	env.reports = NewReportService(store, env.journal, env.tokens)
	return env
}

func (e *testEnv) newUser(t *testing.T, currency string) (*models.User, *models.Account) {
	t.Helper()
	name := "user-" + uuid.NewString()[:8]
	user, acc, err := e.accounts.RegisterUser(context.Background(), RegisterUserCmd{
		Username: name,
		Email:    name + "@example.com",
		Currency: currency,
	})
	require.NoError(t, err)
	return user, acc
}

// fund credits the account through a confirmed external deposit.
func (e *testEnv) fund(t *testing.T, accountID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	entry, err := e.external.InitiateDeposit(ctx, ExternalCmd{AccountID: accountID, Amount: amount, Provider: testProvider})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ExternalRef)
	require.NoError(t, e.gateway.Resolve(entry.ExternalRef, gateway.StatusSucceeded))
	done, err := e.external.Confirm(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, done.Status)
}

func (e *testEnv) balance(t *testing.T, accountID uuid.UUID) Balance {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) requireBalanced(t *testing.T) {
	t.Helper()
	report, err := e.recon.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Balanced, "ledger out of balance: %+v", report)
}

func admin() authz.AdminClaim {
	return authz.GrantAdmin(uuid.New())
}
