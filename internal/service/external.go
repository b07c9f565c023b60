package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/events"
	"github.com/ayo6706/ledger-engine/internal/gateway"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExternalTransferService moves money across the ledger boundary in two phases:
// a pending entry is recorded first and finalized only once the rail confirms.
type ExternalTransferService struct {
	store     QueryStore
	ledger    *Ledger
	journal   *Journal
	tokens    *TokenService
	settings  SettingsProvider
	gateways  *gateway.Registry
	retry     RetryPolicy
	publisher events.Publisher

	// pollAfter is the seq the next ProcessPending pass resumes after.
	pollMu    sync.Mutex
	pollAfter int64
}

func NewExternalTransferService(store QueryStore, ledger *Ledger, journal *Journal, tokens *TokenService, settings SettingsProvider, gateways *gateway.Registry, retry RetryPolicy, publisher events.Publisher) *ExternalTransferService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ExternalTransferService{
		store:     store,
		ledger:    ledger,
		journal:   journal,
		tokens:    tokens,
		settings:  settings,
		gateways:  gateways,
		retry:     retry,
		publisher: publisher,
	}
}

type ExternalCmd struct {
	AccountID   uuid.UUID
	Amount      int64
	Currency    string
	Provider    string
	Destination string
	ReferenceID string
	Description string
	Metadata    map[string]any
	ActorID     *uuid.UUID
}

// InitiateDeposit records a pending deposit and asks the rail to collect it.
// The account is credited only by Confirm.
func (s *ExternalTransferService) InitiateDeposit(ctx context.Context, cmd ExternalCmd) (*models.JournalEntry, error) {
	return s.initiate(ctx, gateway.DirectionDeposit, cmd)
}

// InitiateWithdrawal holds the amount, records a pending withdrawal and asks the rail to pay it out.
func (s *ExternalTransferService) InitiateWithdrawal(ctx context.Context, cmd ExternalCmd) (*models.JournalEntry, error) {
	if cmd.Destination == "" {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrInvalidInput)
	}
	return s.initiate(ctx, gateway.DirectionWithdrawal, cmd)
}

func (s *ExternalTransferService) rail(provider string) (gateway.Gateway, error) {
	gw, ok := s.gateways.Get(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedRail, provider)
	}
	return gw, nil
}

func (s *ExternalTransferService) initiate(ctx context.Context, dir gateway.Direction, cmd ExternalCmd) (*models.JournalEntry, error) {
	kind := string(dir)
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, cmd.Amount)
	}
	gw, err := s.rail(cmd.Provider)
	if err != nil {
		return nil, err
	}
	cmd.Currency = normalizeCurrency(cmd.Currency)
	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Amount < st.MinTransactionAmount {
		return nil, fmt.Errorf("%w: minimum is %s", domain.ErrInvalidAmount, domain.FormatAmount(st.MinTransactionAmount))
	}

	metadata := map[string]any{}
	for k, v := range cmd.Metadata {
		metadata[k] = v
	}
	if cmd.Destination != "" {
		metadata["destination"] = cmd.Destination
	}
	rawMetadata, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	var entry *models.JournalEntry
	replayed := false
	err = withRetry(ctx, s.retry, kind+"_initiate", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			entry, replayed = nil, false
			if cmd.ReferenceID != "" {
				existing, err := q.GetJournalEntryByReference(ctx, cmd.ReferenceID)
				if err == nil {
					if existing.Kind != kind || existing.Amount != cmd.Amount {
						return fmt.Errorf("%w: reference %s was used for a different request", domain.ErrInvalidInput, cmd.ReferenceID)
					}
					entry, replayed = existing, true
					return nil
				}
				if !errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("failed to check idempotency: %w", err)
				}
			}

			locked, err := s.ledger.Lock(ctx, q, cmd.AccountID)
			if err != nil {
				return err
			}
			acc := locked[cmd.AccountID]
			if cmd.Currency != "" && cmd.Currency != acc.Currency {
				return fmt.Errorf("%w: account is %s, requested %s", domain.ErrCurrencyMismatch, acc.Currency, cmd.Currency)
			}
			if acc.Status != domain.AccountActive {
				return fmt.Errorf("account %s is %s: %w", acc.ID, acc.Status, domain.ErrAccountFrozen)
			}

			entry = &models.JournalEntry{
				Amount:           cmd.Amount,
				Currency:         acc.Currency,
				Kind:             kind,
				Description:      cmd.Description,
				ReferenceID:      cmd.ReferenceID,
				ExternalProvider: cmd.Provider,
				Metadata:         rawMetadata,
			}
			if dir == gateway.DirectionDeposit {
				entry.ToAccountID, entry.ToUserID = ptr(acc.ID), ptr(acc.UserID)
			} else {
				entry.FromAccountID, entry.FromUserID = ptr(acc.ID), ptr(acc.UserID)
				if err := s.ledger.Apply(ctx, q, NewAdjustments().Hold(acc.ID, cmd.Amount)); err != nil {
					return err
				}
			}
			return s.journal.Record(ctx, q, entry, cmd.ActorID)
		})
	})
	if err != nil {
		return nil, err
	}
	if replayed && (entry.Status != domain.StatusPending || entry.ExternalRef != "") {
		return entry, nil
	}
	return s.dispatch(ctx, gw, entry)
}

// dispatch hands a pending entry to its rail. The entry id is the idempotency key, so
// dispatching the same entry twice never starts a second movement.
func (s *ExternalTransferService) dispatch(ctx context.Context, gw gateway.Gateway, entry *models.JournalEntry) (*models.JournalEntry, error) {
	destination, err := destinationOf(entry)
	if err == nil && entry.Kind == domain.KindWithdrawal && destination == "" {
		err = fmt.Errorf("entry %s has no payout destination", entry.ID)
	}
	if err != nil {
		zap.L().Error("external entry cannot be dispatched", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		failed, settleErr := s.settle(ctx, entry, domain.StatusFailed)
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, fmt.Errorf("%w: %v", domain.ErrExternalFailed, err)
	}

	ref, err := gw.Initiate(ctx, gateway.Request{
		IdempotencyKey: entry.ID.String(),
		Direction:      gateway.Direction(entry.Kind),
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		AccountRef:     accountRef(entry).String(),
		Destination:    destination,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			failed, settleErr := s.settle(ctx, entry, domain.StatusFailed)
			if settleErr != nil {
				return nil, settleErr
			}
			return failed, fmt.Errorf("%w: %v", domain.ErrExternalFailed, err)
		}
		// Indeterminate: keep the entry pending and let the settlement worker retry.
		zap.L().Warn("external initiate failed, entry stays pending",
			zap.String("entry_id", entry.ID.String()),
			zap.String("provider", entry.ExternalProvider),
			zap.Error(err),
		)
		return entry, nil
	}

	rows, err := s.store.Queries().SetJournalExternalRef(ctx, entry.ID, ref)
	if err != nil {
		return nil, fmt.Errorf("store external reference: %w", err)
	}
	if rows == 1 {
		entry.ExternalRef = ref
	}
	return entry, nil
}

// Confirm asks the rail about a pending external entry and finalizes it when the rail
// has an answer. Pending answers and transport errors return domain.ErrExternalPending
// and change nothing. Confirming a finalized entry returns it unchanged.
func (s *ExternalTransferService) Confirm(ctx context.Context, entryID uuid.UUID) (*models.JournalEntry, error) {
	entry, err := s.journal.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !domain.IsExternalKind(entry.Kind) {
		return nil, fmt.Errorf("%w: entry %s is a %s, not an external movement", domain.ErrInvalidInput, entryID, entry.Kind)
	}
	if entry.Status != domain.StatusPending {
		return entry, nil
	}
	gw, err := s.rail(entry.ExternalProvider)
	if err != nil {
		return nil, err
	}

	if entry.ExternalRef == "" {
		entry, err = s.dispatch(ctx, gw, entry)
		if err != nil {
			return entry, err
		}
		if entry.ExternalRef == "" {
			return entry, fmt.Errorf("%w: rail has not accepted entry %s yet", domain.ErrExternalPending, entryID)
		}
	}

	status, err := gw.Confirm(ctx, entry.ExternalRef)
	if err != nil {
		return entry, fmt.Errorf("%w: %v", domain.ErrExternalPending, err)
	}
	switch status {
	case gateway.StatusSucceeded:
		return s.settle(ctx, entry, domain.StatusCompleted)
	case gateway.StatusFailed:
		return s.settle(ctx, entry, domain.StatusFailed)
	default:
		return entry, domain.ErrExternalPending
	}
}

func (s *ExternalTransferService) settle(ctx context.Context, entry *models.JournalEntry, outcome string) (*models.JournalEntry, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	accountID := accountRef(entry)

	var final, reward *models.JournalEntry
	var changed bool
	err = withRetry(ctx, s.retry, entry.Kind+"_settle", func() error {
		return s.store.RunInTx(ctx, func(q repository.Querier) error {
			reward = nil
			locked, err := s.ledger.Lock(ctx, q, accountID)
			if err != nil {
				return err
			}
			final, changed, err = s.journal.Settle(ctx, q, entry.ID, outcome, nil, func(e *models.JournalEntry) error {
				adj := NewAdjustments()
				switch {
				case e.Kind == domain.KindDeposit && outcome == domain.StatusCompleted:
					adj.Receive(accountID, e.Amount)
				case e.Kind == domain.KindWithdrawal && outcome == domain.StatusCompleted:
					adj.Capture(accountID, e.Amount)
				case e.Kind == domain.KindWithdrawal && outcome == domain.StatusFailed:
					adj.Release(accountID, e.Amount)
				default:
					return nil
				}
				return s.ledger.Apply(ctx, q, adj)
			})
			if err != nil || !changed {
				return err
			}
			if entry.Kind == domain.KindDeposit && outcome == domain.StatusCompleted {
				reward, err = s.tokens.rewardIn(ctx, q, locked[accountID].UserID, entry.Amount, st)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		observability.IncrementExternalSettlement(entry.Kind, outcome)
		announce(ctx, s.publisher, final, reward)
		zap.L().Info("external movement finalized",
			zap.String("entry_id", final.ID.String()),
			zap.String("kind", final.Kind),
			zap.String("status", final.Status),
			zap.String("provider", final.ExternalProvider),
		)
	}
	return final, nil
}

// ProcessPending confirms up to batch pending external entries and returns how many were finalized.
// Successive passes walk the pending set in seq order and wrap around, so entries the rail
// keeps reporting as pending cannot starve the ones behind them.
func (s *ExternalTransferService) ProcessPending(ctx context.Context, batch int32) (int, error) {
	if batch <= 0 {
		return 0, fmt.Errorf("%w: batch must be positive", domain.ErrInvalidInput)
	}
	pending, err := s.nextPending(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list pending external entries: %w", err)
	}

	finalized, waiting := 0, 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return finalized, err
		}
		_, err := s.Confirm(ctx, e.ID)
		switch {
		case err == nil:
			finalized++
		case errors.Is(err, domain.ErrExternalPending):
			waiting++
		case errors.Is(err, domain.ErrExternalFailed):
			finalized++
		default:
			waiting++
			zap.L().Error("failed to confirm external entry", zap.String("entry_id", e.ID.String()), zap.Error(err))
		}
	}
	observability.SetPendingExternal(waiting)
	return finalized, nil
}

func (s *ExternalTransferService) nextPending(ctx context.Context, batch int32) ([]models.JournalEntry, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	q := s.store.Queries()
	page, err := q.ListPendingExternalEntries(ctx, s.pollAfter, batch)
	if err != nil {
		return nil, err
	}
	if len(page) < int(batch) && s.pollAfter > 0 {
		head, err := q.ListPendingExternalEntries(ctx, 0, batch-int32(len(page)))
		if err != nil {
			return nil, err
		}
		for _, e := range head {
			if e.Seq <= s.pollAfter {
				page = append(page, e)
			}
		}
	}

	s.pollAfter = 0
	if len(page) == int(batch) {
		s.pollAfter = page[len(page)-1].Seq
	}
	return page, nil
}

func accountRef(e *models.JournalEntry) uuid.UUID {
	if e.Kind == domain.KindDeposit && e.ToAccountID != nil {
		return *e.ToAccountID
	}
	if e.FromAccountID != nil {
		return *e.FromAccountID
	}
	return uuid.Nil
}

func destinationOf(e *models.JournalEntry) (string, error) {
	var m struct {
		Destination string `json:"destination"`
	}
	if len(e.Metadata) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return "", fmt.Errorf("decode entry %s metadata: %w", e.ID, err)
	}
	return m.Destination, nil
}
