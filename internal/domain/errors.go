package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInsufficientTokenBalance   = errors.New("insufficient token balance")
	ErrInsufficientAggregateFunds = errors.New("insufficient aggregate funds")
	ErrAccountFrozen              = errors.New("account is not active")
	ErrCurrencyMismatch           = errors.New("currency mismatch")
	ErrSelfTransfer               = errors.New("cannot transfer to the same account")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidInput               = errors.New("invalid input")
	ErrNotFound                   = errors.New("not found")
	ErrAlreadyExists              = errors.New("already exists")
	ErrDailyLimitExceeded         = errors.New("daily transaction limit exceeded")
	ErrInvalidTransition          = errors.New("invalid state transition")
	ErrUnsupportedRail            = errors.New("unsupported settlement rail")
	ErrUnauthorized               = errors.New("admin capability required")

	// ErrExternalPending means the external system has not confirmed yet.
	// Nothing was finalized; retry later.
	ErrExternalPending = errors.New("external settlement pending")
	ErrExternalFailed  = errors.New("external settlement failed")

	// ErrStoreConflict marks a transient store failure (serialization, deadlock, lock timeout).
	ErrStoreConflict = errors.New("store conflict")
	// ErrOperationAborted is returned once store conflicts exhausted the retry budget.
	ErrOperationAborted = errors.New("operation aborted")
)

// ShortfallError carries the numbers behind an insufficient-funds style failure.
// errors.Is matches on Kind.
type ShortfallError struct {
	Kind      error
	Requested int64
	Available int64
	Currency  string
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v: requested %s %s, available %s",
		e.Kind, FormatAmount(e.Requested), e.Currency, FormatAmount(e.Available))
}

func (e *ShortfallError) Unwrap() error {
	return e.Kind
}

// Shortfall returns how much is missing.
func (e *ShortfallError) Shortfall() int64 {
	return e.Requested - e.Available
}

// NewShortfall builds a ShortfallError of the given kind.
func NewShortfall(kind error, requested, available int64, currency string) error {
	return &ShortfallError{Kind: kind, Requested: requested, Available: available, Currency: currency}
}
