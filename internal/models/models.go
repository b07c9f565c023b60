package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a single-currency balance owned by a user.
// Balance minus AvailableBalance is held for in-flight external withdrawals.
type Account struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	AvailableBalance int64     `json:"available_balance"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Held returns the amount reserved for pending withdrawals.
func (a Account) Held() int64 {
	return a.Balance - a.AvailableBalance
}

// JournalEntry is one recorded movement of value. Completed and failed entries are immutable.
type JournalEntry struct {
	ID               uuid.UUID       `json:"id"`
	Seq              int64           `json:"seq"`
	FromAccountID    *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID      *uuid.UUID      `json:"to_account_id,omitempty"`
	FromUserID       *uuid.UUID      `json:"from_user_id,omitempty"`
	ToUserID         *uuid.UUID      `json:"to_user_id,omitempty"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Kind             string          `json:"kind"`
	Status           string          `json:"status"`
	Fee              int64           `json:"fee"`
	Description      string          `json:"description,omitempty"`
	ReferenceID      string          `json:"reference_id,omitempty"`
	ExternalProvider string          `json:"external_provider,omitempty"`
	ExternalRef      string          `json:"external_ref,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty"`
}

type TokenAccount struct {
	UserID       uuid.UUID `json:"user_id"`
	Balance      int64     `json:"balance"`
	EarnedTokens int64     `json:"earned_tokens"`
	BurnedTokens int64     `json:"burned_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenTotals aggregates every token account.
type TokenTotals struct {
	Circulating int64 `json:"circulating"`
	Earned      int64 `json:"earned"`
	Burned      int64 `json:"burned"`
	Holders     int64 `json:"holders"`
}

type AdminSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AuditLog struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  string          `json:"prev_state,omitempty"`
	NextState  string          `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IdempotencyKey is a stored HTTP response for replay.
type IdempotencyKey struct {
	Key            string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
