package domain

// Journal entry kinds.
const (
	KindTransfer        = "transfer"
	KindDeposit         = "deposit"
	KindWithdrawal      = "withdrawal"
	KindFee             = "fee"
	KindBurn            = "burn"
	KindEarn            = "earn"
	KindAdminWithdrawal = "admin_withdrawal"
	KindExchange        = "exchange"
	KindDefi            = "defi"
)

// Journal entry statuses. Only pending entries may change.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Account statuses.
const (
	AccountActive = "active"
	AccountFrozen = "frozen"
	AccountClosed = "closed"
)

// Roles carried in auth tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Token earn sources.
const (
	EarnTransactionFee     = "transaction_fee"
	EarnReferral           = "referral"
	EarnStaking            = "staking"
	EarnLiquidityProvision = "liquidity_provision"
	EarnAdminReward        = "admin_reward"
)

// Admin setting keys.
const (
	SettingBurnRate             = "bank_token_burn_rate"
	SettingEmissionRate         = "bank_token_emission_rate"
	SettingMinTransactionAmount = "min_transaction_amount"
	SettingMaxDailyTransaction  = "max_daily_transaction"
)

var knownKinds = map[string]struct{}{
	KindTransfer:        {},
	KindDeposit:         {},
	KindWithdrawal:      {},
	KindFee:             {},
	KindBurn:            {},
	KindEarn:            {},
	KindAdminWithdrawal: {},
	KindExchange:        {},
	KindDefi:            {},
}

var earnSources = map[string]struct{}{
	EarnTransactionFee:     {},
	EarnReferral:           {},
	EarnStaking:            {},
	EarnLiquidityProvision: {},
	EarnAdminReward:        {},
}

// IsKnownKind reports whether kind is a journal entry kind.
func IsKnownKind(kind string) bool {
	_, ok := knownKinds[kind]
	return ok
}

// IsKnownStatus reports whether status is a journal entry status.
func IsKnownStatus(status string) bool {
	return status == StatusPending || status == StatusCompleted || status == StatusFailed
}

// IsEarnSource reports whether source may mint tokens.
func IsEarnSource(source string) bool {
	_, ok := earnSources[source]
	return ok
}

// IsExternalKind reports whether entries of this kind settle through an external rail.
func IsExternalKind(kind string) bool {
	return kind == KindDeposit || kind == KindWithdrawal
}
