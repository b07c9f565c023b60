package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/ledger-engine/internal/authz"
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const settingsCacheKey = "ledger:settings"

// Settings is the admin-tunable configuration threaded into ledger operations.
// Rates are percentages; amounts are micros.
type Settings struct {
	BurnRate             decimal.Decimal
	EmissionRate         decimal.Decimal
	MinTransactionAmount int64
	MaxDailyTransaction  int64
	TokenPrecision       int32
}

var defaultSettingValues = map[string]struct{ value, description string }{
	domain.SettingBurnRate:             {"0.1", "Percentage of every token transfer that is burned"},
	domain.SettingEmissionRate:         {"0.05", "Percentage of a completed transfer or deposit rewarded in tokens"},
	domain.SettingMinTransactionAmount: {"1.00", "Smallest currency transfer accepted"},
	domain.SettingMaxDailyTransaction:  {"10000.00", "Per-account cap on completed outgoing transfers per UTC day"},
}

func DefaultSettings() Settings {
	return Settings{
		BurnRate:             decimal.RequireFromString("0.1"),
		EmissionRate:         decimal.RequireFromString("0.05"),
		MinTransactionAmount: 1 * domain.MicrosPerUnit,
		MaxDailyTransaction:  10_000 * domain.MicrosPerUnit,
		TokenPrecision:       6,
	}
}

// SettingsProvider hands out the current settings snapshot.
type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}

// StaticSettings always returns the same snapshot.
type StaticSettings Settings

func (s StaticSettings) Current(context.Context) (Settings, error) {
	return Settings(s), nil
}

// SettingsService reads admin settings through a short-lived local copy and an optional
// redis copy shared across instances.
type SettingsService struct {
	store     QueryStore
	cache     redis.Cmdable
	ttl       time.Duration
	precision int32
	audit     *AuditService
	now       func() time.Time

	mu       sync.Mutex
	current  Settings
	loadedAt time.Time
	loaded   bool
}

func NewSettingsService(store QueryStore, cache redis.Cmdable, ttl time.Duration, tokenPrecision int32, audit *AuditService) *SettingsService {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SettingsService{
		store:     store,
		cache:     cache,
		ttl:       ttl,
		precision: tokenPrecision,
		audit:     audit,
		now:       time.Now,
	}
}

// Current returns settings at most ttl old. When the store is unreachable a previously
// loaded snapshot is served.
func (s *SettingsService) Current(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && s.now().Sub(s.loadedAt) < s.ttl {
		return s.current, nil
	}

	values, err := s.load(ctx)
	if err != nil {
		if s.loaded {
			zap.L().Warn("serving stale admin settings", zap.Error(err))
			return s.current, nil
		}
		return Settings{}, err
	}
	s.current = s.parse(values)
	s.loadedAt = s.now()
	s.loaded = true
	return s.current, nil
}

func (s *SettingsService) load(ctx context.Context) (map[string]string, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, settingsCacheKey).Result()
		if err == nil {
			var values map[string]string
			if json.Unmarshal([]byte(raw), &values) == nil {
				return values, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis settings lookup failed", zap.Error(err))
		}
	}

	rows, err := s.store.Queries().ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admin settings: %w", err)
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}

	if s.cache != nil {
		payload, _ := json.Marshal(values)
		if err := s.cache.Set(ctx, settingsCacheKey, payload, s.ttl).Err(); err != nil {
			zap.L().Warn("redis settings cache set failed", zap.Error(err))
		}
	}
	return values, nil
}

func (s *SettingsService) parse(values map[string]string) Settings {
	st := DefaultSettings()
	st.TokenPrecision = s.precision
	for key, raw := range values {
		if err := validateSetting(key, raw); err != nil {
			zap.L().Warn("ignoring invalid admin setting", zap.String("key", key), zap.String("value", raw), zap.Error(err))
			continue
		}
		switch key {
		case domain.SettingBurnRate:
			st.BurnRate = decimal.RequireFromString(raw)
		case domain.SettingEmissionRate:
			st.EmissionRate = decimal.RequireFromString(raw)
		case domain.SettingMinTransactionAmount:
			st.MinTransactionAmount, _ = domain.ParseAmount(raw)
		case domain.SettingMaxDailyTransaction:
			st.MaxDailyTransaction, _ = domain.ParseAmount(raw)
		}
	}
	return st
}

func validateSetting(key, value string) error {
	if _, ok := defaultSettingValues[key]; !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
	}
	if d.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, key)
	}
	switch key {
	case domain.SettingBurnRate, domain.SettingEmissionRate:
		if d.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: %s is a percentage", domain.ErrInvalidInput, key)
		}
	default:
		if _, err := domain.ParseAmount(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// List returns every known setting, falling back to defaults for keys never written.
func (s *SettingsService) List(ctx context.Context) ([]models.AdminSetting, error) {
	rows, err := s.store.Queries().ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admin settings: %w", err)
	}
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.Key] = struct{}{}
	}
	for key, def := range defaultSettingValues {
		if _, ok := seen[key]; !ok {
			rows = append(rows, models.AdminSetting{Key: key, Value: def.value, Description: def.description})
		}
	}
	slices.SortFunc(rows, func(a, b models.AdminSetting) int { return strings.Compare(a.Key, b.Key) })
	return rows, nil
}

// Update writes one setting and drops every cached snapshot.
func (s *SettingsService) Update(ctx context.Context, claim authz.AdminClaim, key, value, description string) (*models.AdminSetting, error) {
	if err := claim.Require(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if err := validateSetting(key, value); err != nil {
		return nil, err
	}

	var out *models.AdminSetting
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		prev := defaultSettingValues[key].value
		rows, err := q.ListSettings(ctx)
		if err != nil {
			return fmt.Errorf("list admin settings: %w", err)
		}
		for _, r := range rows {
			if r.Key == key {
				prev = r.Value
			}
		}
		out, err = q.UpsertSetting(ctx, models.AdminSetting{Key: key, Value: value, Description: description})
		if err != nil {
			return fmt.Errorf("upsert admin setting: %w", err)
		}
		return s.audit.Write(ctx, q, "admin_setting", settingEntityID(key), claim.Actor(), "updated", prev, value, nil)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	zap.L().Info("admin setting updated", zap.String("key", key), zap.String("value", value), zap.String("actor_id", claim.ActorID().String()))
	return out, nil
}

func (s *SettingsService) invalidate(ctx context.Context) {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Del(ctx, settingsCacheKey).Err(); err != nil {
			zap.L().Warn("redis settings invalidation failed", zap.Error(err))
		}
	}
}

func settingEntityID(key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("admin_setting:"+key))
}
