package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
)

func (q *Queries) ListSettings(_ context.Context) ([]models.AdminSetting, error) {
	var out []models.AdminSetting
	err := q.with(func(st *state, _ time.Time) error {
		for _, s := range st.settings {
			out = append(out, s)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.AdminSetting) int { return strings.Compare(a.Key, b.Key) })
	return out, err
}

func (q *Queries) UpsertSetting(_ context.Context, setting models.AdminSetting) (*models.AdminSetting, error) {
	var out models.AdminSetting
	err := q.with(func(st *state, now time.Time) error {
		if existing, ok := st.settings[setting.Key]; ok && setting.Description == "" {
			setting.Description = existing.Description
		}
		setting.UpdatedAt = now
		st.settings[setting.Key] = setting
		out = setting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) error {
	return q.with(func(st *state, now time.Time) error {
		st.audit = append(st.audit, models.AuditLog{
			ID:         int64(len(st.audit) + 1),
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   slices.Clone(arg.Metadata),
			CreatedAt:  now,
		})
		return nil
	})
}

func (q *Queries) GetIdempotencyKey(_ context.Context, key string) (*models.IdempotencyKey, error) {
	var out models.IdempotencyKey
	err := q.with(func(st *state, _ time.Time) error {
		k, ok := st.idem[key]
		if !ok {
			return fmt.Errorf("idempotency key: %w", domain.ErrNotFound)
		}
		out = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (bool, error) {
	reserved := false
	err := q.with(func(st *state, now time.Time) error {
		if _, ok := st.idem[arg.IdempotencyKey]; ok {
			return nil
		}
		st.idem[arg.IdempotencyKey] = models.IdempotencyKey{
			Key:         arg.IdempotencyKey,
			RequestHash: arg.RequestHash,
			Method:      arg.Method,
			Path:        arg.Path,
			ContentType: "application/json",
			InProgress:  true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		reserved = true
		return nil
	})
	return reserved, err
}

func (q *Queries) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (*models.IdempotencyKey, error) {
	var out models.IdempotencyKey
	err := q.with(func(st *state, now time.Time) error {
		k, ok := st.idem[arg.IdempotencyKey]
		if !ok || k.RequestHash != arg.RequestHash {
			return fmt.Errorf("finalize idempotency key: %w", domain.ErrNotFound)
		}
		k.ResponseStatus = arg.ResponseStatus
		k.ResponseBody = slices.Clone(arg.ResponseBody)
		k.ContentType = arg.ContentType
		k.InProgress = false
		k.UpdatedAt = now
		st.idem[arg.IdempotencyKey] = k
		out = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (q *Queries) ReleaseIdempotencyKey(_ context.Context, key, requestHash string) error {
	return q.with(func(st *state, _ time.Time) error {
		if k, ok := st.idem[key]; ok && k.InProgress && k.RequestHash == requestHash {
			delete(st.idem, key)
		}
		return nil
	})
}
