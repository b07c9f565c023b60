package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/jackc/pgx/v5"
)

func (q *Queries) ListSettings(ctx context.Context) ([]models.AdminSetting, error) {
	rows, err := q.db.Query(ctx, `SELECT key, value, description, updated_at FROM admin_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []models.AdminSetting
	for rows.Next() {
		var s models.AdminSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

func (q *Queries) UpsertSetting(ctx context.Context, setting models.AdminSetting) (*models.AdminSetting, error) {
	out := &models.AdminSetting{}
	err := q.db.QueryRow(ctx, `
		INSERT INTO admin_settings (key, value, description, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    description = COALESCE(NULLIF(EXCLUDED.description, ''), admin_settings.description),
		    updated_at = NOW()
		RETURNING key, value, description, updated_at`,
		setting.Key, setting.Value, setting.Description).Scan(&out.Key, &out.Value, &out.Description, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert setting: %w", err)
	}
	return out, nil
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	var metadata []byte
	if len(arg.Metadata) > 0 {
		metadata = arg.Metadata
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, nullableText(arg.PrevState), nullableText(arg.NextState), metadata)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (*models.IdempotencyKey, error) {
	k := &models.IdempotencyKey{}
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at, updated_at
		FROM idempotency_keys WHERE idempotency_key = $1`, key).
		Scan(&k.Key, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus, &k.ResponseBody, &k.ContentType, &k.InProgress, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "idempotency key")
	}
	return k, nil
}

// ReserveIdempotencyKey returns false when the key is already taken.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	var key string
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return true, nil
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (*models.IdempotencyKey, error) {
	k := &models.IdempotencyKey{}
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at, updated_at`,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash).
		Scan(&k.Key, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus, &k.ResponseBody, &k.ContentType, &k.InProgress, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finalize idempotency key: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to finalize idempotency key: %w", err)
	}
	return k, nil
}

func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`, key, requestHash)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
