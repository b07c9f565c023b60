// Package idempotency stores HTTP responses keyed by client Idempotency-Key so a retried
// request is answered with the original outcome instead of moving money twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/ayo6706/ledger-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	cachePrefix  = "ledger:idempotency:"
	pollInterval = 50 * time.Millisecond
)

// Record is a finished response ready for replay. ServedBy names the tier that answered.
type Record struct {
	Key         string `json:"key"`
	RequestHash string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ServedBy    string `json:"-"`
}

// Source hands out autocommit queries. Both repository.Store and memstore.Store satisfy it.
type Source interface {
	Queries() repository.Querier
}

// Store keeps reservations and finished responses in the ledger store, the source of truth,
// and mirrors finished responses into redis. A nil redis client disables the mirror.
type Store struct {
	redis redis.Cmdable
	db    Source
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, db Source, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl}
}

// Lookup returns the finished response for key. It fails with ErrHashMismatch when the key
// was used for a different request and ErrInProgress while the first request still runs.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.fromCache(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.db.Queries().GetIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	case row.RequestHash != requestHash:
		return nil, ErrHashMismatch
	case row.InProgress:
		return nil, ErrInProgress
	}

	rec := recordFromRow(row)
	s.toCache(ctx, rec)
	return rec, nil
}

// Reserve claims key for a new request. false means another request already holds it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	ok, err := s.db.Queries().ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Finalize stores the response of a reserved request.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.db.Queries().FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: status,
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := recordFromRow(row)
	s.toCache(ctx, rec)
	return rec, nil
}

// Release forgets an unfinished reservation so a retry runs the request again.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if err := s.db.Queries().ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the request holding key finishes or ctx ends.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordFromRow(row *models.IdempotencyKey) *Record {
	return &Record{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Status:      row.ResponseStatus,
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    "store",
	}
}

func (s *Store) fromCache(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("idempotency cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		zap.L().Warn("idempotency cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	rec.ServedBy = "redis"
	return &rec, true
}

func (s *Store) toCache(ctx context.Context, rec *Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("idempotency cache encode failed", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, cachePrefix+rec.Key, payload, s.ttl).Err(); err != nil {
		zap.L().Warn("idempotency cache write failed", zap.Error(err))
	}
}
