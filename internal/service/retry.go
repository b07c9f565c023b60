package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a scope is re-run after a transient store conflict.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// withRetry re-runs fn while it fails with domain.ErrStoreConflict. Business errors are returned
// as they are; an exhausted budget becomes domain.ErrOperationAborted.
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrStoreConflict) {
			observability.IncrementStoreRetry(op)
			zap.L().Debug("store conflict, retrying", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreConflict) {
		return fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrOperationAborted, op, attempt, err)
	}
	return err
}
