package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/util"

	"go.uber.org/zap"
)

var errCacheDisabled = errors.New("cache disabled")

// RetryPolicy bounds how often a transient failure is retried
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy retries a transaction three times starting at 20ms
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Backoff: 20 * time.Millisecond}

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// the retries are used up. Backoff doubles per attempt with jitter.
func withRetry(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !apperr.IsTransient(err) || attempt >= policy.MaxRetries {
			return err
		}

		util.TxRetriesTotal.WithLabelValues(op).Inc()
		wait := policy.Backoff << attempt
		if wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		util.GetLogger().Warn("Retrying transaction",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}
