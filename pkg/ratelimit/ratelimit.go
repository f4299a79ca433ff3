// Package ratelimit implements a fixed-window request counter backed by a
// TTL counter store. Bursts across window boundaries are accepted imprecision.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Decision reports the outcome of a limiter check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// CounterStore is the external counter capability the limiter relies on.
type CounterStore interface {
	// Incr atomically increments the counter at key, setting expiry to ttl
	// when the key is created, and returns the new value and remaining TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
}

// Limiter caps requests per subject key inside a fixed window.
type Limiter struct {
	store   CounterStore
	logger  *zap.Logger
	timeout time.Duration
}

// New builds a Limiter over the provided counter store.
func New(store CounterStore, logger *zap.Logger, storeTimeout time.Duration) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	return &Limiter{store: store, logger: logger, timeout: storeTimeout}
}

// Allow checks whether the subject may proceed. A store failure fails open:
// the request is allowed and a degraded-mode event is logged, so a counter
// outage never turns into a full-service denial.
func (l *Limiter) Allow(ctx context.Context, subjectKey string, cap int, window time.Duration) Decision {
	if cap <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	count, ttl, err := l.store.Incr(ctx, "ratelimit:"+subjectKey, window)
	if err != nil {
		l.logger.Warn("rate limiter degraded, failing open",
			zap.String("subject", subjectKey),
			zap.Error(err),
		)
		return Decision{Allowed: true, Remaining: -1}
	}

	if ttl <= 0 {
		ttl = window
	}
	resetAt := time.Now().Add(ttl)

	remaining := cap - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(cap),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
