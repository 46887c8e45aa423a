// Package ratelimit throttles ingestion per source using fixed windows
// counted in the store, so limits hold across multiple API instances.
package ratelimit

import (
	"context"
	"time"

	"github.com/ibimina/saccopay/internal/storage"
)

// Limiter answers whether one more hit on a bucket is allowed.
type Limiter struct {
	store  storage.RateLimitStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// New builds a limiter allowing at most limit hits per window per bucket.
func New(store storage.RateLimitStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

// Allow counts one hit against the bucket's current window and reports
// whether the hit is within the limit. Counting errors fail open so a store
// hiccup does not drop inbound payment messages.
func (l *Limiter) Allow(ctx context.Context, bucket string) (bool, error) {
	windowStart := l.now().Truncate(l.window)
	hits, err := l.store.IncrementBucket(ctx, bucket, windowStart)
	if err != nil {
		return true, err
	}
	return hits <= l.limit, nil
}
