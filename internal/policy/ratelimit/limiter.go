// Package ratelimit paces outbound fetches with a token bucket shared by
// every worker.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config holds pacing configuration. A zero Delay disables pacing.
type Config struct {
	Delay time.Duration
}

// Limiter enforces a minimum interval between fetch starts.
type Limiter struct {
	limiter *rate.Limiter
	waited  atomic.Int64
}

// New creates a Limiter that admits one fetch per cfg.Delay with burst 1.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Limiter{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next fetch may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	l.waited.Add(int64(time.Since(start)))
	return nil
}

// Waited reports the cumulative time spent blocked in Wait.
func (l *Limiter) Waited() time.Duration {
	return time.Duration(l.waited.Load())
}
