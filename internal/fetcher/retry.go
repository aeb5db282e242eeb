package fetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// RetryPolicy retries transient fetch failures with jittered exponential
// backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy allows maxRetries attempts after the first one.
func NewRetryPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: max(maxRetries, 0) + 1,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
		sleep:       sleepWithContext,
	}
}

type temporary interface {
	Temporary() bool
}

// ShouldRetry decides whether the error is retryable. attempt counts the
// attempts made so far.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || p == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, renec.ErrNotFound) {
		return false
	}
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// withRetry runs fn until it succeeds, fails permanently or p gives up.
func withRetry[T any](
	ctx context.Context,
	p *RetryPolicy,
	logger *zap.Logger,
	op string,
	fn func(context.Context) (T, error),
) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if !p.ShouldRetry(err, attempt) {
			return v, err
		}
		wait := p.Backoff(attempt - 1)
		logger.Debug("retrying fetch",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			var zero T
			return zero, serr
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
