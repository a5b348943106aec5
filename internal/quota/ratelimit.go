package quota

import (
	"context"
	"fmt"
	"time"
)

// Counter is the shared counter store: one atomic increment per call.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID uint64) (bool, error)
}

// WindowLimiter allows at most Max requests per user in each fixed Window.
type WindowLimiter struct {
	counter Counter
	max     int64
	window  time.Duration
}

func NewWindowLimiter(counter Counter, max int64, window time.Duration) *WindowLimiter {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &WindowLimiter{counter: counter, max: max, window: window}
}

func RateLimitKey(userID uint64) string {
	return fmt.Sprintf("ratelimit:chat:%d", userID)
}

func (l *WindowLimiter) Allow(ctx context.Context, userID uint64) (bool, error) {
	n, err := l.counter.IncrWindow(ctx, RateLimitKey(userID), l.window)
	if err != nil {
		return false, err
	}
	return n <= l.max, nil
}
