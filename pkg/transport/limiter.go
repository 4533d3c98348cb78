package transport

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more request fits the current window. When it
// refuses, retryAfter is the suggested wait.
type Limiter interface {
	Allow(ctx context.Context, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// WindowLimiter is an in-process sliding window over request timestamps.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window}
}

func (l *WindowLimiter) Allow(_ context.Context, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) >= l.limit {
		return false, l.window - now.Sub(l.stamps[0]), nil
	}
	l.stamps = append(l.stamps, now)
	return true, 0, nil
}
