// Package ratelimit paces outbound webhook calls shared across senders.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket that hands out reservations. A caller that finds
// the bucket empty borrows against future refill and sleeps the deficit, so
// concurrent waiters queue in arrival order instead of polling.
type Limiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    float64
	tokens   float64 // negative while reservations are outstanding
	refilled time.Time
}

// New creates a limiter allowing rps requests per second. The bucket holds at
// least one token so rates below 1/s still make progress; rps <= 0 means 1/s.
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	burst := max(rps, 1)
	return &Limiter{
		rate:     rps,
		burst:    burst,
		tokens:   burst,
		refilled: time.Now(),
	}
}

// reserve takes one token and returns how long the caller must wait before using it
func (l *Limiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = min(l.tokens+now.Sub(l.refilled).Seconds()*l.rate, l.burst)
	l.refilled = now
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

// release returns an unused reservation
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = min(l.tokens+1, l.burst)
}

// Wait blocks until a request may proceed or ctx is done. A cancelled wait
// gives its reservation back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := l.reserve(time.Now())
	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release()
		return ctx.Err()
	}
}
