package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterBurst(t *testing.T) {
	tests := []struct {
		name  string
		rps   float64
		burst int
	}{
		{"sub-second rate still has one token", 0.5, 1},
		{"whole rate", 3, 3},
		{"non-positive falls back to one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rps)
			now := l.refilled
			for i := 0; i < tt.burst; i++ {
				if wait := l.reserve(now); wait != 0 {
					t.Fatalf("token %d: wait = %v, want 0", i, wait)
				}
			}
			if wait := l.reserve(now); wait <= 0 {
				t.Errorf("wait = %v, want positive once the burst is spent", wait)
			}
		})
	}
}

func TestReservationsQueue(t *testing.T) {
	l := New(2)
	now := l.refilled
	l.reserve(now)
	l.reserve(now)

	first := l.reserve(now)
	second := l.reserve(now)
	if first != 500*time.Millisecond {
		t.Errorf("first wait = %v, want 500ms", first)
	}
	if second != time.Second {
		t.Errorf("second wait = %v, want 1s", second)
	}

	// a second of refill pays back both reservations
	if wait := l.reserve(now.Add(time.Second)); wait != 500*time.Millisecond {
		t.Errorf("wait after refill = %v, want 500ms", wait)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(0.01)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}

	// the cancelled reservation was returned
	if l.tokens < -0.01 {
		t.Errorf("tokens = %v, want the reservation released", l.tokens)
	}
}
