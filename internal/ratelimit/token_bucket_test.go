package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // 1 token at 5/s.
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one token to have refilled")
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ClockGoingBackwardsDoesNotRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)
	b.Allow(1)

	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("expected no refill when time goes backwards")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill after re-anchoring")
	}
}

func TestNewPerSecond_DisabledAllowsEverything(t *testing.T) {
	b := NewPerSecond(nil, 0)
	if b != nil {
		t.Fatalf("expected nil bucket")
	}
	for i := 0; i < 1000; i++ {
		if !b.Allow(1) {
			t.Fatalf("nil bucket rejected event %d", i)
		}
	}
}
