// Package ratelimit provides a deterministic token bucket used to bound how
// many frames a single signaling connection may push through the relay.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) up to its capacity.
// Balances are tracked in nanotokens (1 token = 1e9) so a rate of X tokens/sec
// adds exactly X nanotokens per elapsed nanosecond.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nanotokens
	rate     int64 // tokens/sec == nanotokens/ns
	balance  int64 // nanotokens
	last     time.Time
}

const nanoPerToken = int64(time.Second)

// NewTokenBucket returns a full bucket. A nil clock uses wall time.
func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	if tokensPerSecond < 0 {
		tokensPerSecond = 0
	}
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     tokensPerSecond,
		balance:  capacity,
		last:     clock.Now(),
	}
}

// NewPerSecond returns a bucket allowing bursts of perSecond events and a
// sustained rate of perSecond events per second. perSecond <= 0 disables
// limiting and returns nil; a nil bucket allows everything.
func NewPerSecond(clock Clock, perSecond int) *TokenBucket {
	if perSecond <= 0 {
		return nil
	}
	return NewTokenBucket(clock, int64(perSecond), int64(perSecond))
}

// Allow consumes tokens if the balance covers them. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.balance < cost {
		return false
	}
	b.balance -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		// Clock went backwards or did not move; re-anchor without refilling.
		b.last = now
		return
	}
	b.last = now
	if b.rate == 0 || b.balance >= b.capacity {
		return
	}
	// Compare against the time needed to fill instead of multiplying first so
	// long idle periods cannot overflow.
	missing := b.capacity - b.balance
	if int64(elapsed) >= missing/b.rate {
		b.balance = b.capacity
		return
	}
	b.balance += int64(elapsed) * b.rate
	if b.balance > b.capacity {
		b.balance = b.capacity
	}
}

func toNano(tokens int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
