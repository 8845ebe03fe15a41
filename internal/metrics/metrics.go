// Package metrics counts relay events and exposes them for scraping.
package metrics

import "sync"

// Relay event names.
const (
	ParticipantJoined   = "participant_joined"
	ParticipantLeft     = "participant_left"
	SignalForwarded     = "signal_forwarded"
	SignalUnreachable   = "signal_unreachable"
	BadMessage          = "bad_message"
	RateLimited         = "rate_limited"
	SendQueueOverflow   = "send_queue_overflow"
	TooManyParticipants = "too_many_participants"
)

// Metrics is a concurrency-safe set of named counters. A nil *Metrics
// discards everything so callers never need to guard.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
