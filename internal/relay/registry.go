package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/shek-hrd/dateherenow/internal/signaling"
)

// Sink receives events for one participant. Deliver must not block and must
// not call back into the Registry; it reports whether the event was accepted.
type Sink interface {
	Deliver(ev signaling.ServerEvent) bool
}

type SinkFunc func(ev signaling.ServerEvent) bool

func (f SinkFunc) Deliver(ev signaling.ServerEvent) bool { return f(ev) }

type member struct {
	sink Sink
	seq  uint64
}

// Registry maps participant identifiers to their sinks.
//
// Join and Leave hold the write lock while they notify, and Forward holds the
// read lock while it delivers, so a forward racing a leave for the same target
// either lands before the entry is removed or finds it gone.
type Registry struct {
	maxParticipants int

	mu      sync.RWMutex
	nextSeq uint64
	members map[string]*member
}

// NewRegistry returns an empty registry. maxParticipants <= 0 is unlimited.
func NewRegistry(maxParticipants int) *Registry {
	return &Registry{
		maxParticipants: maxParticipants,
		members:         make(map[string]*member),
	}
}

// Join registers id. The newcomer receives the presence list of everyone
// already joined (in join order) and every existing participant receives a
// peer-joined for id.
func (r *Registry) Join(id string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
	}
	if r.maxParticipants > 0 && len(r.members) >= r.maxParticipants {
		return ErrTooManyParticipants
	}

	others := r.orderedLocked()
	sink.Deliver(signaling.PresenceList(others))

	joined := signaling.PeerJoined(id)
	for _, other := range others {
		r.members[other].sink.Deliver(joined)
	}

	r.nextSeq++
	r.members[id] = &member{sink: sink, seq: r.nextSeq}
	return nil
}

// Forward delivers payload to `to`, tagged with `from`. The payload is never
// inspected.
func (r *Registry) Forward(from, to string, payload json.RawMessage) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[to]
	if !ok {
		return ErrUnreachablePeer
	}
	if !m.sink.Deliver(signaling.Signal(from, payload)) {
		return ErrUnreachablePeer
	}
	return nil
}

// Leave removes id and announces the departure to everyone remaining. It
// reports whether id was registered.
func (r *Registry) Leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)

	left := signaling.PeerLeft(id)
	for _, m := range r.members {
		m.sink.Deliver(left)
	}
	return true
}

// Participants returns the registered identifiers in join order.
func (r *Registry) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Registry) orderedLocked() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.members[ids[i]].seq < r.members[ids[j]].seq
	})
	return ids
}
