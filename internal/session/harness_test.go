package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/relay"
	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/transport"
	"github.com/shek-hrd/dateherenow/internal/transport/memtransport"
)

const waitTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// mailbox is an unbounded relay sink that feeds a Registry from its own
// goroutine, so relay locks are never held while a client loop is busy.
type mailbox struct {
	mu     sync.Mutex
	queue  []signaling.ServerEvent
	notify chan struct{}
	closed bool
}

func newMailbox(target *Registry) *mailbox {
	m := &mailbox{notify: make(chan struct{}, 1)}
	go func() {
		for range m.notify {
			for {
				m.mu.Lock()
				if len(m.queue) == 0 {
					m.mu.Unlock()
					break
				}
				ev := m.queue[0]
				m.queue = m.queue[1:]
				m.mu.Unlock()
				if !target.HandleRelayEvent(ev) {
					return
				}
			}
		}
	}()
	return m
}

func (m *mailbox) Deliver(ev signaling.ServerEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, ev)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notify)
	}
}

// relaySignaler sends through an in-process relay registry.
type relaySignaler struct {
	from  string
	relay *relay.Registry
}

func (s relaySignaler) SendSignal(to string, payload json.RawMessage) error {
	return s.relay.Forward(s.from, to, payload)
}

// recordingObserver keeps every notification for assertions.
type recordingObserver struct {
	mu         sync.Mutex
	discovered []string
	opened     []string
	profiles   map[string]profile.Profile
	matched    []string
	chats      []ChatEntry
	closed     map[string][]error
	stats      map[string]transport.Stats
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		profiles: make(map[string]profile.Profile),
		closed:   make(map[string][]error),
		stats:    make(map[string]transport.Stats),
	}
}

func (o *recordingObserver) PeerDiscovered(peer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discovered = append(o.discovered, peer)
}

func (o *recordingObserver) SessionOpened(peer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, peer)
}

func (o *recordingObserver) ProfileReceived(peer string, p profile.Profile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profiles[peer] = p
}

func (o *recordingObserver) Matched(peer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matched = append(o.matched, peer)
}

func (o *recordingObserver) ChatReceived(peer string, e ChatEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chats = append(o.chats, e)
}

func (o *recordingObserver) SessionClosed(peer string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed[peer] = append(o.closed[peer], err)
}

func (o *recordingObserver) StatsUpdated(peer string, s transport.Stats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats[peer] = s
}

func (o *recordingObserver) matchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.matched)
}

func (o *recordingObserver) profile(peer string) (profile.Profile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.profiles[peer]
	return p, ok
}

func (o *recordingObserver) closedWith(peer string, target error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, err := range o.closed[peer] {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (o *recordingObserver) chatCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chats)
}

type harness struct {
	t     *testing.T
	relay *relay.Registry
	net   *memtransport.Network
}

func newHarness(t *testing.T, opts memtransport.Options) *harness {
	return &harness{t: t, relay: relay.NewRegistry(0), net: memtransport.NewNetwork(opts)}
}

type testClient struct {
	id       string
	reg      *Registry
	obs      *recordingObserver
	box      *mailbox
	h        *harness
	cancel   context.CancelFunc
	runDone  chan struct{}
	profile  profile.Profile
	leftOnce sync.Once
}

type clientOption func(*Config)

// join starts a Registry for id and registers it with the relay the way the
// relay server does: welcome first, then the presence snapshot.
func (h *harness) join(id string, opts ...clientOption) *testClient {
	h.t.Helper()
	obs := newRecordingObserver()
	p := profile.Profile{Name: "user-" + id, Bio: "hello from " + id, Location: &profile.Coordinate{Lat: 1, Lon: float64(len(id))}}
	cfg := Config{
		Local:    p,
		Codec:    peerproto.JSON(),
		Factory:  h.net.Factory(id),
		Signaler: relaySignaler{from: id, relay: h.relay},
		Observer: obs,
		Logger:   testLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	reg := NewRegistry(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	c := &testClient{id: id, reg: reg, obs: obs, h: h, cancel: cancel, runDone: make(chan struct{}), profile: p}
	go func() {
		defer close(c.runDone)
		_ = reg.Run(ctx)
	}()
	h.t.Cleanup(c.stop)

	c.box = newMailbox(reg)
	c.box.Deliver(signaling.Welcome(id))
	if err := h.relay.Join(id, c.box); err != nil {
		h.t.Fatalf("join %s: %v", id, err)
	}
	return c
}

func (c *testClient) leave() {
	c.leftOnce.Do(func() {
		c.h.relay.Leave(c.id)
		c.box.close()
	})
}

func (c *testClient) stop() {
	c.leave()
	c.cancel()
	<-c.runDone
}

func (c *testClient) peer(t *testing.T, id string) (PeerInfo, bool) {
	t.Helper()
	peers, err := c.reg.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	for _, p := range peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerInfo{}, false
}

func (c *testClient) waitState(t *testing.T, id string, want State) PeerInfo {
	t.Helper()
	var info PeerInfo
	eventually(t, c.id+" sees "+id+" "+string(want), func() bool {
		var ok bool
		info, ok = c.peer(t, id)
		return ok && info.State == want
	})
	return info
}

func (c *testClient) waitGone(t *testing.T, id string) {
	t.Helper()
	eventually(t, c.id+" drops "+id, func() bool {
		_, ok := c.peer(t, id)
		return !ok
	})
}
