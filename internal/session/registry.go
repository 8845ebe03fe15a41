package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultProfileWait      = 2 * time.Second
	eventQueueSize          = 256
)

// Signaler sends an opaque handshake payload to one participant through the
// relay. It must not block.
type Signaler interface {
	SendSignal(to string, payload json.RawMessage) error
}

type Config struct {
	Local    profile.Profile
	Codec    peerproto.Codec
	Factory  transport.Factory
	Signaler Signaler
	Observer Observer
	Logger   *slog.Logger

	// HandshakeTimeout bounds how long a session may stay short of Open.
	HandshakeTimeout time.Duration
	// ProfileWait is how long an open responder waits for the initiator's
	// profile before sending its own unprompted.
	ProfileWait time.Duration
	// StatsInterval is the latency polling period. Zero disables polling.
	StatsInterval time.Duration
	// MaxMessageBytes caps encoded application messages. Zero disables it.
	MaxMessageBytes int
}

// Registry maps participant identifiers to Sessions for one client process.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	events    chan event
	stopped   chan struct{}
	startedMu sync.Mutex
	started   bool

	// Loop-owned state.
	self     string
	local    profile.Profile
	known    map[string]bool
	sessions map[string]*Session
	chats    chatLog
	active   string
	nextGen  uint64
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Codec == nil {
		cfg.Codec = peerproto.JSON()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ProfileWait <= 0 {
		cfg.ProfileWait = defaultProfileWait
	}
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		events:   make(chan event, eventQueueSize),
		stopped:  make(chan struct{}),
		local:    cfg.Local.Clone(),
		known:    make(map[string]bool),
		sessions: make(map[string]*Session),
		chats:    make(chatLog),
	}
}

// Run processes events until ctx is done, then closes every session with
// ErrShutdown. It may be called once.
func (r *Registry) Run(ctx context.Context) error {
	r.startedMu.Lock()
	if r.started {
		r.startedMu.Unlock()
		return fmt.Errorf("session: registry already running")
	}
	r.started = true
	r.startedMu.Unlock()

	defer close(r.stopped)

	if r.cfg.StatsInterval > 0 {
		go r.pollStats(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			r.closeAll(ErrShutdown)
			return nil
		case ev := <-r.events:
			ev.apply(r)
		}
	}
}

// post queues ev for the loop. It reports false once the loop has stopped.
func (r *Registry) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.stopped:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (r *Registry) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ev := funcEvent(func(*Registry) {
		fn()
		close(done)
	})
	select {
	case r.events <- ev:
	case <-r.stopped:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRelayEvent feeds one relay notification into the loop.
func (r *Registry) HandleRelayEvent(ev signaling.ServerEvent) bool {
	return r.post(relayEvent{ev: ev})
}

// RelayLost closes every session; peers must be rediscovered after the relay
// connection is re-established.
func (r *Registry) RelayLost() bool {
	return r.post(funcEvent(func(r *Registry) {
		r.closeAll(ErrRelayLost)
		r.known = make(map[string]bool)
		r.self = ""
	}))
}

// Self returns the identifier the relay assigned to this participant.
func (r *Registry) Self(ctx context.Context) (string, error) {
	var self string
	err := r.call(ctx, func() { self = r.self })
	return self, err
}

// Like sends a like to peer. Repeated calls are no-ops.
func (r *Registry) Like(ctx context.Context, peer string) error {
	var out error
	err := r.call(ctx, func() {
		s, err := r.openSession(peer)
		if err != nil {
			out = err
			return
		}
		if s.likes.LikedByMe {
			return
		}
		if err := r.send(s, peerproto.LikeMessage()); err != nil {
			out = err
			return
		}
		s.likes.LikedByMe = true
		r.checkMatch(s)
	})
	if err != nil {
		return err
	}
	return out
}

// SendChat sends text to peer and records it in the conversation.
func (r *Registry) SendChat(ctx context.Context, peer, text string) error {
	var out error
	err := r.call(ctx, func() {
		s, err := r.openSession(peer)
		if err != nil {
			out = err
			return
		}
		if err := r.send(s, peerproto.ChatMessage(text)); err != nil {
			out = err
			return
		}
		r.chats.append(peer, ChatEntry{From: r.self, Text: text, At: time.Now()})
	})
	if err != nil {
		return err
	}
	return out
}

// SetActive selects the conversation whose inbound chat is surfaced through
// Observer.ChatReceived. An empty peer clears it.
func (r *Registry) SetActive(ctx context.Context, peer string) error {
	return r.call(ctx, func() { r.active = peer })
}

func (r *Registry) ChatHistory(ctx context.Context, peer string) ([]ChatEntry, error) {
	var out []ChatEntry
	err := r.call(ctx, func() { out = r.chats.history(peer) })
	return out, err
}

// UpdateProfile replaces the local profile and re-announces it on every open
// session.
func (r *Registry) UpdateProfile(ctx context.Context, p profile.Profile) error {
	return r.call(ctx, func() {
		r.local = p.Clone()
		for _, s := range r.sessions {
			if s.state != StateOpen {
				continue
			}
			r.sendProfile(s)
		}
	})
}

// Connect starts a handshake towards a known peer that has no live session,
// e.g. after a timeout. It is a no-op when a session exists.
func (r *Registry) Connect(ctx context.Context, peer string) error {
	var out error
	err := r.call(ctx, func() {
		if !r.known[peer] {
			out = fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
			return
		}
		if _, ok := r.sessions[peer]; ok {
			return
		}
		s, err := r.newSession(peer)
		if err != nil {
			out = err
			return
		}
		r.initiate(s)
	})
	if err != nil {
		return err
	}
	return out
}

// Peers returns a snapshot of every live session ordered by identifier.
func (r *Registry) Peers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	err := r.call(ctx, func() { out = r.snapshot() })
	return out, err
}

// RankedByDistance returns Peers ordered by distance from the local profile's
// location.
func (r *Registry) RankedByDistance(ctx context.Context) ([]RankedPeer, error) {
	var (
		origin *profile.Coordinate
		peers  []PeerInfo
	)
	err := r.call(ctx, func() {
		if r.local.Location != nil {
			loc := *r.local.Location
			origin = &loc
		}
		peers = r.snapshot()
	})
	if err != nil {
		return nil, err
	}
	return Rank(origin, peers), nil
}

func (r *Registry) snapshot() []PeerInfo {
	out := make([]PeerInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) openSession(peer string) (*Session, error) {
	s, ok := r.sessions[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if s.state != StateOpen || s.ch == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotOpen, peer, s.state)
	}
	return s, nil
}

func (r *Registry) handleRelay(ev signaling.ServerEvent) {
	switch ev.Type {
	case signaling.EventWelcome:
		r.self = ev.ID
		r.logger.Info("joined relay", "self", ev.ID)
	case signaling.EventPresenceList:
		// Whoever learns of a peer from the presence list initiates.
		for _, peer := range ev.Peers {
			if peer == r.self || !r.discover(peer) {
				continue
			}
			if _, ok := r.sessions[peer]; ok {
				continue
			}
			s, err := r.newSession(peer)
			if err != nil {
				r.logger.Error("create session", "peer", peer, "err", err)
				continue
			}
			r.initiate(s)
		}
	case signaling.EventPeerJoined:
		if ev.ID == r.self || !r.discover(ev.ID) {
			return
		}
		if _, ok := r.sessions[ev.ID]; ok {
			return
		}
		// The newcomer initiates; wait for its offer.
		if _, err := r.newSession(ev.ID); err != nil {
			r.logger.Error("create session", "peer", ev.ID, "err", err)
		}
	case signaling.EventPeerLeft:
		delete(r.known, ev.ID)
		if s, ok := r.sessions[ev.ID]; ok {
			r.closeSession(s, ErrPeerLeft)
		}
	case signaling.EventSignal:
		h, err := signaling.ParseHandshake(ev.Signal)
		if err != nil {
			r.logger.Warn("discarding signal", "peer", ev.From, "err", err)
			return
		}
		r.handleHandshake(ev.From, h)
	case signaling.EventError:
		r.logger.Warn("relay error", "code", ev.Code, "message", ev.Message)
	}
}

// discover records peer as present and reports whether it is still known.
func (r *Registry) discover(peer string) bool {
	if peer == "" {
		return false
	}
	if !r.known[peer] {
		r.known[peer] = true
		r.cfg.Observer.PeerDiscovered(peer)
	}
	return true
}

func (r *Registry) newSession(peer string) (*Session, error) {
	s := &Session{
		peer:         peer,
		state:        StateNew,
		codec:        r.cfg.Codec,
		connectivity: transport.StateConnecting,
	}
	if err := r.attachTransport(s); err != nil {
		return nil, err
	}
	r.sessions[peer] = s
	r.logger.Debug("session created", "peer", peer)
	return s, nil
}

// attachTransport gives s a fresh transport and generation and restarts its
// handshake deadline.
func (r *Registry) attachTransport(s *Session) error {
	tr, err := r.cfg.Factory(s.peer)
	if err != nil {
		return fmt.Errorf("%w: new transport: %v", ErrTransportFailure, err)
	}
	r.nextGen++
	s.gen = r.nextGen
	s.tr = tr
	s.ch = nil
	s.busy, s.localSent, s.paired = false, false, false
	s.localCands, s.remoteCands = nil, nil

	peer, gen := s.peer, s.gen
	tr.OnLocalCandidate(func(c transport.Candidate) {
		r.post(localCandidateEvent{peer: peer, gen: gen, c: c})
	})
	tr.OnConnectivityChange(func(state transport.ConnectivityState) {
		r.post(connectivityEvent{peer: peer, gen: gen, state: state})
	})
	tr.OnChannelOffered(func(ch transport.Channel) {
		r.post(channelOfferedEvent{peer: peer, gen: gen, ch: ch})
		r.bindChannel(ch, peer, gen)
	})

	r.armHandshakeTimer(s)
	return nil
}

func (r *Registry) armHandshakeTimer(s *Session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	peer, gen := s.peer, s.gen
	s.timer = time.AfterFunc(r.cfg.HandshakeTimeout, func() {
		r.post(timeoutEvent{peer: peer, gen: gen})
	})
}

// bindChannel forwards channel callbacks into the loop. It runs on the
// goroutine that obtained ch, before the channel can open.
func (r *Registry) bindChannel(ch transport.Channel, peer string, gen uint64) {
	ch.OnOpen(func() {
		r.post(channelOpenEvent{peer: peer, gen: gen, ch: ch})
	})
	ch.OnMessage(func(data []byte) {
		r.post(channelMessageEvent{peer: peer, gen: gen, ch: ch, data: data})
	})
	ch.OnClose(func() {
		r.post(channelClosedEvent{peer: peer, gen: gen})
	})
}

func (r *Registry) lookup(peer string, gen uint64) *Session {
	s, ok := r.sessions[peer]
	if !ok || s.gen != gen {
		return nil
	}
	return s
}

func (r *Registry) closeAll(err error) {
	for _, s := range r.sessions {
		r.closeSession(s, err)
	}
}

// closeSession moves s to Closed and releases its transport. The chat log
// for the peer is kept.
func (r *Registry) closeSession(s *Session, err error) {
	if s.state == StateClosed {
		return
	}
	prev := s.state
	s.state = StateClosed
	s.remoteProfile = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.profileTimer != nil {
		s.profileTimer.Stop()
	}
	if cur, ok := r.sessions[s.peer]; ok && cur == s {
		delete(r.sessions, s.peer)
	}
	closeTransport(s.tr)
	s.tr, s.ch = nil, nil

	level := slog.LevelInfo
	if prev != StateOpen {
		level = slog.LevelDebug
	}
	r.logger.Log(context.Background(), level, "session closed", "peer", s.peer, "from", prev, "err", err)
	r.cfg.Observer.SessionClosed(s.peer, err)
}

// closeTransport closes off the loop; transports may call back while
// closing.
func closeTransport(tr transport.Transport) {
	if tr == nil {
		return
	}
	go func() { _ = tr.Close() }()
}

func (r *Registry) pollStats(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	type target struct {
		peer string
		gen  uint64
		tr   transport.Transport
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var targets []target
		if err := r.call(ctx, func() {
			for _, s := range r.sessions {
				if s.state == StateOpen && s.tr != nil {
					targets = append(targets, target{peer: s.peer, gen: s.gen, tr: s.tr})
				}
			}
		}); err != nil {
			return
		}
		for _, t := range targets {
			st, err := t.tr.Stats()
			if err != nil {
				r.logger.Debug("stats failed", "peer", t.peer, "err", err)
				continue
			}
			r.post(statsEvent{peer: t.peer, gen: t.gen, stats: st})
		}
	}
}
