// Package memtransport is an in-process implementation of transport.Transport.
//
// A Network links transports by the token carried inside the offer, so two
// sessions that exchange descriptions through any signaling path end up
// paired exactly like real peers. A pair connects once both descriptions are
// applied and each side has applied at least one remote candidate, which makes
// lost candidates observable as a connection that never comes up.
package memtransport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shek-hrd/dateherenow/internal/transport"
)

const (
	offerPrefix  = "mem-offer:"
	answerPrefix = "mem-answer:"
)

type Options struct {
	// Strict rejects candidates that arrive before the remote description
	// with transport.ErrInvalidState instead of queueing them.
	Strict bool
	// RoundTripTime is reported by Stats once connected.
	RoundTripTime time.Duration
	// RouteKind is reported by Stats once connected. Defaults to
	// transport.RouteDirectLocal.
	RouteKind transport.RouteKind
}

// Network is a set of transports that can reach each other.
type Network struct {
	opts Options

	mu         sync.Mutex
	nextToken  int
	nextCand   int
	offers     map[string]*Transport
	transports []*Transport
}

func NewNetwork(opts Options) *Network {
	if opts.RouteKind == "" {
		opts.RouteKind = transport.RouteDirectLocal
	}
	return &Network{opts: opts, offers: make(map[string]*Transport)}
}

// Factory returns a transport factory for the participant named local. The
// name only labels transports for Find.
func (n *Network) Factory(local string) transport.Factory {
	return func(peerID string) (transport.Transport, error) {
		return n.newTransport(local, peerID), nil
	}
}

// Find returns every transport local created towards remote, oldest first.
func (n *Network) Find(local, remote string) []*Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Transport
	for _, t := range n.transports {
		if t.local == local && t.remote == remote {
			out = append(out, t)
		}
	}
	return out
}

func (n *Network) newTransport(local, remote string) *Transport {
	t := &Transport{
		net:    n,
		local:  local,
		remote: remote,
		exec:   newExecutor(),
	}
	n.mu.Lock()
	n.transports = append(n.transports, t)
	n.mu.Unlock()
	return t
}

type role int

const (
	roleNone role = iota
	roleInitiator
	roleResponder
)

// Transport is one end of an in-memory peer connection. All mutable state is
// guarded by the owning Network's mutex; callbacks run on the transport's own
// executor in the order they were produced.
type Transport struct {
	net    *Network
	local  string
	remote string
	exec   *executor

	role       role
	token      string
	localDesc  *transport.Description
	remoteDesc *transport.Description
	peer       *Transport
	pending    []transport.Candidate
	applied    []transport.Candidate
	state      transport.ConnectivityState
	ch         *Channel
	closed     bool

	onCandidate func(transport.Candidate)
	onOffered   func(transport.Channel)
	onState     func(transport.ConnectivityState)
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) BeginAsInitiator() (transport.Description, error) {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.closed || t.localDesc != nil {
		return transport.Description{}, transport.ErrInvalidState
	}
	n.nextToken++
	t.token = fmt.Sprintf("%d", n.nextToken)
	n.offers[t.token] = t
	t.role = roleInitiator
	desc := transport.Description{Type: transport.DescriptionOffer, SDP: offerPrefix + t.token}
	t.localDesc = &desc
	t.setStateLocked(transport.StateConnecting)
	t.emitCandidateLocked()
	return desc, nil
}

func (t *Transport) BeginAsResponder(offer transport.Description) (transport.Description, error) {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.closed || t.localDesc != nil {
		return transport.Description{}, transport.ErrInvalidState
	}
	if offer.Type != transport.DescriptionOffer || !strings.HasPrefix(offer.SDP, offerPrefix) {
		return transport.Description{}, errors.New("memtransport: not an offer")
	}
	token := strings.TrimPrefix(offer.SDP, offerPrefix)
	initiator, ok := n.offers[token]
	if !ok || initiator.closed {
		return transport.Description{}, fmt.Errorf("memtransport: unknown offer %q", token)
	}
	delete(n.offers, token)

	t.role = roleResponder
	t.token = token
	t.peer = initiator
	initiator.peer = t
	remote := offer
	t.remoteDesc = &remote
	desc := transport.Description{Type: transport.DescriptionAnswer, SDP: answerPrefix + token}
	t.localDesc = &desc
	t.setStateLocked(transport.StateConnecting)
	t.flushPendingLocked()
	t.emitCandidateLocked()
	n.maybeConnectLocked(t)
	return desc, nil
}

func (t *Transport) SupplyRemoteHandshake(answer transport.Description) error {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.closed || t.localDesc == nil || t.role != roleInitiator || t.remoteDesc != nil {
		return transport.ErrInvalidState
	}
	if answer.Type != transport.DescriptionAnswer || answer.SDP != answerPrefix+t.token {
		return fmt.Errorf("memtransport: answer does not match offer %q", t.token)
	}
	remote := answer
	t.remoteDesc = &remote
	t.flushPendingLocked()
	n.maybeConnectLocked(t)
	return nil
}

func (t *Transport) SupplyCandidate(c transport.Candidate) error {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.closed {
		return transport.ErrInvalidState
	}
	if t.remoteDesc == nil {
		if n.opts.Strict {
			return transport.ErrInvalidState
		}
		t.pending = append(t.pending, c)
		return nil
	}
	t.applied = append(t.applied, c)
	n.maybeConnectLocked(t)
	return nil
}

func (t *Transport) OpenChannel(protocol string) (transport.Channel, error) {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.closed || t.ch != nil || t.role == roleResponder {
		return nil, transport.ErrInvalidState
	}
	t.ch = &Channel{owner: t, protocol: protocol}
	return t.ch, nil
}

func (t *Transport) OnChannelOffered(fn func(transport.Channel)) {
	t.net.mu.Lock()
	t.onOffered = fn
	t.net.mu.Unlock()
}

func (t *Transport) OnLocalCandidate(fn func(transport.Candidate)) {
	t.net.mu.Lock()
	t.onCandidate = fn
	t.net.mu.Unlock()
}

func (t *Transport) OnConnectivityChange(fn func(transport.ConnectivityState)) {
	t.net.mu.Lock()
	t.onState = fn
	t.net.mu.Unlock()
}

func (t *Transport) Stats() (transport.Stats, error) {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if t.state != transport.StateConnected {
		return transport.Stats{RouteKind: transport.RouteUnknown}, nil
	}
	return transport.Stats{RoundTripTime: n.opts.RoundTripTime, RouteKind: n.opts.RouteKind}, nil
}

// Close tears down this end. The remote end observes a disconnect and its
// channel closes.
func (t *Transport) Close() error {
	n := t.net
	n.mu.Lock()
	if t.closed {
		n.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.token != "" && n.offers[t.token] == t {
		delete(n.offers, t.token)
	}
	t.setStateLocked(transport.StateClosed)
	if t.ch != nil {
		t.ch.closeLocked()
	}
	if p := t.peer; p != nil && !p.closed {
		p.setStateLocked(transport.StateDisconnected)
		if p.ch != nil {
			p.ch.closeLocked()
		}
	}
	n.mu.Unlock()
	t.exec.stop()
	return nil
}

// Fail simulates a permanent connectivity failure on both ends.
func (t *Transport) Fail() {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, end := range []*Transport{t, t.peer} {
		if end == nil || end.closed {
			continue
		}
		end.setStateLocked(transport.StateFailed)
		if end.ch != nil {
			end.ch.closeLocked()
		}
	}
}

// Applied returns the remote candidates this end has applied, in order.
func (t *Transport) Applied() []transport.Candidate {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return append([]transport.Candidate(nil), t.applied...)
}

func (t *Transport) State() transport.ConnectivityState {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.state
}

func (t *Transport) Closed() bool {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.closed
}

func (t *Transport) flushPendingLocked() {
	t.applied = append(t.applied, t.pending...)
	t.pending = nil
}

func (t *Transport) setStateLocked(s transport.ConnectivityState) {
	if t.state == s {
		return
	}
	t.state = s
	t.exec.post(func() {
		t.net.mu.Lock()
		fn := t.onState
		t.net.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
}

func (t *Transport) emitCandidateLocked() {
	t.net.nextCand++
	c := transport.Candidate{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", t.net.nextCand, 40000+t.net.nextCand),
	}
	t.exec.post(func() {
		t.net.mu.Lock()
		fn := t.onCandidate
		t.net.mu.Unlock()
		if fn != nil {
			fn(c)
		}
	})
}

func (n *Network) maybeConnectLocked(t *Transport) {
	p := t.peer
	if p == nil || t.closed || p.closed {
		return
	}
	if t.state == transport.StateConnected || t.state == transport.StateFailed {
		return
	}
	if t.remoteDesc == nil || p.remoteDesc == nil || len(t.applied) == 0 || len(p.applied) == 0 {
		return
	}

	init, resp := t, p
	if t.role != roleInitiator {
		init, resp = p, t
	}
	init.setStateLocked(transport.StateConnected)
	resp.setStateLocked(transport.StateConnected)

	if init.ch == nil {
		return
	}
	rc := &Channel{owner: resp, protocol: init.ch.protocol, peer: init.ch}
	init.ch.peer = rc
	resp.ch = rc
	resp.exec.post(func() {
		n.mu.Lock()
		fn := resp.onOffered
		n.mu.Unlock()
		if fn != nil {
			fn(rc)
		}
	})
	rc.openLocked()
	init.ch.openLocked()
}

// Channel is one end of an in-memory message channel.
type Channel struct {
	owner    *Transport
	protocol string
	peer     *Channel
	open     bool
	closed   bool

	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

var _ transport.Channel = (*Channel)(nil)

func (c *Channel) Protocol() string { return c.protocol }

func (c *Channel) Send(data []byte) error {
	n := c.owner.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if !c.open || c.closed || c.peer == nil {
		return transport.ErrInvalidState
	}
	msg := append([]byte(nil), data...)
	dst := c.peer
	dst.owner.exec.post(func() {
		n.mu.Lock()
		fn := dst.onMessage
		n.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	})
	return nil
}

func (c *Channel) OnOpen(fn func()) {
	c.owner.net.mu.Lock()
	c.onOpen = fn
	c.owner.net.mu.Unlock()
}

func (c *Channel) OnMessage(fn func([]byte)) {
	c.owner.net.mu.Lock()
	c.onMessage = fn
	c.owner.net.mu.Unlock()
}

func (c *Channel) OnClose(fn func()) {
	c.owner.net.mu.Lock()
	c.onClose = fn
	c.owner.net.mu.Unlock()
}

func (c *Channel) Close() error {
	n := c.owner.net
	n.mu.Lock()
	defer n.mu.Unlock()
	c.closeLocked()
	if c.peer != nil {
		c.peer.closeLocked()
	}
	return nil
}

func (c *Channel) openLocked() {
	if c.open || c.closed {
		return
	}
	c.open = true
	c.post(func(c *Channel) func() { return c.onOpen })
}

func (c *Channel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.post(func(c *Channel) func() { return c.onClose })
}

func (c *Channel) post(handler func(*Channel) func()) {
	n := c.owner.net
	c.owner.exec.post(func() {
		n.mu.Lock()
		fn := handler(c)
		n.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
