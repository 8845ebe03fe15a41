package session

import (
	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

type event interface {
	apply(r *Registry)
}

type funcEvent func(r *Registry)

func (f funcEvent) apply(r *Registry) { f(r) }

type relayEvent struct {
	ev signaling.ServerEvent
}

func (e relayEvent) apply(r *Registry) { r.handleRelay(e.ev) }

type offerReadyEvent struct {
	peer string
	gen  uint64
	ch   transport.Channel
	desc transport.Description
	err  error
}

func (e offerReadyEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	if e.err != nil {
		r.closeSession(s, handshakeFailure("offer", e.err))
		return
	}
	s.ch = e.ch
	r.localDescriptionReady(s, e.desc)
}

type answerReadyEvent struct {
	peer string
	gen  uint64
	desc transport.Description
	err  error
}

func (e answerReadyEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	if e.err != nil {
		r.closeSession(s, handshakeFailure("answer", e.err))
		return
	}
	r.localDescriptionReady(s, e.desc)
	r.markPaired(s)
}

type answerAppliedEvent struct {
	peer string
	gen  uint64
	err  error
}

func (e answerAppliedEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	s.busy = false
	if e.err != nil {
		r.closeSession(s, handshakeFailure("apply answer", e.err))
		return
	}
	r.markPaired(s)
}

type localCandidateEvent struct {
	peer string
	gen  uint64
	c    transport.Candidate
}

func (e localCandidateEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil || s.state == StateClosed {
		return
	}
	if !s.localSent {
		s.localCands = append(s.localCands, e.c)
		return
	}
	r.sendHandshake(s.peer, signaling.CandidateHandshake(e.c))
}

type connectivityEvent struct {
	peer  string
	gen   uint64
	state transport.ConnectivityState
}

func (e connectivityEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	s.connectivity = e.state
	switch e.state {
	case transport.StateFailed, transport.StateClosed:
		r.closeSession(s, ErrTransportFailure)
	}
}

type channelOfferedEvent struct {
	peer string
	gen  uint64
	ch   transport.Channel
}

func (e channelOfferedEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		_ = e.ch.Close()
		return
	}
	r.adoptChannel(s, e.ch)
}

type channelOpenEvent struct {
	peer string
	gen  uint64
	ch   transport.Channel
}

func (e channelOpenEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	if !r.adoptChannel(s, e.ch) {
		return
	}
	r.open(s)
}

type channelMessageEvent struct {
	peer string
	gen  uint64
	ch   transport.Channel
	data []byte
}

func (e channelMessageEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	if !r.adoptChannel(s, e.ch) {
		return
	}
	// A message proves the channel is usable even if its open callback has
	// not been processed yet.
	r.open(s)
	r.handleMessage(s, e.data)
}

type channelClosedEvent struct {
	peer string
	gen  uint64
}

func (e channelClosedEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil {
		return
	}
	r.closeSession(s, ErrTransportFailure)
}

type timeoutEvent struct {
	peer string
	gen  uint64
}

func (e timeoutEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil || s.state == StateOpen {
		return
	}
	r.closeSession(s, ErrHandshakeTimeout)
}

type profileWaitEvent struct {
	peer string
	gen  uint64
}

func (e profileWaitEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil || s.state != StateOpen || s.sentProfile {
		return
	}
	r.logger.Debug("no profile from initiator, sending ours", "peer", s.peer)
	r.sendProfile(s)
}

type statsEvent struct {
	peer  string
	gen   uint64
	stats transport.Stats
}

func (e statsEvent) apply(r *Registry) {
	s := r.lookup(e.peer, e.gen)
	if s == nil || s.state != StateOpen {
		return
	}
	s.stats = e.stats
	r.cfg.Observer.StatsUpdated(s.peer, e.stats)
}
