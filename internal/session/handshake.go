package session

import (
	"errors"
	"fmt"

	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

// initiate opens the channel and creates the offer off the loop. The channel
// is opened first so the offer describes it.
func (r *Registry) initiate(s *Session) {
	s.role = RoleInitiator
	s.state = StateHandshakeInProgress
	s.busy = true

	tr, peer, gen, protocol := s.tr, s.peer, s.gen, s.codec.ContentType()
	go func() {
		ch, err := tr.OpenChannel(protocol)
		if err != nil {
			r.post(offerReadyEvent{peer: peer, gen: gen, err: err})
			return
		}
		r.bindChannel(ch, peer, gen)
		desc, err := tr.BeginAsInitiator()
		r.post(offerReadyEvent{peer: peer, gen: gen, ch: ch, desc: desc, err: err})
	}()
}

// respond answers offer off the loop. The handshake deadline restarts here;
// a session may have waited in New for the offer.
func (r *Registry) respond(s *Session, offer transport.Description) {
	s.role = RoleResponder
	s.state = StateHandshakeInProgress
	s.busy = true
	r.armHandshakeTimer(s)

	tr, peer, gen := s.tr, s.peer, s.gen
	go func() {
		answer, err := tr.BeginAsResponder(offer)
		r.post(answerReadyEvent{peer: peer, gen: gen, desc: answer, err: err})
	}()
}

func (r *Registry) handleHandshake(from string, h signaling.Handshake) {
	if from == "" || from == r.self {
		return
	}
	switch h.Type {
	case signaling.HandshakeOffer:
		desc, err := h.SDP.ToTransport()
		if err != nil {
			r.logger.Warn("discarding offer", "peer", from, "err", err)
			return
		}
		r.handleOffer(from, desc)
	case signaling.HandshakeAnswer:
		desc, err := h.SDP.ToTransport()
		if err != nil {
			r.logger.Warn("discarding answer", "peer", from, "err", err)
			return
		}
		r.handleAnswer(from, desc)
	case signaling.HandshakeCandidate:
		r.handleRemoteCandidate(from, h.Candidate.ToTransport())
	}
}

func (r *Registry) handleOffer(from string, offer transport.Description) {
	r.discover(from)
	s, ok := r.sessions[from]
	if !ok {
		// Unsolicited offer: become the responder.
		s, err := r.newSession(from)
		if err != nil {
			r.logger.Error("create session", "peer", from, "err", err)
			return
		}
		r.respond(s, offer)
		return
	}

	switch {
	case s.state == StateNew:
		r.respond(s, offer)
	case s.role == RoleInitiator && !s.paired:
		// Both sides offered. The smaller identifier keeps initiating.
		if r.self != "" && r.self < from {
			r.logger.Debug("ignoring offer during glare", "peer", from)
			return
		}
		r.logger.Debug("yielding to remote offer", "peer", from)
		// Queued candidates already belong to the offer we now answer.
		queued := s.remoteCands
		closeTransport(s.tr)
		if err := r.attachTransport(s); err != nil {
			r.closeSession(s, err)
			return
		}
		s.remoteCands = queued
		r.respond(s, offer)
	case s.role == RoleResponder && !s.localSent:
		r.logger.Debug("ignoring duplicate offer", "peer", from)
	default:
		// The peer restarted its side; start over as responder.
		r.logger.Warn("offer after handshake", "peer", from, "state", s.state)
		r.closeSession(s, fmt.Errorf("%w: offer in state %s", ErrHandshakeOutOfOrder, s.state))
		fresh, err := r.newSession(from)
		if err != nil {
			r.logger.Error("create session", "peer", from, "err", err)
			return
		}
		r.respond(fresh, offer)
	}
}

func (r *Registry) handleAnswer(from string, answer transport.Description) {
	s, ok := r.sessions[from]
	if !ok {
		r.logger.Debug("answer for unknown session", "peer", from)
		return
	}
	if s.role != RoleInitiator || !s.localSent || s.paired || s.busy {
		r.logger.Warn("unexpected answer", "peer", from, "state", s.state, "role", s.role)
		r.closeSession(s, fmt.Errorf("%w: answer in state %s", ErrHandshakeOutOfOrder, s.state))
		return
	}
	s.busy = true
	tr, gen := s.tr, s.gen
	go func() {
		err := tr.SupplyRemoteHandshake(answer)
		r.post(answerAppliedEvent{peer: from, gen: gen, err: err})
	}()
}

// handleRemoteCandidate applies c once offer and answer have been exchanged
// and queues it before that. A candidate from an unknown peer creates the
// session; its offer is still on the way.
func (r *Registry) handleRemoteCandidate(from string, c transport.Candidate) {
	r.discover(from)
	s, ok := r.sessions[from]
	if !ok {
		var err error
		if s, err = r.newSession(from); err != nil {
			r.logger.Error("create session", "peer", from, "err", err)
			return
		}
	}
	if !s.paired {
		s.remoteCands = append(s.remoteCands, c)
		return
	}
	r.applyCandidate(s, c)
}

func (r *Registry) applyCandidate(s *Session, c transport.Candidate) {
	if err := s.tr.SupplyCandidate(c); err != nil {
		r.logger.Debug("remote candidate rejected", "peer", s.peer, "err", err)
	}
}

// markPaired replays the queued remote candidates in arrival order.
func (r *Registry) markPaired(s *Session) {
	s.paired = true
	queued := s.remoteCands
	s.remoteCands = nil
	for _, c := range queued {
		r.applyCandidate(s, c)
	}
}

// localDescriptionReady sends our offer or answer, then the local candidates
// gathered while it was being created.
func (r *Registry) localDescriptionReady(s *Session, desc transport.Description) {
	s.busy = false
	r.sendHandshake(s.peer, signaling.DescriptionHandshake(desc))
	s.localSent = true
	buffered := s.localCands
	s.localCands = nil
	for _, c := range buffered {
		r.sendHandshake(s.peer, signaling.CandidateHandshake(c))
	}
}

func (r *Registry) sendHandshake(peer string, h signaling.Handshake) {
	if r.cfg.Signaler == nil {
		return
	}
	payload, err := h.Marshal()
	if err != nil {
		r.logger.Error("encode handshake", "peer", peer, "type", h.Type, "err", err)
		return
	}
	// An unreachable peer only stalls this handshake; the timeout cleans up.
	if err := r.cfg.Signaler.SendSignal(peer, payload); err != nil {
		r.logger.Debug("signal not sent", "peer", peer, "type", h.Type, "err", err)
	}
}

func handshakeFailure(step string, err error) error {
	if errors.Is(err, transport.ErrInvalidState) {
		return fmt.Errorf("%w: %s: %v", ErrHandshakeOutOfOrder, step, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransportFailure, step, err)
}
