package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

// adoptChannel records ch as the session's channel. The responder takes its
// codec from the protocol the initiator declared. It reports false when ch
// cannot be used.
func (r *Registry) adoptChannel(s *Session, ch transport.Channel) bool {
	if s.ch != nil {
		if s.ch == ch {
			return true
		}
		r.logger.Debug("ignoring extra channel", "peer", s.peer)
		_ = ch.Close()
		return false
	}
	if s.role != RoleInitiator {
		codec, err := peerproto.ForContentType(ch.Protocol())
		if err != nil {
			r.closeSession(s, fmt.Errorf("%w: %v", ErrTransportFailure, err))
			return false
		}
		s.codec = codec
	}
	s.ch = ch
	return true
}

func (r *Registry) open(s *Session) {
	if s.state == StateOpen || s.state == StateClosed {
		return
	}
	s.state = StateOpen
	if s.timer != nil {
		s.timer.Stop()
	}
	r.logger.Info("session open", "peer", s.peer, "role", s.role, "codec", s.codec.ContentType())
	r.cfg.Observer.SessionOpened(s.peer)
	if s.role == RoleInitiator {
		r.sendProfile(s)
		return
	}
	// The responder normally answers the initiator's profile. Send ours
	// anyway if it never comes, e.g. because it was too large to send.
	peer, gen := s.peer, s.gen
	s.profileTimer = time.AfterFunc(r.cfg.ProfileWait, func() {
		r.post(profileWaitEvent{peer: peer, gen: gen})
	})
}

func (r *Registry) sendProfile(s *Session) {
	if err := r.send(s, peerproto.ProfileMessage(r.local)); err != nil {
		r.logger.Warn("send profile", "peer", s.peer, "err", err)
		return
	}
	s.sentProfile = true
}

func (r *Registry) send(s *Session, m peerproto.Message) error {
	data, err := peerproto.Encode(s.codec, m, r.cfg.MaxMessageBytes)
	if err != nil {
		return err
	}
	if err := s.ch.Send(data); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrTransportFailure, m.Type, err)
	}
	return nil
}

func (r *Registry) handleMessage(s *Session, data []byte) {
	m, err := peerproto.Decode(s.codec, data)
	if errors.Is(err, peerproto.ErrUnknownType) {
		r.logger.Debug("ignoring message", "peer", s.peer, "err", err)
		return
	}
	if err != nil {
		r.logger.Warn("discarding message", "peer", s.peer, "err", err)
		return
	}

	switch m.Type {
	case peerproto.TypeProfile:
		p := m.Profile.Clone()
		s.remoteProfile = &p
		r.cfg.Observer.ProfileReceived(s.peer, p.Clone())
		if !s.sentProfile {
			r.sendProfile(s)
		}
	case peerproto.TypeLike:
		if s.likes.LikesMe {
			return
		}
		s.likes.LikesMe = true
		r.checkMatch(s)
	case peerproto.TypeChat:
		e := ChatEntry{From: s.peer, Text: m.Text, At: time.Now()}
		r.chats.append(s.peer, e)
		if r.active == s.peer {
			r.cfg.Observer.ChatReceived(s.peer, e)
		}
	}
}

// checkMatch fires the match notification the first time both flags hold.
func (r *Registry) checkMatch(s *Session) {
	if s.matched || !IsMatch(s.likes) {
		return
	}
	s.matched = true
	r.logger.Info("matched", "peer", s.peer)
	r.cfg.Observer.Matched(s.peer)
}
