package session

import (
	"time"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

type State string

const (
	StateNew                 State = "new"
	StateHandshakeInProgress State = "handshake"
	StateOpen                State = "open"
	StateClosed              State = "closed"
)

type Role string

const (
	RoleNone      Role = ""
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Session is the state kept for one remote participant. It is owned by the
// registry loop.
type Session struct {
	peer  string
	gen   uint64
	role  Role
	state State

	tr    transport.Transport
	ch    transport.Channel
	codec peerproto.Codec

	// busy is set while a begin or apply step runs off the loop; the
	// transport is not touched from the loop meanwhile.
	busy bool
	// localSent is set once our offer or answer has gone to the relay.
	localSent bool
	// paired is set once offer and answer have been exchanged both ways.
	paired      bool
	localCands  []transport.Candidate
	remoteCands []transport.Candidate

	remoteProfile *profile.Profile
	sentProfile   bool
	likes         LikeState
	matched       bool

	connectivity transport.ConnectivityState
	stats        transport.Stats
	timer        *time.Timer
	profileTimer *time.Timer
}

// PeerInfo is a read-only snapshot of a Session.
type PeerInfo struct {
	ID           string
	State        State
	Role         Role
	Profile      *profile.Profile
	LikedByMe    bool
	LikesMe      bool
	Matched      bool
	Connectivity transport.ConnectivityState
	Stats        transport.Stats
}

func (s *Session) info() PeerInfo {
	info := PeerInfo{
		ID:           s.peer,
		State:        s.state,
		Role:         s.role,
		LikedByMe:    s.likes.LikedByMe,
		LikesMe:      s.likes.LikesMe,
		Matched:      s.matched,
		Connectivity: s.connectivity,
		Stats:        s.stats,
	}
	if s.remoteProfile != nil {
		p := s.remoteProfile.Clone()
		info.Profile = &p
	}
	return info
}
