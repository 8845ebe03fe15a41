// Package transport defines the peer-to-peer transport capability a session
// drives. Connection establishment, NAT traversal and the message channel
// itself live behind these interfaces; see webrtcpeer for the production
// implementation and memtransport for the deterministic in-process one.
package transport

import (
	"errors"
	"time"
)

// ErrInvalidState is returned when an operation is attempted before the
// transport is ready for it, e.g. supplying a remote answer before a local
// offer exists.
var ErrInvalidState = errors.New("transport: invalid state")

type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is an offer or answer. SDP is opaque to everything except the
// transport that produced it.
type Description struct {
	Type DescriptionType
	SDP  string
}

// Candidate is a trickled network reachability candidate.
type Candidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

type ConnectivityState string

const (
	StateConnecting   ConnectivityState = "connecting"
	StateConnected    ConnectivityState = "connected"
	StateDisconnected ConnectivityState = "disconnected"
	StateFailed       ConnectivityState = "failed"
	StateClosed       ConnectivityState = "closed"
)

// RouteKind classifies the established path.
type RouteKind string

const (
	RouteDirectLocal        RouteKind = "direct-local"
	RouteDirectNATTraversed RouteKind = "direct-nat-traversed"
	RouteRelayed            RouteKind = "relayed"
	RouteUnknown            RouteKind = "unknown"
)

type Stats struct {
	RoundTripTime time.Duration
	RouteKind     RouteKind
}

// Channel is a reliable, ordered message channel between two peers.
type Channel interface {
	// Protocol is the sub-protocol the opening side declared.
	Protocol() string
	Send(data []byte) error
	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())
	Close() error
}

// Transport is one peer connection. Callbacks may run on transport owned
// goroutines and must not block.
//
// The initiator calls OpenChannel before BeginAsInitiator so the offer
// describes the channel. The responder learns about the channel through
// OnChannelOffered once the connection is up.
type Transport interface {
	BeginAsInitiator() (Description, error)
	BeginAsResponder(offer Description) (Description, error)
	// SupplyRemoteHandshake applies the remote answer. It fails with
	// ErrInvalidState when no local offer exists yet.
	SupplyRemoteHandshake(answer Description) error
	// SupplyCandidate applies a remote candidate. Implementations must
	// tolerate calls that arrive before the remote description.
	SupplyCandidate(c Candidate) error

	OpenChannel(protocol string) (Channel, error)
	OnChannelOffered(func(Channel))
	OnLocalCandidate(func(Candidate))
	OnConnectivityChange(func(ConnectivityState))

	Stats() (Stats, error)
	Close() error
}

// Factory creates the transport used to reach the remote participant peerID.
type Factory func(peerID string) (Transport, error)
