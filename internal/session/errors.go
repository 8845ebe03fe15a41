package session

import "errors"

var (
	// ErrHandshakeOutOfOrder means a handshake step arrived in a state that
	// cannot accept it. The session is aborted; rediscovery may retry.
	ErrHandshakeOutOfOrder = errors.New("session: handshake out of order")
	ErrTransportFailure    = errors.New("session: transport failure")
	ErrHandshakeTimeout    = errors.New("session: handshake timed out")
	ErrPeerLeft            = errors.New("session: peer left")
	ErrRelayLost           = errors.New("session: relay connection lost")
	ErrShutdown            = errors.New("session: registry shut down")
	ErrUnknownPeer         = errors.New("session: unknown peer")
	ErrSessionNotOpen      = errors.New("session: not open")
)
