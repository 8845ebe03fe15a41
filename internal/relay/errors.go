package relay

import "errors"

var (
	// ErrUnreachablePeer is returned by Forward when the target is not
	// registered (or cannot accept more frames). Callers drop the payload.
	ErrUnreachablePeer = errors.New("unreachable peer")

	ErrTooManyParticipants  = errors.New("too many participants")
	ErrDuplicateParticipant = errors.New("participant already joined")
)
