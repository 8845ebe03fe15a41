package session

import (
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

// Observer receives user-visible changes. Methods run on the registry's
// event loop and must not block or call back into the Registry.
type Observer interface {
	PeerDiscovered(peer string)
	SessionOpened(peer string)
	ProfileReceived(peer string, p profile.Profile)
	Matched(peer string)
	// ChatReceived fires only for the active conversation.
	ChatReceived(peer string, e ChatEntry)
	SessionClosed(peer string, err error)
	StatsUpdated(peer string, s transport.Stats)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) PeerDiscovered(string)                   {}
func (NopObserver) SessionOpened(string)                    {}
func (NopObserver) ProfileReceived(string, profile.Profile) {}
func (NopObserver) Matched(string)                          {}
func (NopObserver) ChatReceived(string, ChatEntry)          {}
func (NopObserver) SessionClosed(string, error)             {}
func (NopObserver) StatsUpdated(string, transport.Stats)    {}

var _ Observer = NopObserver{}
