package commands

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/session"
)

// printer renders registry notifications as terminal lines. Stats updates
// are frequent and only show up in the peers listing.
type printer struct {
	session.NopObserver

	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) PeerDiscovered(peer string) {
	p.printf("* %s is online\n", peer)
}

func (p *printer) SessionOpened(peer string) {
	p.printf("* connected to %s\n", peer)
}

func (p *printer) ProfileReceived(peer string, pr profile.Profile) {
	p.printf("* %s: %s\n", peer, describeProfile(pr))
}

func (p *printer) Matched(peer string) {
	p.printf("* it's a match with %s!\n", peer)
}

func (p *printer) ChatReceived(peer string, e session.ChatEntry) {
	p.printf("<%s> %s\n", peer, e.Text)
}

func (p *printer) SessionClosed(peer string, err error) {
	switch {
	case errors.Is(err, session.ErrShutdown):
	case errors.Is(err, session.ErrPeerLeft):
		p.printf("* %s left\n", peer)
	default:
		p.printf("* lost %s: %v\n", peer, err)
	}
}

func describeProfile(pr profile.Profile) string {
	name := pr.Name
	if name == "" {
		name = "(anonymous)"
	}
	out := name
	if pr.Preference != "" {
		out += " [" + pr.Preference + "]"
	}
	if pr.Bio != "" {
		out += " " + pr.Bio
	}
	if pr.Contact != "" {
		out += " <" + pr.Contact + ">"
	}
	if len(pr.Image) > 0 {
		out += fmt.Sprintf(" (photo %d bytes)", len(pr.Image))
	}
	return out
}

var _ session.Observer = (*printer)(nil)
