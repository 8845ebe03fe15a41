package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shek-hrd/dateherenow/internal/session"
)

// errQuit ends the interactive loop.
var errQuit = errors.New("quit")

// registry is the part of session.Registry the prompt drives.
type registry interface {
	Like(ctx context.Context, peer string) error
	SendChat(ctx context.Context, peer, text string) error
	SetActive(ctx context.Context, peer string) error
	ChatHistory(ctx context.Context, peer string) ([]session.ChatEntry, error)
	Connect(ctx context.Context, peer string) error
	RankedByDistance(ctx context.Context) ([]session.RankedPeer, error)
	Self(ctx context.Context) (string, error)
}

const helpText = `commands:
  peers               list peers, nearest first
  open <id>           show a conversation and follow new messages
  chat <text>         send to the open conversation
  msg <id> <text>     send to a peer
  like <id>           like a peer
  retry <id>          reconnect to a peer whose handshake failed
  whoami              print your identifier
  quit
`

type repl struct {
	reg    registry
	out    *printer
	active string
}

// exec runs one input line.
func (r *repl) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "":
		return nil
	case "help", "?":
		r.out.printf("%s", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "whoami":
		self, err := r.reg.Self(ctx)
		if err != nil {
			return err
		}
		if self == "" {
			self = "(not connected)"
		}
		r.out.printf("%s\n", self)
		return nil
	case "peers":
		return r.peers(ctx)
	case "open":
		if rest == "" {
			return fmt.Errorf("usage: open <id>")
		}
		return r.open(ctx, rest)
	case "chat":
		if r.active == "" {
			return fmt.Errorf("no open conversation (use: open <id>)")
		}
		if rest == "" {
			return fmt.Errorf("usage: chat <text>")
		}
		return r.reg.SendChat(ctx, r.active, rest)
	case "msg":
		peer, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if peer == "" || text == "" {
			return fmt.Errorf("usage: msg <id> <text>")
		}
		return r.reg.SendChat(ctx, peer, text)
	case "like":
		if rest == "" {
			return fmt.Errorf("usage: like <id>")
		}
		return r.reg.Like(ctx, rest)
	case "retry":
		if rest == "" {
			return fmt.Errorf("usage: retry <id>")
		}
		return r.reg.Connect(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (r *repl) peers(ctx context.Context) error {
	peers, err := r.reg.RankedByDistance(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		r.out.printf("no peers yet\n")
		return nil
	}
	for _, p := range peers {
		r.out.printf("%s\n", formatPeer(p))
	}
	return nil
}

func (r *repl) open(ctx context.Context, peer string) error {
	if err := r.reg.SetActive(ctx, peer); err != nil {
		return err
	}
	r.active = peer
	history, err := r.reg.ChatHistory(ctx, peer)
	if err != nil {
		return err
	}
	self, err := r.reg.Self(ctx)
	if err != nil {
		return err
	}
	r.out.printf("-- conversation with %s (%d messages)\n", peer, len(history))
	for _, e := range history {
		from := e.From
		if from == self {
			from = "me"
		}
		r.out.printf("[%s] <%s> %s\n", e.At.Format(time.Kitchen), from, e.Text)
	}
	return nil
}

func formatPeer(p session.RankedPeer) string {
	var b strings.Builder
	b.WriteString(p.ID)
	b.WriteString("  ")
	b.WriteString(string(p.State))
	if p.Profile != nil {
		b.WriteString("  ")
		b.WriteString(describeProfile(*p.Profile))
	}
	if p.HasDistance {
		fmt.Fprintf(&b, "  %.1f km", p.DistanceKm)
	}
	if p.State == session.StateOpen && p.Stats.RouteKind != "" {
		fmt.Fprintf(&b, "  %s %s", p.Stats.RouteKind, p.Stats.RoundTripTime.Round(time.Millisecond))
	}
	switch {
	case p.Matched:
		b.WriteString("  [match]")
	case p.LikedByMe:
		b.WriteString("  [liked]")
	case p.LikesMe:
		b.WriteString("  [likes you]")
	}
	return b.String()
}
