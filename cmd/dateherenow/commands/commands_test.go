package commands

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/session"
	"github.com/shek-hrd/dateherenow/internal/transport"
)

type fakeRegistry struct {
	calls   []string
	self    string
	history []session.ChatEntry
	ranked  []session.RankedPeer
	err     error
}

func (f *fakeRegistry) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRegistry) Like(_ context.Context, peer string) error {
	return f.record("like " + peer)
}

func (f *fakeRegistry) SendChat(_ context.Context, peer, text string) error {
	return f.record("chat " + peer + " " + text)
}

func (f *fakeRegistry) SetActive(_ context.Context, peer string) error {
	return f.record("active " + peer)
}

func (f *fakeRegistry) ChatHistory(context.Context, string) ([]session.ChatEntry, error) {
	return f.history, nil
}

func (f *fakeRegistry) Connect(_ context.Context, peer string) error {
	return f.record("connect " + peer)
}

func (f *fakeRegistry) RankedByDistance(context.Context) ([]session.RankedPeer, error) {
	return f.ranked, nil
}

func (f *fakeRegistry) Self(context.Context) (string, error) {
	return f.self, nil
}

func newTestRepl() (*repl, *fakeRegistry, *bytes.Buffer) {
	var out bytes.Buffer
	reg := &fakeRegistry{self: "me-id"}
	return &repl{reg: reg, out: newPrinter(&out)}, reg, &out
}

func TestReplDispatch(t *testing.T) {
	r, reg, _ := newTestRepl()
	ctx := context.Background()

	for _, line := range []string{
		"like bob",
		"msg bob  hello there ",
		"retry carol",
		"open bob",
		"chat see you at eight",
		"",
	} {
		if err := r.exec(ctx, line); err != nil {
			t.Fatalf("exec(%q): %v", line, err)
		}
	}

	want := []string{
		"like bob",
		"chat bob hello there",
		"connect carol",
		"active bob",
		"chat bob see you at eight",
	}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls=%q, want %q", reg.calls, want)
	}
}

func TestReplUsageErrors(t *testing.T) {
	r, reg, _ := newTestRepl()
	ctx := context.Background()

	for _, line := range []string{"like", "msg bob", "open", "chat hi", "retry", "dance"} {
		if err := r.exec(ctx, line); err == nil {
			t.Fatalf("exec(%q) succeeded, want error", line)
		}
	}
	if len(reg.calls) != 0 {
		t.Fatalf("calls=%q, want none", reg.calls)
	}
	if err := r.exec(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Fatalf("quit err=%v, want errQuit", err)
	}
}

func TestReplPropagatesRegistryErrors(t *testing.T) {
	r, reg, _ := newTestRepl()
	reg.err = session.ErrSessionNotOpen

	if err := r.exec(context.Background(), "like bob"); !errors.Is(err, session.ErrSessionNotOpen) {
		t.Fatalf("err=%v, want ErrSessionNotOpen", err)
	}
}

func TestReplOpenPrintsHistory(t *testing.T) {
	r, reg, out := newTestRepl()
	at := time.Date(2024, 5, 1, 20, 15, 0, 0, time.UTC)
	reg.history = []session.ChatEntry{
		{From: "me-id", Text: "hi", At: at},
		{From: "bob", Text: "hey", At: at},
	}

	if err := r.exec(context.Background(), "open bob"); err != nil {
		t.Fatalf("open: %v", err)
	}
	got := out.String()
	for _, want := range []string{"conversation with bob (2 messages)", "<me> hi", "<bob> hey"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output=%q, missing %q", got, want)
		}
	}
}

func TestReplPeers(t *testing.T) {
	r, reg, out := newTestRepl()
	reg.ranked = []session.RankedPeer{
		{
			PeerInfo: session.PeerInfo{
				ID:      "bob",
				State:   session.StateOpen,
				Profile: &profile.Profile{Name: "Bob", Bio: "climber"},
				Matched: true,
				Stats:   transport.Stats{RouteKind: transport.RouteDirectLocal, RoundTripTime: 12 * time.Millisecond},
			},
			DistanceKm:  3.25,
			HasDistance: true,
		},
		{PeerInfo: session.PeerInfo{ID: "carol", State: session.StateHandshakeInProgress}},
	}

	if err := r.exec(context.Background(), "peers"); err != nil {
		t.Fatalf("peers: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%q, want 2", lines)
	}
	for _, want := range []string{"bob", "open", "Bob climber", "3.2 km", "direct-local 12ms", "[match]"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("line=%q, missing %q", lines[0], want)
		}
	}
	if !strings.HasPrefix(lines[1], "carol  handshake") {
		t.Fatalf("line=%q, want carol in handshake", lines[1])
	}
}

func TestPrinterSessionClosed(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.SessionClosed("bob", session.ErrShutdown)
	p.SessionClosed("bob", session.ErrPeerLeft)
	p.SessionClosed("carol", session.ErrHandshakeTimeout)

	want := "* bob left\n* lost carol: " + session.ErrHandshakeTimeout.Error() + "\n"
	if got := out.String(); got != want {
		t.Fatalf("output=%q, want %q", got, want)
	}
}

func TestDistanceCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"distance", "0", "0", "0", "1"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out.String(); got != "111.19 km\n" {
		t.Fatalf("output=%q, want %q", got, "111.19 km\n")
	}
}

func TestDistanceCommandRejectsBadInput(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"distance", "0", "north", "0", "1"})

	if err := root.Execute(); err == nil {
		t.Fatalf("execute succeeded, want error")
	}
}
