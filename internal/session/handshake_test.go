package session

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/transport"
	"github.com/shek-hrd/dateherenow/internal/transport/memtransport"
)

// captureSignaler hands every outbound handshake to the test.
type captureSignaler struct {
	out chan signaling.Handshake
}

func (s captureSignaler) SendSignal(to string, payload json.RawMessage) error {
	h, err := signaling.ParseHandshake(payload)
	if err != nil {
		return err
	}
	s.out <- h
	return nil
}

func (s captureSignaler) next(t *testing.T, want signaling.HandshakeType) signaling.Handshake {
	t.Helper()
	select {
	case h := <-s.out:
		if h.Type != want {
			t.Fatalf("handshake type=%q, want %q", h.Type, want)
		}
		return h
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", want)
	}
	return signaling.Handshake{}
}

// manualPeer drives the remote end of a session by hand.
type manualPeer struct {
	tr       *memtransport.Transport
	cands    chan transport.Candidate
	channel  chan transport.Channel
	received chan []byte
}

func newManualPeer(t *testing.T, net *memtransport.Network, local, remote string) *manualPeer {
	t.Helper()
	tr, err := net.Factory(local)(remote)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	p := &manualPeer{
		tr:       tr.(*memtransport.Transport),
		cands:    make(chan transport.Candidate, 8),
		channel:  make(chan transport.Channel, 1),
		received: make(chan []byte, 16),
	}
	t.Cleanup(func() { _ = p.tr.Close() })
	p.tr.OnLocalCandidate(func(c transport.Candidate) { p.cands <- c })
	p.tr.OnChannelOffered(func(ch transport.Channel) {
		ch.OnMessage(func(data []byte) { p.received <- data })
		p.channel <- ch
	})
	return p
}

func (p *manualPeer) nextCandidate(t *testing.T) transport.Candidate {
	t.Helper()
	select {
	case c := <-p.cands:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for local candidate")
	}
	return transport.Candidate{}
}

func signalFrom(t *testing.T, from string, h signaling.Handshake) signaling.ServerEvent {
	t.Helper()
	payload, err := h.Marshal()
	if err != nil {
		t.Fatalf("marshal handshake: %v", err)
	}
	return signaling.Signal(from, payload)
}

// runRegistry runs a Registry until the test ends.
func runRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	reg := NewRegistry(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return reg
}

type manualSetup struct {
	reg    *Registry
	obs    *recordingObserver
	sig    captureSignaler
	net    *memtransport.Network
	peer   *manualPeer
	offer  transport.Description
	answer transport.Description
}

// startInitiator runs a registry "a" that initiates towards "b" and returns
// once a's offer and first candidate have been handed to the relay. The
// candidate has already been applied to the manual peer.
func startInitiator(t *testing.T, opts memtransport.Options) *manualSetup {
	t.Helper()
	net := memtransport.NewNetwork(opts)
	sig := captureSignaler{out: make(chan signaling.Handshake, 16)}
	obs := newRecordingObserver()
	reg := runRegistry(t, Config{
		Codec:    peerproto.JSON(),
		Factory:  net.Factory("a"),
		Signaler: sig,
		Observer: obs,
		Logger:   testLogger(),
	})

	reg.HandleRelayEvent(signaling.Welcome("a"))
	reg.HandleRelayEvent(signaling.PresenceList([]string{"b"}))

	offerMsg := sig.next(t, signaling.HandshakeOffer)
	offer, err := offerMsg.SDP.ToTransport()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	// Local candidates are only sent after the offer.
	cand := sig.next(t, signaling.HandshakeCandidate)

	peer := newManualPeer(t, net, "b", "a")
	answer, err := peer.tr.BeginAsResponder(offer)
	if err != nil {
		t.Fatalf("BeginAsResponder: %v", err)
	}
	if err := peer.tr.SupplyCandidate(cand.Candidate.ToTransport()); err != nil {
		t.Fatalf("SupplyCandidate: %v", err)
	}
	return &manualSetup{reg: reg, obs: obs, sig: sig, net: net, peer: peer, offer: offer, answer: answer}
}

func (m *manualSetup) state(t *testing.T) (PeerInfo, bool) {
	t.Helper()
	peers, err := m.reg.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	for _, p := range peers {
		if p.ID == "b" {
			return p, true
		}
	}
	return PeerInfo{}, false
}

func (m *manualSetup) waitOpen(t *testing.T) {
	t.Helper()
	eventually(t, "session open", func() bool {
		info, ok := m.state(t)
		return ok && info.State == StateOpen
	})
}

func TestRegistry_CandidatesBeforeAnswerAreReplayed(t *testing.T) {
	sequences := map[string]func(answer, c1, c2 signaling.Handshake) []signaling.Handshake{
		"offer-candidate-candidate-answer": func(answer, c1, c2 signaling.Handshake) []signaling.Handshake {
			return []signaling.Handshake{c1, c2, answer}
		},
		"offer-answer-candidate-candidate": func(answer, c1, c2 signaling.Handshake) []signaling.Handshake {
			return []signaling.Handshake{answer, c1, c2}
		},
	}

	outcomes := make(map[string][]transport.Candidate)
	for name, order := range sequences {
		t.Run(name, func(t *testing.T) {
			// Strict transports lose candidates supplied too early, so only
			// queue-and-replay produces a connection here.
			m := startInitiator(t, memtransport.Options{Strict: true})

			answer := signaling.DescriptionHandshake(m.answer)
			c1 := signaling.CandidateHandshake(m.peer.nextCandidate(t))
			c2 := signaling.CandidateHandshake(transport.Candidate{Candidate: "candidate:extra 1 udp 1 10.0.0.9 9 typ host"})

			for _, h := range order(answer, c1, c2) {
				m.reg.HandleRelayEvent(signalFrom(t, "b", h))
			}
			m.waitOpen(t)

			trs := m.net.Find("a", "b")
			if len(trs) != 1 {
				t.Fatalf("transports=%d, want 1", len(trs))
			}
			outcomes[name] = trs[0].Applied()
			if len(outcomes[name]) != 2 {
				t.Fatalf("applied=%+v, want 2 candidates", outcomes[name])
			}
		})
	}

	// Each run uses a fresh network, so candidate strings line up.
	a := outcomes["offer-candidate-candidate-answer"]
	b := outcomes["offer-answer-candidate-candidate"]
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("outcomes differ: %+v vs %+v", a, b)
	}
}

func TestRegistry_CandidateBeforeOfferFromUnannouncedPeer(t *testing.T) {
	orders := map[string]func(offer, cand signaling.Handshake) []signaling.Handshake{
		"offer-candidate": func(offer, cand signaling.Handshake) []signaling.Handshake {
			return []signaling.Handshake{offer, cand}
		},
		"candidate-offer": func(offer, cand signaling.Handshake) []signaling.Handshake {
			return []signaling.Handshake{cand, offer}
		},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			net := memtransport.NewNetwork(memtransport.Options{Strict: true})
			sig := captureSignaler{out: make(chan signaling.Handshake, 16)}
			obs := newRecordingObserver()
			reg := runRegistry(t, Config{
				Codec:    peerproto.JSON(),
				Factory:  net.Factory("a"),
				Signaler: sig,
				Observer: obs,
				Logger:   testLogger(),
			})
			// a never hears about b from the relay.
			reg.HandleRelayEvent(signaling.Welcome("a"))

			b := newManualPeer(t, net, "b", "a")
			offer, err := b.tr.BeginAsInitiator()
			if err != nil {
				t.Fatalf("BeginAsInitiator: %v", err)
			}
			cand := b.nextCandidate(t)
			for _, h := range order(signaling.DescriptionHandshake(offer), signaling.CandidateHandshake(cand)) {
				reg.HandleRelayEvent(signalFrom(t, "b", h))
			}

			sig.next(t, signaling.HandshakeAnswer)
			eventually(t, "candidate applied", func() bool {
				trs := net.Find("a", "b")
				return len(trs) == 1 && len(trs[0].Applied()) == 1
			})
			if got := net.Find("a", "b")[0].Applied()[0]; got.Candidate != cand.Candidate {
				t.Fatalf("applied=%q, want %q", got.Candidate, cand.Candidate)
			}

			peers, err := reg.Peers(context.Background())
			if err != nil {
				t.Fatalf("Peers: %v", err)
			}
			if len(peers) != 1 || peers[0].ID != "b" || peers[0].Role != RoleResponder {
				t.Fatalf("peers=%+v, want one responder session for b", peers)
			}
			obs.mu.Lock()
			discovered := append([]string(nil), obs.discovered...)
			obs.mu.Unlock()
			if !reflect.DeepEqual(discovered, []string{"b"}) {
				t.Fatalf("discovered=%v, want [b]", discovered)
			}
		})
	}
}

func TestRegistry_HandshakeDeadlineRestartsOnOffer(t *testing.T) {
	const timeout = 300 * time.Millisecond
	net := memtransport.NewNetwork(memtransport.Options{})
	sig := captureSignaler{out: make(chan signaling.Handshake, 16)}
	obs := newRecordingObserver()
	reg := runRegistry(t, Config{
		Codec:            peerproto.JSON(),
		Factory:          net.Factory("a"),
		Signaler:         sig,
		Observer:         obs,
		Logger:           testLogger(),
		HandshakeTimeout: timeout,
	})
	reg.HandleRelayEvent(signaling.Welcome("a"))
	// b joined after a, so a waits in New for b's offer.
	reg.HandleRelayEvent(signaling.PeerJoined("b"))

	time.Sleep(timeout * 2 / 3)
	b := newManualPeer(t, net, "b", "a")
	offer, err := b.tr.BeginAsInitiator()
	if err != nil {
		t.Fatalf("BeginAsInitiator: %v", err)
	}
	offeredAt := time.Now()
	reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(offer)))
	sig.next(t, signaling.HandshakeAnswer)

	// Past the deadline counted from discovery, short of the one counted
	// from the offer.
	time.Sleep(time.Until(offeredAt.Add(timeout / 2)))
	if obs.closedWith("b", ErrHandshakeTimeout) {
		t.Fatalf("session timed out before the restarted deadline")
	}

	// b never completes, so the restarted deadline still fires.
	eventually(t, "timeout", func() bool { return obs.closedWith("b", ErrHandshakeTimeout) })
}

func TestRegistry_InitiatorSendsProfileOnOpen(t *testing.T) {
	m := startInitiator(t, memtransport.Options{})
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(m.answer)))
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.CandidateHandshake(m.peer.nextCandidate(t))))
	m.waitOpen(t)

	select {
	case data := <-m.peer.received:
		msg, err := peerproto.Decode(peerproto.JSON(), data)
		if err != nil || msg.Type != peerproto.TypeProfile {
			t.Fatalf("first message=%s (%v), want profile", data, err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no profile received")
	}
}

func TestRegistry_UnknownAndMalformedMessagesAreSkipped(t *testing.T) {
	m := startInitiator(t, memtransport.Options{})
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(m.answer)))
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.CandidateHandshake(m.peer.nextCandidate(t))))
	m.waitOpen(t)

	var ch transport.Channel
	select {
	case ch = <-m.peer.channel:
	case <-time.After(waitTimeout):
		t.Fatalf("no channel offered")
	}
	for _, raw := range []string{`{"type":"wink","intensity":3}`, `not json`, `{"type":"chat"}`, `{"type":"like"}`} {
		if err := ch.Send([]byte(raw)); err != nil {
			t.Fatalf("Send(%s): %v", raw, err)
		}
	}
	eventually(t, "like applied", func() bool {
		info, _ := m.state(t)
		return info.LikesMe
	})
	if info, _ := m.state(t); info.State != StateOpen {
		t.Fatalf("state=%q, want %q", info.State, StateOpen)
	}
}

func TestRegistry_OfferAfterOpenRestartsAsResponder(t *testing.T) {
	m := startInitiator(t, memtransport.Options{})
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(m.answer)))
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.CandidateHandshake(m.peer.nextCandidate(t))))
	m.waitOpen(t)

	restarted := newManualPeer(t, m.net, "b", "a")
	offer, err := restarted.tr.BeginAsInitiator()
	if err != nil {
		t.Fatalf("BeginAsInitiator: %v", err)
	}
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(offer)))

	eventually(t, "old session aborted", func() bool { return m.obs.closedWith("b", ErrHandshakeOutOfOrder) })
	m.sig.next(t, signaling.HandshakeAnswer)
	info, ok := m.state(t)
	if !ok || info.Role != RoleResponder {
		t.Fatalf("session=%+v, want a fresh responder", info)
	}
}

func TestRegistry_UnexpectedAnswerAbortsSession(t *testing.T) {
	m := startInitiator(t, memtransport.Options{})
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(m.answer)))
	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.CandidateHandshake(m.peer.nextCandidate(t))))
	m.waitOpen(t)

	m.reg.HandleRelayEvent(signalFrom(t, "b", signaling.DescriptionHandshake(m.answer)))
	eventually(t, "session aborted", func() bool { return m.obs.closedWith("b", ErrHandshakeOutOfOrder) })
	if _, ok := m.state(t); ok {
		t.Fatalf("session still present")
	}
}

func TestRegistry_GlareKeepsSmallerIdentifierAsInitiator(t *testing.T) {
	net := memtransport.NewNetwork(memtransport.Options{})
	regs := make(map[string]*Registry)
	boxes := make(map[string]*mailbox)

	for _, id := range []string{"a", "b"} {
		id := id
		reg := NewRegistry(Config{
			Codec:    peerproto.JSON(),
			Factory:  net.Factory(id),
			Signaler: directSignaler{from: id, boxes: boxes},
			Logger:   testLogger(),
		})
		regs[id] = reg
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = reg.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	// Mailboxes are created before any signal can be sent.
	boxes["a"] = newMailbox(regs["a"])
	boxes["b"] = newMailbox(regs["b"])

	// Both sides believe they discovered the other from a presence list.
	for id, other := range map[string]string{"a": "b", "b": "a"} {
		boxes[id].Deliver(signaling.Welcome(id))
		boxes[id].Deliver(signaling.PresenceList([]string{other}))
	}

	waitRole := func(reg *Registry, peer string, want Role) {
		t.Helper()
		eventually(t, peer+" open as "+string(want), func() bool {
			peers, err := reg.Peers(context.Background())
			if err != nil {
				t.Fatalf("Peers: %v", err)
			}
			return len(peers) == 1 && peers[0].State == StateOpen && peers[0].Role == want
		})
	}
	waitRole(regs["a"], "b", RoleInitiator)
	waitRole(regs["b"], "a", RoleResponder)

	if got := len(net.Find("a", "b")); got != 1 {
		t.Fatalf("a transports=%d, want 1", got)
	}
	bTransports := net.Find("b", "a")
	if len(bTransports) != 2 || !bTransports[0].Closed() {
		t.Fatalf("b transports=%d, want the first discarded", len(bTransports))
	}
}

type directSignaler struct {
	from  string
	boxes map[string]*mailbox
}

func (s directSignaler) SendSignal(to string, payload json.RawMessage) error {
	box, ok := s.boxes[to]
	if !ok {
		return nil
	}
	box.Deliver(signaling.Signal(s.from, payload))
	return nil
}

func TestRank(t *testing.T) {
	origin := &profile.Coordinate{Lat: 0, Lon: 0}
	peers := []PeerInfo{
		{ID: "far", Profile: &profile.Profile{Location: &profile.Coordinate{Lat: 0, Lon: 10}}},
		{ID: "z-nowhere", Profile: &profile.Profile{}},
		{ID: "near", Profile: &profile.Profile{Location: &profile.Coordinate{Lat: 0, Lon: 1}}},
		{ID: "a-nowhere"},
	}
	ranked := Rank(origin, peers)
	var ids []string
	for _, p := range ranked {
		ids = append(ids, p.ID)
	}
	want := []string{"near", "far", "a-nowhere", "z-nowhere"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("order=%v, want %v", ids, want)
	}
	if d := ranked[0].DistanceKm; d < 111.09 || d > 111.29 {
		t.Fatalf("near distance=%v, want ~111.19", d)
	}

	// Without a local coordinate nothing has a distance.
	for _, p := range Rank(nil, peers) {
		if p.HasDistance {
			t.Fatalf("%s has a distance without an origin", p.ID)
		}
	}
}

func TestIsMatch(t *testing.T) {
	cases := []struct {
		in   LikeState
		want bool
	}{
		{LikeState{}, false},
		{LikeState{LikedByMe: true}, false},
		{LikeState{LikesMe: true}, false},
		{LikeState{LikedByMe: true, LikesMe: true}, true},
	}
	for _, tc := range cases {
		if got := IsMatch(tc.in); got != tc.want {
			t.Fatalf("IsMatch(%+v)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
