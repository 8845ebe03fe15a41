package webrtcpeer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/shek-hrd/dateherenow/internal/transport"
)

// Peer owns one PeerConnection to a remote participant.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	onCandidate func(transport.Candidate)
	onOffered   func(transport.Channel)
	onState     func(transport.ConnectivityState)

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Transport = (*Peer)(nil)

func NewPeer(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger) (*Peer, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{pc: pc, logger: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(candidateFromInit(c.ToJSON()))
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := validateDataChannel(dc); err != nil {
			p.logger.Warn("rejecting datachannel", "label", dc.Label(), "ordered", dc.Ordered(), "err", err)
			_ = dc.Close()
			return
		}
		ch := newChannel(dc)
		p.mu.Lock()
		fn := p.onOffered
		p.mu.Unlock()
		if fn == nil {
			_ = dc.Close()
			return
		}
		fn(ch)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(connectivityState(state))
		}
	})

	return p, nil
}

// NewFactory returns a transport.Factory that builds a Peer per remote
// participant on a shared API.
func NewFactory(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger) transport.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(peerID string) (transport.Transport, error) {
		return NewPeer(api, iceServers, logger.With("peer", peerID))
	}
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

func (p *Peer) BeginAsInitiator() (transport.Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return transport.Description{Type: transport.DescriptionOffer, SDP: offer.SDP}, nil
}

func (p *Peer) BeginAsResponder(offer transport.Description) (transport.Description, error) {
	if offer.Type != transport.DescriptionOffer {
		return transport.Description{}, fmt.Errorf("%w: expected offer, got %q", transport.ErrInvalidState, offer.Type)
	}
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return transport.Description{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return transport.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return transport.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return transport.Description{Type: transport.DescriptionAnswer, SDP: answer.SDP}, nil
}

func (p *Peer) SupplyRemoteHandshake(answer transport.Description) error {
	if answer.Type != transport.DescriptionAnswer {
		return fmt.Errorf("%w: expected answer, got %q", transport.ErrInvalidState, answer.Type)
	}
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w: no local offer (signaling state %s)", transport.ErrInvalidState, p.pc.SignalingState())
	}
	return p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP})
}

// setRemote applies the remote description and then the candidates that
// arrived ahead of it.
func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Debug("dropping buffered remote candidate", "err", err)
		}
	}
	return nil
}

func (p *Peer) SupplyCandidate(c transport.Candidate) error {
	init := candidateToInit(c)
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) OpenChannel(protocol string) (transport.Channel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("create datachannel: %w", err)
	}
	return newChannel(dc), nil
}

func (p *Peer) OnChannelOffered(fn func(transport.Channel)) {
	p.mu.Lock()
	p.onOffered = fn
	p.mu.Unlock()
}

func (p *Peer) OnLocalCandidate(fn func(transport.Candidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnectivityChange(fn func(transport.ConnectivityState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// Stats reports the round trip time and route of the selected candidate
// pair. Before a pair is nominated the route is RouteUnknown.
func (p *Peer) Stats() (transport.Stats, error) {
	report := p.pc.GetStats()
	out := transport.Stats{RouteKind: transport.RouteUnknown}
	for _, s := range report {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		out.RoundTripTime = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		if local, ok := report[pair.LocalCandidateID].(webrtc.ICECandidateStats); ok {
			out.RouteKind = routeKind(local.CandidateType)
		}
		return out, nil
	}
	return out, nil
}

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

func routeKind(t webrtc.ICECandidateType) transport.RouteKind {
	switch t {
	case webrtc.ICECandidateTypeHost:
		return transport.RouteDirectLocal
	case webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
		return transport.RouteDirectNATTraversed
	case webrtc.ICECandidateTypeRelay:
		return transport.RouteRelayed
	default:
		return transport.RouteUnknown
	}
}

func connectivityState(s webrtc.PeerConnectionState) transport.ConnectivityState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return transport.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return transport.StateClosed
	default:
		return transport.StateConnecting
	}
}

func candidateToInit(c transport.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateFromInit(c webrtc.ICECandidateInit) transport.Candidate {
	return transport.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
