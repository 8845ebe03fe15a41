package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shek-hrd/dateherenow/internal/transport"
)

type HandshakeType string

const (
	HandshakeOffer     HandshakeType = "offer"
	HandshakeAnswer    HandshakeType = "answer"
	HandshakeCandidate HandshakeType = "candidate"
)

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromTransport(d transport.Description) SDP {
	return SDP{Type: string(d.Type), SDP: d.SDP}
}

func (s SDP) ToTransport() (transport.Description, error) {
	switch transport.DescriptionType(s.Type) {
	case transport.DescriptionOffer, transport.DescriptionAnswer:
		return transport.Description{Type: transport.DescriptionType(s.Type), SDP: s.SDP}, nil
	default:
		return transport.Description{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromTransport(c transport.Candidate) Candidate {
	return Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c Candidate) ToTransport() transport.Candidate {
	return transport.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Handshake is the payload peers place in a signal envelope.
type Handshake struct {
	Type      HandshakeType `json:"type"`
	SDP       *SDP          `json:"sdp,omitempty"`
	Candidate *Candidate    `json:"candidate,omitempty"`
}

func DescriptionHandshake(d transport.Description) Handshake {
	s := SDPFromTransport(d)
	return Handshake{Type: HandshakeType(d.Type), SDP: &s}
}

func CandidateHandshake(c transport.Candidate) Handshake {
	cand := CandidateFromTransport(c)
	return Handshake{Type: HandshakeCandidate, Candidate: &cand}
}

func (h Handshake) Marshal() (json.RawMessage, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(h)
}

func ParseHandshake(data []byte) (Handshake, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var h Handshake
	if err := dec.Decode(&h); err != nil {
		return Handshake{}, err
	}
	if err := h.validate(); err != nil {
		return Handshake{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Handshake{}, fmt.Errorf("unexpected trailing data")
	}
	return h, nil
}

func (h Handshake) validate() error {
	switch h.Type {
	case HandshakeOffer, HandshakeAnswer:
		if h.SDP == nil {
			return fmt.Errorf("%s message missing sdp", h.Type)
		}
		if h.SDP.Type != string(h.Type) {
			return fmt.Errorf("%s message has sdp.type=%q", h.Type, h.SDP.Type)
		}
		if h.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", h.Type)
		}
	case HandshakeCandidate:
		if h.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if h.SDP != nil {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", h.Type)
	}
	return nil
}
