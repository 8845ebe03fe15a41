package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type EventType string

const (
	// EventWelcome is sent first and carries the recipient's own identifier.
	EventWelcome      EventType = "welcome"
	EventPresenceList EventType = "presence-list"
	EventPeerJoined   EventType = "peer-joined"
	EventPeerLeft     EventType = "peer-left"
	EventSignal       EventType = "signal"
	EventError        EventType = "error"
)

// Error codes carried by EventError.
const (
	CodeBadMessage  = "bad_message"
	CodeRateLimited = "rate_limited"
	CodeRelayFull   = "relay_full"
	CodeInternal    = "internal_error"
)

// ErrUnknownEvent is returned by ParseServerEvent for event types this client
// does not know. Callers should skip the frame.
var ErrUnknownEvent = errors.New("signaling: unknown event type")

// ServerEvent is a relay to client frame.
type ServerEvent struct {
	Type    EventType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Peers   []string        `json:"peers,omitempty"`
	From    string          `json:"from,omitempty"`
	Signal  json.RawMessage `json:"signal,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func Welcome(id string) ServerEvent { return ServerEvent{Type: EventWelcome, ID: id} }

func PresenceList(peers []string) ServerEvent {
	return ServerEvent{Type: EventPresenceList, Peers: append([]string(nil), peers...)}
}

func PeerJoined(id string) ServerEvent { return ServerEvent{Type: EventPeerJoined, ID: id} }

func PeerLeft(id string) ServerEvent { return ServerEvent{Type: EventPeerLeft, ID: id} }

func Signal(from string, payload json.RawMessage) ServerEvent {
	return ServerEvent{Type: EventSignal, From: from, Signal: payload}
}

func Error(code, message string) ServerEvent {
	return ServerEvent{Type: EventError, Code: code, Message: message}
}

// ParseServerEvent decodes a relay frame. Unknown fields are ignored.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, err
	}
	if err := ev.validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

func (e ServerEvent) validate() error {
	switch e.Type {
	case EventWelcome, EventPeerJoined, EventPeerLeft:
		if e.ID == "" {
			return fmt.Errorf("%s event missing id", e.Type)
		}
	case EventPresenceList:
		for _, p := range e.Peers {
			if p == "" {
				return fmt.Errorf("presence-list contains empty id")
			}
		}
	case EventSignal:
		if e.From == "" || len(e.Signal) == 0 {
			return fmt.Errorf("signal event missing from/signal")
		}
	case EventError:
		if e.Code == "" {
			return fmt.Errorf("error event missing code")
		}
	case "":
		return fmt.Errorf("missing event type")
	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, e.Type)
	}
	return nil
}

type clientMessageType string

const clientMessageSignal clientMessageType = "signal"

// ClientMessage is the only client to relay frame: an addressed signal. From
// is advisory; the relay always stamps the sender's real identifier.
type ClientMessage struct {
	Type   clientMessageType `json:"type"`
	To     string            `json:"to"`
	From   string            `json:"from,omitempty"`
	Signal json.RawMessage   `json:"signal"`
}

func NewSignal(from, to string, payload json.RawMessage) ClientMessage {
	return ClientMessage{Type: clientMessageSignal, From: from, To: to, Signal: payload}
}

// ParseClientMessage decodes a client frame, rejecting unknown fields and
// trailing data.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m ClientMessage) validate() error {
	if m.Type != clientMessageSignal {
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	if m.To == "" {
		return fmt.Errorf("signal message missing to")
	}
	if len(m.Signal) == 0 || bytes.Equal(bytes.TrimSpace(m.Signal), []byte("null")) {
		return fmt.Errorf("signal message missing signal")
	}
	return nil
}
