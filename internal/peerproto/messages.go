package peerproto

import (
	"errors"
	"fmt"

	"github.com/shek-hrd/dateherenow/internal/profile"
)

type Type string

const (
	TypeProfile Type = "profile"
	TypeLike    Type = "like"
	TypeChat    Type = "chat"
)

var (
	// ErrMalformedMessage marks a payload that could not be decoded or failed
	// validation. Only that message is discarded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownType marks a well formed message with a tag this build does
	// not understand.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMessageTooLarge is returned by Encode when the encoded message would
	// exceed the channel limit.
	ErrMessageTooLarge = errors.New("message too large")
)

// Message is one application message. Only the field matching Type is set.
type Message struct {
	Type    Type             `json:"type" cbor:"type"`
	Profile *profile.Profile `json:"profile,omitempty" cbor:"profile,omitempty"`
	Text    string           `json:"text,omitempty" cbor:"text,omitempty"`
}

func ProfileMessage(p profile.Profile) Message {
	c := p.Clone()
	return Message{Type: TypeProfile, Profile: &c}
}

func LikeMessage() Message { return Message{Type: TypeLike} }

func ChatMessage(text string) Message { return Message{Type: TypeChat, Text: text} }

func (m Message) validate() error {
	switch m.Type {
	case TypeProfile:
		if m.Profile == nil {
			return errors.New("profile message missing profile")
		}
		if loc := m.Profile.Location; loc != nil {
			if err := loc.Validate(); err != nil {
				return fmt.Errorf("profile location: %w", err)
			}
		}
	case TypeLike:
	case TypeChat:
		if m.Text == "" {
			return errors.New("chat message missing text")
		}
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Encode validates and marshals m. maxBytes <= 0 disables the size check.
func Encode(c Codec, m Message, maxBytes int) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	b, err := c.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	if maxBytes > 0 && len(b) > maxBytes {
		return nil, fmt.Errorf("%w: %s message is %d bytes (max %d)", ErrMessageTooLarge, m.Type, len(b), maxBytes)
	}
	return b, nil
}

// Decode unmarshals and validates one message. Unknown fields are accepted;
// unknown tags are reported with ErrUnknownType and everything else that
// fails with ErrMalformedMessage.
func Decode(c Codec, data []byte) (Message, error) {
	var m Message
	if err := c.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.validate(); err != nil {
		if errors.Is(err, ErrUnknownType) {
			return m, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
