package webrtcpeer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/shek-hrd/dateherenow/internal/transport"
)

// DataChannelLabel is the label of the one channel two peers share. The
// channel's protocol carries the codec content type.
const DataChannelLabel = "app"

func validateDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabel {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabel, dc.Label())
	}
	// Profile, like and chat messages rely on in-order delivery.
	if !dc.Ordered() {
		return fmt.Errorf("datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil || dc.MaxRetransmits() != nil {
		return fmt.Errorf("datachannel must be fully reliable")
	}
	return nil
}

// channel adapts a pion DataChannel to transport.Channel. Messages that
// arrive before OnMessage is registered are held until it is.
type channel struct {
	dc *webrtc.DataChannel

	mu        sync.Mutex
	onMessage func([]byte)
	backlog   [][]byte
}

var _ transport.Channel = (*channel)(nil)

func newChannel(dc *webrtc.DataChannel) *channel {
	c := &channel{dc: dc}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Copy because pion reuses internal buffers.
		data := append([]byte(nil), msg.Data...)
		c.mu.Lock()
		fn := c.onMessage
		if fn == nil {
			c.backlog = append(c.backlog, data)
		}
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	})
	return c
}

func (c *channel) Protocol() string { return c.dc.Protocol() }

func (c *channel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *channel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	backlog := c.backlog
	c.backlog = nil
	c.onMessage = fn
	c.mu.Unlock()
	for _, data := range backlog {
		fn(data)
	}
}

func (c *channel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *channel) Close() error { return c.dc.Close() }
