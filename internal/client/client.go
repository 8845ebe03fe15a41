package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shek-hrd/dateherenow/internal/signaling"
)

// EventSink consumes relay notifications. session.Registry implements it.
type EventSink interface {
	HandleRelayEvent(ev signaling.ServerEvent) bool
	RelayLost() bool
}

type Options struct {
	URL             string
	Header          http.Header
	Dialer          *websocket.Dialer
	MaxMessageBytes int64
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	Logger          *slog.Logger
}

// Client keeps one relay connection alive and implements session.Signaler
// on top of whichever connection is current.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	conn *Conn
	self string
}

func New(opts Options) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, logger: opts.Logger}
}

// SendSignal forwards a handshake payload through the current connection.
func (c *Client) SendSignal(to string, payload json.RawMessage) error {
	c.mu.Lock()
	conn, self := c.conn, c.self
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(signaling.NewSignal(self, to, payload))
}

// Connected reports whether a relay connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials the relay and feeds sink until ctx ends. When the connection
// drops, sink is told the relay was lost and the client redials with capped
// exponential backoff.
func (c *Client) Run(ctx context.Context, sink EventSink) error {
	backoff := c.opts.MinBackoff
	for {
		conn, err := Dial(ctx, c.opts.Dialer, c.opts.URL, c.opts.Header, c.opts.MaxMessageBytes, c.logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("relay unavailable", "url", c.opts.URL, "retry_in", backoff, "err", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.MinBackoff
		c.logger.Info("connected to relay", "url", c.opts.URL)

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		err = conn.Run(ctx, func(ev signaling.ServerEvent) {
			if ev.Type == signaling.EventWelcome {
				c.mu.Lock()
				c.self = ev.ID
				c.mu.Unlock()
			}
			sink.HandleRelayEvent(ev)
		})

		c.mu.Lock()
		c.conn = nil
		c.self = ""
		c.mu.Unlock()
		sink.RelayLost()

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("relay connection lost", "retry_in", backoff, "err", err)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
