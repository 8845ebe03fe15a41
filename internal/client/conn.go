// Package client connects a session Registry to the relay and keeps it
// connected.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shek-hrd/dateherenow/internal/signaling"
)

const (
	writeTimeout = 5 * time.Second
	sendQueueLen = 128
)

var (
	ErrNotConnected  = errors.New("client: not connected to relay")
	ErrSendQueueFull = errors.New("client: relay send queue full")
)

// Conn is one WebSocket connection to the relay. Writes go through a
// buffered queue so callers never block on the network.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a relay connection. maxMessageBytes bounds inbound frames; zero
// leaves gorilla's default.
func Dial(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, maxMessageBytes int64, logger *slog.Logger) (*Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	if maxMessageBytes > 0 {
		ws.SetReadLimit(maxMessageBytes)
	}
	return &Conn{
		ws:     ws,
		logger: logger,
		send:   make(chan []byte, sendQueueLen),
		done:   make(chan struct{}),
	}, nil
}

// Send queues msg. It fails instead of blocking when the queue is full.
func (c *Conn) Send(msg signaling.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

// Run reads server events and passes them to handle until the connection
// fails or ctx ends. handle runs on the read goroutine.
func (c *Conn) Run(ctx context.Context, handle func(signaling.ServerEvent)) error {
	defer c.Close()

	errCh := make(chan error, 2)
	go func() { errCh <- c.writeLoop() }()
	go func() { errCh <- c.readLoop(handle) }()

	select {
	case <-ctx.Done():
		c.closeWithFrame(websocket.CloseNormalClosure, "client shutting down")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Conn) readLoop(handle func(signaling.ServerEvent)) error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := signaling.ParseServerEvent(data)
		if err != nil {
			c.logger.Warn("ignoring relay event", "err", err)
			continue
		}
		handle(ev)
	}
}

func (c *Conn) writeLoop() error {
	for {
		select {
		case <-c.done:
			return ErrNotConnected
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) closeWithFrame(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
	c.Close()
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
