package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shek-hrd/dateherenow/internal/metrics"
	"github.com/shek-hrd/dateherenow/internal/ratelimit"
	"github.com/shek-hrd/dateherenow/internal/signaling"
)

const wsWriteWait = 5 * time.Second

// Config holds the per-connection limits of the WebSocket server.
type Config struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	IdleTimeout       time.Duration
	PingInterval      time.Duration
	SendQueueBytes    int
}

func (c Config) WithDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.SendQueueBytes <= 0 {
		c.SendQueueBytes = 1 << 20
	}
	return c
}

// Server upgrades HTTP requests to relay connections. Origin checks are the
// job of the surrounding HTTP middleware.
type Server struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	conns  map[*conn]struct{}
}

func NewServer(cfg Config, registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg.WithDefaults(),
		registry: registry,
		logger:   logger,
		metrics:  m,
		clock:    ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		queue:  newSendQueue(s.cfg.SendQueueBytes),
		done:   make(chan struct{}),
		drain:  make(chan struct{}),
		server: s,
	}
	go c.writePump()

	if !s.track(c) {
		c.fail(signaling.CodeInternal, "relay shutting down", websocket.CloseGoingAway, "shutting down")
		c.wait()
		return
	}
	defer s.untrack(c)

	logger := s.logger.With("participant", c.id, "remote_addr", r.RemoteAddr)
	c.Deliver(signaling.Welcome(c.id))
	if err := s.registry.Join(c.id, c); err != nil {
		if errors.Is(err, ErrTooManyParticipants) {
			s.metrics.Inc(metrics.TooManyParticipants)
			logger.Warn("rejecting participant", "err", err)
			c.fail(signaling.CodeRelayFull, "relay is full", websocket.CloseTryAgainLater, "relay full")
		} else {
			logger.Error("join failed", "err", err)
			c.fail(signaling.CodeInternal, "join failed", websocket.CloseInternalServerErr, "join failed")
		}
		c.wait()
		return
	}
	s.metrics.Inc(metrics.ParticipantJoined)
	logger.Info("participant joined", "participants", s.registry.Len())

	defer func() {
		if s.registry.Leave(c.id) {
			s.metrics.Inc(metrics.ParticipantLeft)
			logger.Info("participant left", "participants", s.registry.Len())
		}
	}()

	c.readLoop(logger)
	c.wait()
}

// Close disconnects every participant.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.terminate(websocket.CloseGoingAway, "shutting down")
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// conn is one participant's WebSocket. The read loop runs on the HTTP
// handler goroutine; all data frames are written by writePump.
type conn struct {
	id     string
	ws     *websocket.Conn
	queue  *sendQueue
	server *Server

	// drain asks the write pump to flush the queue, send closeCode and stop.
	drain     chan struct{}
	drainOnce sync.Once
	closeMu   sync.Mutex
	closeCode int
	closeMsg  string

	done     chan struct{}
	doneOnce sync.Once
}

var _ Sink = (*conn)(nil)

func (c *conn) Deliver(ev signaling.ServerEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if c.queue.Enqueue(data) {
		return true
	}
	select {
	case <-c.done:
	default:
		c.server.metrics.Inc(metrics.SendQueueOverflow)
		c.server.logger.Warn("send queue overflow; dropping participant", "participant", c.id)
		go c.terminate(websocket.ClosePolicyViolation, "send queue overflow")
	}
	return false
}

func (c *conn) readLoop(logger *slog.Logger) {
	cfg := c.server.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})
	limiter := ratelimit.NewPerSecond(c.server.clock, cfg.MessagesPerSecond)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				logger.Debug("idle timeout")
				c.terminate(websocket.CloseGoingAway, "idle timeout")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		if !limiter.Allow(1) {
			c.server.metrics.Inc(metrics.RateLimited)
			c.fail(signaling.CodeRateLimited, "too many messages", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.server.metrics.Inc(metrics.BadMessage)
			c.fail(signaling.CodeBadMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := signaling.ParseClientMessage(data)
		if err != nil {
			c.server.metrics.Inc(metrics.BadMessage)
			logger.Debug("bad message", "err", err)
			c.Deliver(signaling.Error(signaling.CodeBadMessage, err.Error()))
			continue
		}
		if msg.To == c.id {
			continue
		}
		if err := c.server.registry.Forward(c.id, msg.To, msg.Signal); err != nil {
			c.server.metrics.Inc(metrics.SignalUnreachable)
			logger.Debug("dropping signal", "to", msg.To, "err", err)
			continue
		}
		c.server.metrics.Inc(metrics.SignalForwarded)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer ticker.Stop()

	flush := func() bool {
		for {
			frame, ok := c.queue.Dequeue()
			if !ok {
				return true
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return false
			}
		}
	}

	for {
		select {
		case <-c.done:
			return
		case <-c.queue.Ready():
			if !flush() {
				c.terminate(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.drain:
			flush()
			c.closeMu.Lock()
			code, msg := c.closeCode, c.closeMsg
			c.closeMu.Unlock()
			c.terminate(code, msg)
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.terminate(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// fail queues an error event and closes the connection once it is written.
func (c *conn) fail(code, message string, closeCode int, closeReason string) {
	c.Deliver(signaling.Error(code, message))
	c.drainOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode, c.closeMsg = closeCode, closeReason
		c.closeMu.Unlock()
		close(c.drain)
	})
}

// terminate closes the socket immediately. CloseAbnormalClosure skips the
// close frame since it may not be sent on the wire.
func (c *conn) terminate(code int, reason string) {
	c.doneOnce.Do(func() {
		if code != websocket.CloseAbnormalClosure {
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		}
		close(c.done)
		c.queue.Close()
		_ = c.ws.Close()
	})
}

// wait blocks until the connection is torn down, giving a pending fail a
// bounded window to flush.
func (c *conn) wait() {
	select {
	case <-c.done:
		return
	case <-c.drain:
	default:
		c.terminate(websocket.CloseNormalClosure, "")
		return
	}
	select {
	case <-c.done:
	case <-time.After(wsWriteWait):
		c.terminate(websocket.CloseAbnormalClosure, "")
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
