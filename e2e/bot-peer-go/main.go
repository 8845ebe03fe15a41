package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/websocket"

	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/session"
	"github.com/shek-hrd/dateherenow/internal/signaling"
	"github.com/shek-hrd/dateherenow/internal/webrtcpeer"
)

// bot-peer-go joins a relay as a scripted participant for browser E2E tests.
// It likes everyone whose profile arrives and echoes chat back. It prints
// "BOT <id>" once the relay has assigned its identifier.
func main() {
	relayURL := envOrDefault("RELAY_URL", "ws://127.0.0.1:8080/signal")
	origin := envOrDefault("RELAY_ORIGIN", "http://localhost/")

	local := profile.Profile{
		Name: envOrDefault("BOT_NAME", "e2e-bot"),
		Bio:  "automated test peer",
	}
	if path := os.Getenv("BOT_PROFILE"); path != "" {
		p, err := profile.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load profile: %v\n", err)
			os.Exit(2)
		}
		local = p
	}
	codec, err := peerproto.ByName(envOrDefault("BOT_CODEC", "json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsCfg, err := websocket.NewConfig(relayURL, origin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay url: %v\n", err)
		os.Exit(2)
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	ws, err := wsCfg.DialContext(dialCtx)
	cancelDial()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", relayURL, err)
		os.Exit(1)
	}
	defer ws.Close()

	out := &outbox{queue: make(chan signaling.ClientMessage, 64)}
	b := &bot{ctx: ctx, logger: logger}
	api := webrtcpeer.NewAPI(webrtcpeer.APIOptions{IncludeLoopbackCandidates: true, Logger: logger})
	b.reg = session.NewRegistry(session.Config{
		Local:    local,
		Codec:    codec,
		Factory:  webrtcpeer.NewFactory(api, nil, logger),
		Signaler: out,
		Observer: b,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = b.reg.Run(ctx) }()
	go out.writeLoop(ctx, ws)
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	for {
		var data []byte
		if err := websocket.Message.Receive(ws, &data); err != nil {
			b.reg.RelayLost()
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "relay connection lost: %v\n", err)
				os.Exit(1)
			}
			return
		}
		ev, err := signaling.ParseServerEvent(data)
		if err != nil {
			logger.Warn("bad relay event", "err", err)
			continue
		}
		if ev.Type == signaling.EventWelcome {
			fmt.Printf("BOT %s\n", ev.ID)
		}
		b.reg.HandleRelayEvent(ev)
	}
}

var errQueueFull = errors.New("relay send queue full")

// outbox implements session.Signaler without blocking the registry loop.
type outbox struct {
	queue chan signaling.ClientMessage
}

func (o *outbox) SendSignal(to string, payload json.RawMessage) error {
	select {
	case o.queue <- signaling.NewSignal("", to, payload):
		return nil
	default:
		return errQueueFull
	}
}

func (o *outbox) writeLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.queue:
			if err := websocket.JSON.Send(ws, msg); err != nil {
				return
			}
		}
	}
}

// bot reacts to registry notifications. Observer methods run on the registry
// loop, so every call back into the registry happens on its own goroutine.
type bot struct {
	session.NopObserver

	ctx    context.Context
	logger *slog.Logger
	reg    *session.Registry
}

func (b *bot) SessionOpened(peer string) {
	go func() { _ = b.reg.SetActive(b.ctx, peer) }()
}

func (b *bot) ProfileReceived(peer string, p profile.Profile) {
	b.logger.Info("profile received", "peer", peer, "name", p.Name)
	go func() {
		if err := b.reg.Like(b.ctx, peer); err != nil {
			b.logger.Warn("like failed", "peer", peer, "err", err)
		}
	}()
}

func (b *bot) Matched(peer string) {
	fmt.Printf("MATCH %s\n", peer)
}

func (b *bot) ChatReceived(peer string, e session.ChatEntry) {
	text := "echo: " + strings.TrimSpace(e.Text)
	go func() {
		if err := b.reg.SendChat(b.ctx, peer, text); err != nil {
			b.logger.Warn("echo failed", "peer", peer, "err", err)
		}
	}()
}

func (b *bot) SessionClosed(peer string, err error) {
	b.logger.Info("session closed", "peer", peer, "err", err)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
