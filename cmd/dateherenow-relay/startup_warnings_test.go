package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shek-hrd/dateherenow/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupSecurityWarnings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want []string
	}{
		{
			name: "safe dev defaults",
			cfg:  config.Config{Mode: config.ModeDev, MaxSignalingMessageBytes: 64 * 1024, MaxSignalingMessagesPerSecond: 50},
		},
		{
			name: "wildcard origin",
			cfg:  config.Config{Mode: config.ModeDev, AllowedOrigins: []string{"https://a.example", "*"}, MaxSignalingMessagesPerSecond: 50},
			want: []string{"allowed_origins_wildcard"},
		},
		{
			name: "prod without limits",
			cfg:  config.Config{Mode: config.ModeProd},
			want: []string{"max_participants_unlimited_in_prod", "signaling_rate_limit_disabled_in_prod"},
		},
		{
			name: "prod with limits",
			cfg:  config.Config{Mode: config.ModeProd, MaxParticipants: 100, MaxSignalingMessagesPerSecond: 50},
		},
		{
			name: "large messages",
			cfg:  config.Config{Mode: config.ModeDev, MaxSignalingMessageBytes: 4 << 20, MaxSignalingMessagesPerSecond: 50},
			want: []string{"max_signaling_message_large"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := newRecordingLogger()
			logStartupSecurityWarnings(logger, tt.cfg)

			got := warningCodes(records())
			if len(got) != len(tt.want) {
				t.Fatalf("warnings=%v, want %v", got, tt.want)
			}
			for _, code := range tt.want {
				if !got[code] {
					t.Fatalf("warnings=%v, missing %q", got, code)
				}
			}
		})
	}
}

func TestStartupSecurityWarnings_Attrs(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := config.Config{Mode: config.ModeProd, MaxSignalingMessagesPerSecond: 50}

	logStartupSecurityWarnings(logger.With("component", "relay"), cfg)

	for _, r := range records() {
		if r.attrs["warning_code"] != "max_participants_unlimited_in_prod" {
			continue
		}
		if r.attrs["mode"] != config.ModeProd {
			t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
		}
		if r.attrs["component"] != "relay" {
			t.Fatalf("component attr = %#v, want relay", r.attrs["component"])
		}
		return
	}
	t.Fatalf("expected warning_code=max_participants_unlimited_in_prod, got %#v", records())
}
