// Package webrtcpeer implements transport.Transport on top of a pion
// PeerConnection with a single ordered, reliable DataChannel.
package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// APIOptions configures the pion API shared by every Peer of a client.
type APIOptions struct {
	// IncludeLoopbackCandidates gathers 127.0.0.1 candidates, which lets two
	// peers on one machine without another interface connect.
	IncludeLoopbackCandidates bool
	// Logger receives pion's internal logs. Nil keeps pion's default.
	Logger *slog.Logger
}

func NewAPI(opts APIOptions) *webrtc.API {
	se := webrtc.SettingEngine{}
	ApplySettings(&se, opts)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func ApplySettings(se *webrtc.SettingEngine, opts APIOptions) {
	if opts.IncludeLoopbackCandidates {
		se.SetIncludeLoopbackCandidate(true)
	}
	if opts.Logger != nil {
		se.LoggerFactory = NewLoggerFactory(opts.Logger)
	}
}

// NewLoggerFactory routes pion logging through slog. Pion's trace level maps
// below slog's debug level.
func NewLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	return loggerFactory{logger: logger}
}

const levelTrace = slog.LevelDebug - 4

type loggerFactory struct {
	logger *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{logger: f.logger.With("component", "pion", "scope", scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

func (l pionLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l pionLogger) Trace(msg string) { l.log(levelTrace, msg) }
func (l pionLogger) Tracef(format string, args ...any) {
	l.log(levelTrace, fmt.Sprintf(format, args...))
}
func (l pionLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l pionLogger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l pionLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l pionLogger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l pionLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l pionLogger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l pionLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l pionLogger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
