package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/shek-hrd/dateherenow/internal/origin"
)

const (
	envVarListenAddr      = "DATEHERENOW_RELAY_LISTEN_ADDR"
	envVarMode            = "DATEHERENOW_RELAY_MODE"
	envVarLogFormat       = "DATEHERENOW_RELAY_LOG_FORMAT"
	envVarLogLevel        = "DATEHERENOW_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "DATEHERENOW_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMaxParticipants = "MAX_PARTICIPANTS"

	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueBytes       = "SIGNALING_SEND_QUEUE_BYTES"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueBytes       = 1 << 20 // 1MiB
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logging selects the slog handler built by NewLogger.
type Logging struct {
	Format LogFormat
	Level  slog.Level
}

// Config is the relay server configuration.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	Mode            Mode
	Logging         Logging
	ShutdownTimeout time.Duration

	// MaxParticipants bounds concurrently joined participants. <= 0 means
	// unlimited.
	MaxParticipants int

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SignalingSendQueueBytes bounds frames queued for one slow connection
	// before the relay drops it.
	SignalingSendQueueBytes int
}

// Load reads relay configuration from the environment, then applies
// command-line flags on top.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipants, 0)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSignalingSendQueueBytes, DefaultSignalingSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := pflag.NewFlagSet("dateherenow-relay", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var modeStr, logFormatStr, logLevelStr string
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.IntVar(&maxParticipants, "max-participants", maxParticipants, "Maximum concurrently joined participants (0 = unlimited)")
	fs.DurationVar(&idleTimeout, "signaling-ws-idle-timeout", idleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "Ping interval for signaling WebSocket connections (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per connection (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueBytes, "signaling-send-queue-bytes", sendQueueBytes, "Max bytes queued for one connection before it is dropped (env "+envVarSignalingSendQueueBytes+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	// A mode given only on the command line still picks the mode's log
	// defaults unless the format/level were set explicitly.
	if !fs.Changed("log-format") && envOrDefault(lookup, envVarLogFormat, "") == "" {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !fs.Changed("log-level") && envOrDefault(lookup, envVarLogLevel, "") == "" {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logging, err := parseLogging(logFormatStr, logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("--shutdown-timeout must be > 0")
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("--signaling-ws-idle-timeout must be > 0")
	}
	if pingInterval <= 0 || pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("--signaling-ws-ping-interval must be > 0 and < --signaling-ws-idle-timeout (%s)", idleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("--max-signaling-message-bytes must be > 0")
	}
	if int64(sendQueueBytes) < maxMessageBytes {
		return Config{}, fmt.Errorf("--signaling-send-queue-bytes must be >= --max-signaling-message-bytes (%d)", maxMessageBytes)
	}

	return Config{
		ListenAddr:                    listenAddr,
		AllowedOrigins:                allowedOrigins,
		Mode:                          mode,
		Logging:                       logging,
		ShutdownTimeout:               shutdownTimeout,
		MaxParticipants:               maxParticipants,
		SignalingWSIdleTimeout:        idleTimeout,
		SignalingWSPingInterval:       pingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SignalingSendQueueBytes:       sendQueueBytes,
	}, nil
}

// NewLogger builds the process logger writing to w.
func NewLogger(l Logging, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: l.Level}

	var handler slog.Handler
	switch l.Format {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", l.Format)
	}
	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogging(format, level string) (Logging, error) {
	f, err := parseLogFormat(format)
	if err != nil {
		return Logging{}, err
	}
	l, err := parseLogLevel(level)
	if err != nil {
		return Logging{}, err
	}
	return Logging{Format: f, Level: l}, nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok || normalized == "null" {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
