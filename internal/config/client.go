package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

const (
	envClientRelayURL          = "DATEHERENOW_RELAY_URL"
	envClientProfile           = "DATEHERENOW_PROFILE"
	envClientCodec             = "DATEHERENOW_CODEC"
	envClientHandshakeTimeout  = "DATEHERENOW_HANDSHAKE_TIMEOUT"
	envClientStatsInterval     = "DATEHERENOW_STATS_INTERVAL"
	envClientReconnectBackoff  = "DATEHERENOW_RECONNECT_MAX_BACKOFF"
	envClientMaxMessageBytes   = "DATEHERENOW_MAX_MESSAGE_BYTES"
	envClientLoopbackCandidate = "DATEHERENOW_LOOPBACK_CANDIDATES"
	envClientLogFormat         = "DATEHERENOW_LOG_FORMAT"
	envClientLogLevel          = "DATEHERENOW_LOG_LEVEL"

	flagRelay              = "relay"
	flagProfile            = "profile"
	flagCodec              = "codec"
	flagHandshakeTimeout   = "handshake-timeout"
	flagStatsInterval      = "stats-interval"
	flagReconnectBackoff   = "reconnect-max-backoff"
	flagMaxMessageBytes    = "max-message-bytes"
	flagLoopbackCandidates = "loopback-candidates"
	flagStun               = "stun"
	flagLogFormat          = "log-format"
	flagLogLevel           = "log-level"

	DefaultRelayURL            = "ws://127.0.0.1:8080/signal"
	DefaultCodec               = "json"
	DefaultHandshakeTimeout    = 30 * time.Second
	DefaultStatsInterval       = 5 * time.Second
	DefaultReconnectMinBackoff = 500 * time.Millisecond
	DefaultReconnectMaxBackoff = 30 * time.Second
	DefaultMaxMessageBytes     = 256 * 1024
)

// ClientConfig configures the peer client.
type ClientConfig struct {
	RelayURL    string
	ProfilePath string
	// Codec names the application message codec offered on channels this
	// client opens: json or cbor.
	Codec string

	HandshakeTimeout    time.Duration
	StatsInterval       time.Duration
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
	MaxMessageBytes     int

	ICEServers []webrtc.ICEServer
	// IncludeLoopbackCandidates lets two clients on one host connect without
	// a LAN interface.
	IncludeLoopbackCandidates bool

	Logging Logging
}

// RegisterClientFlags adds the client flags to fs. Defaults shown in help are
// the built-in ones; environment values are applied by LoadClient.
func RegisterClientFlags(fs *pflag.FlagSet) {
	fs.String(flagRelay, DefaultRelayURL, "Relay WebSocket URL (env "+envClientRelayURL+")")
	fs.String(flagProfile, "", "Path to a YAML profile file (env "+envClientProfile+")")
	fs.String(flagCodec, DefaultCodec, "Application message codec: json or cbor (env "+envClientCodec+")")
	fs.Duration(flagHandshakeTimeout, DefaultHandshakeTimeout, "Abort peer handshakes that are not open after this long (env "+envClientHandshakeTimeout+")")
	fs.Duration(flagStatsInterval, DefaultStatsInterval, "Latency/route refresh interval (env "+envClientStatsInterval+")")
	fs.Duration(flagReconnectBackoff, DefaultReconnectMaxBackoff, "Maximum delay between relay reconnect attempts (env "+envClientReconnectBackoff+")")
	fs.Int(flagMaxMessageBytes, DefaultMaxMessageBytes, "Maximum encoded application message size (env "+envClientMaxMessageBytes+")")
	fs.Bool(flagLoopbackCandidates, false, "Gather loopback ICE candidates (env "+envClientLoopbackCandidate+")")
	fs.StringSlice(flagStun, nil, "STUN server URLs (env "+envStunURLs+")")
	fs.String(flagLogFormat, string(LogFormatText), "Log format: text or json (env "+envClientLogFormat+")")
	fs.String(flagLogLevel, "info", "Log level: debug, info, warn, error (env "+envClientLogLevel+")")
}

// LoadClient resolves client configuration: built-in defaults, then the
// environment, then flags explicitly set on fs.
func LoadClient(fs *pflag.FlagSet) (ClientConfig, error) {
	return loadClient(os.LookupEnv, fs)
}

func loadClient(lookup func(string) (string, bool), fs *pflag.FlagSet) (ClientConfig, error) {
	cfg := ClientConfig{
		RelayURL:            envOrDefault(lookup, envClientRelayURL, DefaultRelayURL),
		ProfilePath:         envOrDefault(lookup, envClientProfile, ""),
		Codec:               envOrDefault(lookup, envClientCodec, DefaultCodec),
		ReconnectMinBackoff: DefaultReconnectMinBackoff,
	}
	var err error
	if cfg.HandshakeTimeout, err = envDurationOrDefault(lookup, envClientHandshakeTimeout, DefaultHandshakeTimeout); err != nil {
		return ClientConfig{}, err
	}
	if cfg.StatsInterval, err = envDurationOrDefault(lookup, envClientStatsInterval, DefaultStatsInterval); err != nil {
		return ClientConfig{}, err
	}
	if cfg.ReconnectMaxBackoff, err = envDurationOrDefault(lookup, envClientReconnectBackoff, DefaultReconnectMaxBackoff); err != nil {
		return ClientConfig{}, err
	}
	if cfg.MaxMessageBytes, err = envIntOrDefault(lookup, envClientMaxMessageBytes, DefaultMaxMessageBytes); err != nil {
		return ClientConfig{}, err
	}
	if cfg.IncludeLoopbackCandidates, err = envBoolOrDefault(lookup, envClientLoopbackCandidate, false); err != nil {
		return ClientConfig{}, err
	}
	logFormat := envOrDefault(lookup, envClientLogFormat, string(LogFormatText))
	logLevel := envOrDefault(lookup, envClientLogLevel, "info")
	stunURLs := splitCommaSeparated(envOrDefault(lookup, envStunURLs, ""))

	if fs != nil {
		var ferr error
		set := func(name string, apply func() error) {
			if ferr == nil && fs.Changed(name) {
				ferr = apply()
			}
		}
		set(flagRelay, func() (err error) { cfg.RelayURL, err = fs.GetString(flagRelay); return })
		set(flagProfile, func() (err error) { cfg.ProfilePath, err = fs.GetString(flagProfile); return })
		set(flagCodec, func() (err error) { cfg.Codec, err = fs.GetString(flagCodec); return })
		set(flagHandshakeTimeout, func() (err error) { cfg.HandshakeTimeout, err = fs.GetDuration(flagHandshakeTimeout); return })
		set(flagStatsInterval, func() (err error) { cfg.StatsInterval, err = fs.GetDuration(flagStatsInterval); return })
		set(flagReconnectBackoff, func() (err error) { cfg.ReconnectMaxBackoff, err = fs.GetDuration(flagReconnectBackoff); return })
		set(flagMaxMessageBytes, func() (err error) { cfg.MaxMessageBytes, err = fs.GetInt(flagMaxMessageBytes); return })
		set(flagLoopbackCandidates, func() (err error) {
			cfg.IncludeLoopbackCandidates, err = fs.GetBool(flagLoopbackCandidates)
			return
		})
		set(flagStun, func() (err error) { stunURLs, err = fs.GetStringSlice(flagStun); return })
		set(flagLogFormat, func() (err error) { logFormat, err = fs.GetString(flagLogFormat); return })
		set(flagLogLevel, func() (err error) { logLevel, err = fs.GetString(flagLogLevel); return })
		if ferr != nil {
			return ClientConfig{}, ferr
		}
	}

	if cfg.Logging, err = parseLogging(logFormat, logLevel); err != nil {
		return ClientConfig{}, err
	}
	u, err := url.Parse(cfg.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ClientConfig{}, fmt.Errorf("invalid relay URL %q (expected ws:// or wss://)", cfg.RelayURL)
	}
	if cfg.Codec != "json" && cfg.Codec != "cbor" {
		return ClientConfig{}, fmt.Errorf("invalid codec %q (expected json or cbor)", cfg.Codec)
	}
	if cfg.HandshakeTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("--%s must be > 0", flagHandshakeTimeout)
	}
	if cfg.StatsInterval <= 0 {
		return ClientConfig{}, fmt.Errorf("--%s must be > 0", flagStatsInterval)
	}
	if cfg.ReconnectMaxBackoff < cfg.ReconnectMinBackoff {
		return ClientConfig{}, fmt.Errorf("--%s must be >= %s", flagReconnectBackoff, cfg.ReconnectMinBackoff)
	}
	if cfg.MaxMessageBytes <= 0 {
		return ClientConfig{}, fmt.Errorf("--%s must be > 0", flagMaxMessageBytes)
	}

	cfg.ICEServers, err = ParseICEServers(
		envOrDefault(lookup, envICEServersJSON, ""),
		stunURLs,
		splitCommaSeparated(envOrDefault(lookup, envTurnURLs, "")),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
	)
	if err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}
