package main

import (
	"log/slog"
	"slices"

	"github.com/shek-hrd/dateherenow/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any site can join the relay)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxParticipants <= 0 {
		logger.Warn("startup security warning: MAX_PARTICIPANTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_participants_unlimited_in_prod",
			"max_participants", cfg.MaxParticipants,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: signaling rate limit disabled while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}
