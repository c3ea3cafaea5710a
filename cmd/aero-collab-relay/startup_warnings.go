package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AllowDevTokens {
		logger.Warn("startup security warning: ALLOW_DEV_TOKENS accepts unsigned identity tokens",
			"warning_code", "dev_tokens_enabled",
			"mode", cfg.Mode,
		)
	}

	if lo.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset while --mode=prod (any browser origin may connect)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.BridgeScheme() == "memory" {
		logger.Warn("startup warning: BRIDGE_URL is unset while --mode=prod (awareness stays on this node)",
			"warning_code", "bridge_node_local_in_prod",
			"mode", cfg.Mode,
		)
	}

	if int64(cfg.SendQueueBytes) > 16<<20 { // 16MiB
		logger.Warn("startup security warning: SEND_QUEUE_BYTES is very large (a slow client can pin this much memory)",
			"warning_code", "send_queue_large",
			"send_queue_bytes", cfg.SendQueueBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.MaxDocumentMessageBytes > 4<<20 { // 4MiB
		logger.Warn("startup security warning: MAX_DOCUMENT_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "document_message_large",
			"max_document_message_bytes", cfg.MaxDocumentMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SignalingWSIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is very large (dead connections hold room membership longer)",
			"warning_code", "signaling_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && !lo.ContainsBy(cfg.ICEServers, iceServerHasTURNURL) {
		logger.Warn("startup warning: TURN REST is configured but no TURN urls are set; no credentials will be issued",
			"warning_code", "turn_rest_without_turn_urls",
			"mode", cfg.Mode,
		)
	}
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	return lo.ContainsBy(server.URLs, func(raw string) bool {
		url := strings.ToLower(strings.TrimSpace(raw))
		return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
	})
}
