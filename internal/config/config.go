package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/origin"
)

const (
	envVarListenAddr      = "AERO_COLLAB_RELAY_LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_COLLAB_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_COLLAB_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_COLLAB_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_COLLAB_RELAY_MODE"
	envVarEnvFile         = "AERO_COLLAB_RELAY_ENV_FILE"

	// Identity.
	envVarJWTSecret      = "JWT_SECRET"
	envVarAllowDevTokens = "ALLOW_DEV_TOKENS"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueBytes                = "SEND_QUEUE_BYTES"

	// Document host.
	envVarMaxDocumentMessageBytes = "MAX_DOCUMENT_MESSAGE_BYTES"

	// Cross-node awareness bridge.
	envVarBridgeURL             = "BRIDGE_URL"
	envVarAwarenessTopicPrefix  = "AWARENESS_TOPIC_PREFIX"
	envVarBridgeChannelPrefix   = "BRIDGE_CHANNEL_PREFIX"
	envVarBridgeTeardownTimeout = "BRIDGE_TEARDOWN_TIMEOUT"

	// Document indexing queue.
	envVarIndexInterval  = "INDEX_INTERVAL"
	envVarIndexBatchSize = "INDEX_BATCH_SIZE"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNSecret             = "TURN_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	flagEnvFile = "env-file"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueBytes                = 1 << 20 // 1MiB
	DefaultMaxDocumentMessageBytes       = int64(512 * 1024)

	DefaultAwarenessTopicPrefix  = "awareness:"
	DefaultBridgeTeardownTimeout = 5 * time.Second

	DefaultIndexInterval  = 5 * time.Second
	DefaultIndexBatchSize = 10

	DefaultTURNRESTTTLSeconds     int64  = 24 * 60 * 60
	DefaultTURNRESTUsernamePrefix string = "aero"
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

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	JWTSecret      string
	AllowDevTokens bool

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SendQueueBytes bounds the outbound bytes buffered per connection before
	// deliveries to it are skipped.
	SendQueueBytes int

	MaxDocumentMessageBytes int64

	// BridgeURL selects the cross-node broker: empty/memory:// keeps awareness
	// node-local, redis:// or rediss:// uses Redis pub/sub, nats:// uses NATS.
	BridgeURL             string
	AwarenessTopicPrefix  string
	BridgeChannelPrefix   string
	BridgeTeardownTimeout time.Duration

	IndexInterval  time.Duration
	IndexBatchSize int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// BridgeScheme returns the normalized scheme of BridgeURL ("memory" when unset).
func (c Config) BridgeScheme() string {
	if strings.TrimSpace(c.BridgeURL) == "" {
		return "memory"
	}
	u, err := url.Parse(c.BridgeURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envFile := envOrDefault(lookup, envVarEnvFile, "")
	if path, ok := envFileFromArgs(args); ok {
		envFile = path
	}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return Config{}, fmt.Errorf("read env file %q: %w", envFile, err)
		}
		lookup = layeredLookup(lookup, values)
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := DefaultListenAddr
	if port := envOrDefault(lookup, envVarPort, ""); port != "" {
		listenAddr = ":" + strings.TrimSpace(port)
	}
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	ice := iceEnv{
		serversJSON:    envOrDefault(lookup, envICEServersJSON, ""),
		stunURLs:       envOrDefault(lookup, envStunURLs, ""),
		turnURLs:       envOrDefault(lookup, envTurnURLs, ""),
		turnUsername:   envOrDefault(lookup, envTurnUsername, ""),
		turnCredential: envOrDefault(lookup, envTurnCredential, ""),
		coturnHost:     envOrDefault(lookup, envCoturnHost, ""),
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, envOrDefault(lookup, envVarTURNSecret, ""))
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	allowDevTokensRaw := envOrDefault(lookup, envVarAllowDevTokens, "")

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	maxDocumentMessageBytes := DefaultMaxDocumentMessageBytes
	if raw, ok := lookup(envVarMaxDocumentMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxDocumentMessageBytes, raw, err)
		}
		maxDocumentMessageBytes = n
	}

	bridgeURL := envOrDefault(lookup, envVarBridgeURL, "")
	awarenessTopicPrefix := envOrDefault(lookup, envVarAwarenessTopicPrefix, DefaultAwarenessTopicPrefix)
	bridgeChannelPrefix := envOrDefault(lookup, envVarBridgeChannelPrefix, "")
	bridgeTeardownTimeout, err := envDurationOrDefault(lookup, envVarBridgeTeardownTimeout, DefaultBridgeTeardownTimeout)
	if err != nil {
		return Config{}, err
	}

	indexInterval, err := envDurationOrDefault(lookup, envVarIndexInterval, DefaultIndexInterval)
	if err != nil {
		return Config{}, err
	}
	indexBatchSize, err := envIntOrDefault(lookup, envVarIndexBatchSize, DefaultIndexBatchSize)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-collab-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr           string
		logFormatStr      string
		logLevelStr       string
		allowDevTokensStr string
		envFileFlag       string
	)

	fs.StringVar(&envFileFlag, flagEnvFile, envFile, "Optional dotenv file layered under the process environment (env "+envVarEnvFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&jwtSecret, "jwt-secret", jwtSecret, "HMAC secret for identity tokens (env "+envVarJWTSecret+")")
	fs.StringVar(&allowDevTokensStr, "allow-dev-tokens", allowDevTokensRaw, "Accept unsigned *.demo-signature tokens (default: on in dev mode; env "+envVarAllowDevTokens+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close WebSocket connections with no inbound traffic for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "WebSocket ping interval (env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound WebSocket message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound WebSocket messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueBytes, "send-queue-bytes", sendQueueBytes, "Max queued outbound bytes per connection before deliveries are skipped (env "+envVarSendQueueBytes+")")
	fs.Int64Var(&maxDocumentMessageBytes, "max-document-message-bytes", maxDocumentMessageBytes, "Max inbound document update size (env "+envVarMaxDocumentMessageBytes+")")

	fs.StringVar(&bridgeURL, "bridge-url", bridgeURL, "Cross-node broker URL: redis://, rediss://, nats:// or empty for node-local (env "+envVarBridgeURL+")")
	fs.StringVar(&awarenessTopicPrefix, "awareness-topic-prefix", awarenessTopicPrefix, "Topic name prefix bridged across nodes (env "+envVarAwarenessTopicPrefix+")")
	fs.StringVar(&bridgeChannelPrefix, "bridge-channel-prefix", bridgeChannelPrefix, "Namespace prepended to broker channel names (env "+envVarBridgeChannelPrefix+")")
	fs.DurationVar(&bridgeTeardownTimeout, "bridge-teardown-timeout", bridgeTeardownTimeout, "Max time to wait for a connection's bridge to unsubscribe (env "+envVarBridgeTeardownTimeout+")")

	fs.DurationVar(&indexInterval, "index-interval", indexInterval, "Document indexing interval (env "+envVarIndexInterval+")")
	fs.IntVar(&indexBatchSize, "index-batch-size", indexBatchSize, "Documents indexed per interval (env "+envVarIndexBatchSize+")")

	fs.StringVar(&ice.serversJSON, "ice-servers-json", ice.serversJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&ice.stunURLs, "stun-urls", ice.stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&ice.turnURLs, "turn-urls", ice.turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&ice.turnUsername, "turn-username", ice.turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&ice.turnCredential, "turn-credential", ice.turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&ice.coturnHost, "coturn-host", ice.coturnHost, "coturn host used to derive TURN URLs when none are given ("+envCoturnHost+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// If the mode is switched via flags, and the user didn't explicitly set
	// log format/level, keep the defaults consistent with the selected mode.
	logFormatFlagSet := false
	logLevelFlagSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatFlagSet = true
		case "log-level":
			logLevelFlagSet = true
		}
	})
	if !logFormatFlagSet && !envLogFormatSet {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelFlagSet && !envLogLevelSet {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowDevTokens := mode == ModeDev
	if strings.TrimSpace(allowDevTokensStr) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(allowDevTokensStr))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarAllowDevTokens, allowDevTokensStr, err)
		}
		allowDevTokens = v
	}
	if strings.TrimSpace(jwtSecret) == "" && !allowDevTokens {
		return Config{}, fmt.Errorf("%s is required when dev tokens are disabled", envVarJWTSecret)
	}

	allowedOrigins, err := origin.ParseAllowList(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be less than %s (%s)", envVarSignalingWSPingInterval, signalingWSPingInterval, envVarSignalingWSIdleTimeout, signalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if int64(sendQueueBytes) < maxSignalingMessageBytes {
		return Config{}, fmt.Errorf("%s (%d) must be >= %s (%d)", envVarSendQueueBytes, sendQueueBytes, envVarMaxSignalingMessageBytes, maxSignalingMessageBytes)
	}
	if maxDocumentMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxDocumentMessageBytes)
	}
	if int64(sendQueueBytes) < maxDocumentMessageBytes {
		return Config{}, fmt.Errorf("%s (%d) must be >= %s (%d)", envVarSendQueueBytes, sendQueueBytes, envVarMaxDocumentMessageBytes, maxDocumentMessageBytes)
	}
	if bridgeTeardownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarBridgeTeardownTimeout)
	}
	if strings.TrimSpace(awarenessTopicPrefix) == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envVarAwarenessTopicPrefix)
	}
	if indexInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarIndexInterval)
	}
	if indexBatchSize <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarIndexBatchSize)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		JWTSecret:      jwtSecret,
		AllowDevTokens: allowDevTokens,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueBytes:                sendQueueBytes,

		MaxDocumentMessageBytes: maxDocumentMessageBytes,

		BridgeURL:             strings.TrimSpace(bridgeURL),
		AwarenessTopicPrefix:  awarenessTopicPrefix,
		BridgeChannelPrefix:   bridgeChannelPrefix,
		BridgeTeardownTimeout: bridgeTeardownTimeout,

		IndexInterval:  indexInterval,
		IndexBatchSize: indexBatchSize,

		TURNREST: turnREST,
	}

	switch cfg.BridgeScheme() {
	case "memory", "redis", "rediss", "nats":
	default:
		return Config{}, fmt.Errorf("invalid %s %q (expected redis://, rediss://, nats:// or empty)", envVarBridgeURL, bridgeURL)
	}

	iceServers, err := parseICEServersFromValues(ice, turnREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// envFileFromArgs finds --env-file before flag parsing, since the file feeds
// the defaults of every other flag.
func envFileFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if value, ok := strings.CutPrefix(name, flagEnvFile+"="); ok {
			return value, true
		}
		if name == flagEnvFile && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// layeredLookup resolves keys from the process environment first and falls
// back to values read from a dotenv file.
func layeredLookup(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
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
