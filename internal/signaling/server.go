package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/bridge"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/docs"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/origin"
)

const connectedMessage = "Connected to signaling server"

// Config wires together the runtime dependencies for the WebSocket surface.
type Config struct {
	Verifier   auth.Verifier
	Registry   *hub.Registry
	Dispatcher *hub.Dispatcher

	// Broker enables the cross-node awareness bridge. Nil keeps awareness
	// node-local.
	Broker                bridge.Broker
	Bridge                bridge.Config
	BridgeTeardownTimeout time.Duration

	// Documents enables GET /doc/{room}.
	Documents *docs.Registry

	// Origins restricts browser origins at upgrade time. Nil allows all.
	Origins *origin.Policy

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	SendQueueBytes                int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	MaxDocumentMessageBytes       int64
}

// Server implements the relay's WebSocket endpoints.
//
// Endpoints:
//   - GET /            : signaling (y-webrtc compatible path)
//   - GET /signal      : signaling
//   - GET /doc/{room}  : document sync relay
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	closing atomic.Bool
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Registry == nil {
		cfg.Registry = hub.NewRegistry()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = hub.NewDispatcher(hub.NewTopicRouter(log, cfg.Metrics), hub.NewRoomManager(nil, log, cfg.Metrics), log, cfg.Metrics)
	}
	s := &Server{cfg: cfg, log: log, metrics: cfg.Metrics}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := cfg.Origins.Allows(r.Header.Get("Origin"))
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleSignal)
	mux.HandleFunc("GET /signal", s.handleSignal)
	if s.cfg.Documents != nil {
		mux.HandleFunc("GET /doc/{room}", s.handleDocument)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close asks every live connection to close with 1001 and rejects new ones.
// Connections finish their own teardown.
func (s *Server) Close() {
	s.closing.Store(true)
	for _, c := range s.cfg.Registry.Conns() {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// Shutdown calls Close and waits until every connection has finished its
// teardown or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.cfg.Registry.Count() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("signaling shutdown: %d connections still open: %w", s.cfg.Registry.Count(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Server) sessionLimits(maxMessageBytes int64) sessionLimits {
	l := sessionLimits{
		idleTimeout:       s.cfg.SignalingWSIdleTimeout,
		pingInterval:      s.cfg.SignalingWSPingInterval,
		maxMessageBytes:   maxMessageBytes,
		messagesPerSecond: s.cfg.MaxSignalingMessagesPerSecond,
	}
	if l.idleTimeout <= 0 {
		l.idleTimeout = 60 * time.Second
	}
	if l.pingInterval <= 0 || l.pingInterval >= l.idleTimeout {
		l.pingInterval = l.idleTimeout / 3
	}
	if l.maxMessageBytes <= 0 {
		l.maxMessageBytes = 64 * 1024
	}
	if l.messagesPerSecond <= 0 {
		l.messagesPerSecond = 50
	}
	return l
}

func (s *Server) sendQueueBytes() int {
	if s.cfg.SendQueueBytes <= 0 {
		return 1 << 20
	}
	return s.cfg.SendQueueBytes
}

func (s *Server) bridgeTeardownTimeout() time.Duration {
	if s.cfg.BridgeTeardownTimeout <= 0 {
		return 5 * time.Second
	}
	return s.cfg.BridgeTeardownTimeout
}

// accept upgrades r and establishes the caller's identity. On failure the
// socket has already been closed with a policy violation.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, auth.Identity, bool) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, auth.Identity{}, false
	}
	if s.closing.Load() {
		writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return nil, auth.Identity{}, false
	}
	if s.cfg.Verifier == nil {
		writeClose(ws, websocket.CloseInternalServerErr, "authentication not configured")
		_ = ws.Close()
		return nil, auth.Identity{}, false
	}

	ident, err := s.authenticate(r)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		reason := "Invalid token"
		if errors.Is(err, auth.ErrMissingCredentials) {
			reason = "Authentication required"
		}
		s.log.Info("ws_auth_rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "err", err)
		writeClose(ws, websocket.ClosePolicyViolation, reason)
		_ = ws.Close()
		return nil, auth.Identity{}, false
	}
	return ws, ident, true
}

// register adds a connection for ident to the registry. A Close that ran
// between accept and Register missed it, so the closing flag is checked again
// once the connection is visible.
func (s *Server) register(ident auth.Identity) *hub.Conn {
	conn := hub.NewConn(ident, s.sendQueueBytes())
	s.cfg.Registry.Register(conn)
	s.metrics.Inc(metrics.ConnectionsOpened)
	if s.closing.Load() {
		conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	return conn
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	cred, err := auth.CredentialFromRequest(r)
	if err != nil {
		return auth.Identity{}, err
	}
	return s.cfg.Verifier.Verify(cred)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ws, ident, ok := s.accept(w, r)
	if !ok {
		return
	}

	conn := s.register(ident)
	log := s.log.With("conn_id", conn.ID(), "user_id", ident.ID)
	log.Info("signaling_connected", "user_name", ident.Name)

	var br *bridge.Bridge
	if s.cfg.Broker != nil {
		br = bridge.Attach(conn, bridge.Options{
			Broker:  s.cfg.Broker,
			Topics:  s.cfg.Dispatcher.Topics,
			Config:  s.cfg.Bridge,
			Logger:  s.log,
			Metrics: s.metrics,
		})
	}

	sess := newWSSession(ws, conn, s.sessionLimits(s.cfg.MaxSignalingMessageBytes), log, s.metrics)
	sess.start()
	conn.SendJSON(hub.ConnectedMessage{Type: hub.TypeConnected, Message: connectedMessage, UserID: ident.ID})

	defer func() {
		s.cfg.Dispatcher.Teardown(conn)
		if br != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.bridgeTeardownTimeout())
			if err := br.Close(ctx); err != nil {
				log.Warn("bridge_teardown_failed", "err", err)
			}
			cancel()
		}
		s.cfg.Registry.Deregister(conn)
		s.metrics.Inc(metrics.ConnectionsClosed)
		sess.finish()
		log.Info("signaling_disconnected",
			"duration", time.Since(conn.ConnectedAt()).Round(time.Millisecond),
			"dropped_frames", conn.Dropped(),
		)
	}()

	sess.readLoop(func(kind hub.FrameKind, data []byte) {
		if kind != hub.FrameText {
			s.cfg.Dispatcher.ReplyError(conn, hub.MsgBinaryNotSupported)
			return
		}
		if err := s.cfg.Dispatcher.Handle(conn, data); err != nil {
			log.Debug("signaling_message_rejected", "err", err)
		}
	})
}
