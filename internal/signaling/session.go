package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

type sessionLimits struct {
	idleTimeout       time.Duration
	pingInterval      time.Duration
	maxMessageBytes   int64
	messagesPerSecond int
}

// wsSession moves frames between a WebSocket and a hub.Conn. The reader runs
// on the handler goroutine; writes happen on the pump goroutine, except for
// pings, which gorilla allows concurrently through WriteControl.
type wsSession struct {
	ws      *websocket.Conn
	conn    *hub.Conn
	log     *slog.Logger
	metrics *metrics.Metrics
	limits  sessionLimits
	limiter *rate.Limiter

	pumpDone chan struct{}
	stopPing chan struct{}
}

func newWSSession(ws *websocket.Conn, conn *hub.Conn, limits sessionLimits, log *slog.Logger, m *metrics.Metrics) *wsSession {
	return &wsSession{
		ws:       ws,
		conn:     conn,
		log:      log,
		metrics:  m,
		limits:   limits,
		limiter:  rate.NewLimiter(rate.Limit(limits.messagesPerSecond), limits.messagesPerSecond),
		pumpDone: make(chan struct{}),
		stopPing: make(chan struct{}),
	}
}

func (s *wsSession) start() {
	s.ws.SetReadLimit(s.limits.maxMessageBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.limits.idleTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.limits.idleTimeout))
	})
	go s.writePump()
	go s.pingLoop()
}

func (s *wsSession) writePump() {
	defer close(s.pumpDone)
	for {
		f, ok := s.conn.Next()
		if !ok {
			return
		}
		if f.Kind == hub.FrameClose {
			writeClose(s.ws, f.CloseCode, f.CloseReason)
			_ = s.ws.SetReadDeadline(time.Now().Add(closeGrace))
			return
		}
		msgType := websocket.TextMessage
		if f.Kind == hub.FrameBinary {
			msgType = websocket.BinaryMessage
		}
		_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.ws.WriteMessage(msgType, f.Data); err != nil {
			s.log.Debug("ws_write_failed", "conn_id", s.conn.ID(), "err", err)
			s.conn.Close()
			_ = s.ws.Close()
			return
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(s.limits.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPing:
			return
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlWait)); err != nil {
				return
			}
		}
	}
}

// readLoop feeds inbound frames to handle until the socket fails, the peer
// closes, the connection idles out or the rate limit is exceeded.
func (s *wsSession) readLoop(handle func(kind hub.FrameKind, data []byte)) {
	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				s.conn.CloseWith(websocket.CloseNormalClosure, "idle timeout")
			} else {
				s.conn.Close()
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(s.limits.idleTimeout))

		// Checked after the read so the frame is consumed and the peer sees a
		// clean close instead of a reset.
		if !s.limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			s.conn.CloseWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		kind := hub.FrameText
		if msgType == websocket.BinaryMessage {
			kind = hub.FrameBinary
		}
		handle(kind, data)
	}
}

// finish stops deliveries, waits for the pump to flush any final close frame
// and releases the socket.
func (s *wsSession) finish() {
	s.conn.Close()
	<-s.pumpDone
	close(s.stopPing)
	_ = s.ws.Close()
}
