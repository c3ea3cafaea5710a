package signaling

import (
	"net/http"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.PathValue("room"))
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	ws, ident, ok := s.accept(w, r)
	if !ok {
		return
	}

	conn := s.register(ident)
	log := s.log.With("conn_id", conn.ID(), "user_id", ident.ID, "room", room)
	log.Info("document_connected")

	maxBytes := s.cfg.MaxDocumentMessageBytes
	if maxBytes <= 0 {
		maxBytes = 512 * 1024
	}
	sess := newWSSession(ws, conn, s.sessionLimits(maxBytes), log, s.metrics)
	sess.start()
	s.cfg.Documents.Attach(conn, room)

	defer func() {
		s.cfg.Documents.Detach(conn, room)
		s.cfg.Registry.Deregister(conn)
		s.metrics.Inc(metrics.ConnectionsClosed)
		sess.finish()
		log.Info("document_disconnected", "duration", time.Since(conn.ConnectedAt()).Round(time.Millisecond))
	}()

	sess.readLoop(func(kind hub.FrameKind, data []byte) {
		s.cfg.Documents.Relay(conn, room, kind, data)
	})
}
