package hub

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
)

func newTestConn(id, name string) *Conn {
	return NewConn(auth.Identity{ID: id, Name: name}, 1<<20)
}

type frameMsg map[string]any

// drain returns every queued text frame without blocking.
func drain(t *testing.T, c *Conn) []frameMsg {
	t.Helper()
	var out []frameMsg
	for c.Pending() > 0 {
		f, ok := c.Next()
		if !ok {
			break
		}
		if f.Kind != FrameText {
			continue
		}
		var m frameMsg
		if err := json.Unmarshal(f.Data, &m); err != nil {
			t.Fatalf("unmarshal %q: %v", f.Data, err)
		}
		out = append(out, m)
	}
	return out
}

func types(msgs []frameMsg) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		s, _ := m["type"].(string)
		out = append(out, s)
	}
	return out
}

type staticICE struct {
	servers []webrtc.ICEServer
	err     error
	calls   []string
}

func (s *staticICE) ICEServers(sessionID string) ([]webrtc.ICEServer, error) {
	s.calls = append(s.calls, sessionID)
	return s.servers, s.err
}

type recordingInterceptor struct {
	subscribed   [][]string
	unsubscribed [][]string
	published    []string
}

func (r *recordingInterceptor) Subscribed(_ *Conn, topics []string) {
	r.subscribed = append(r.subscribed, topics)
}

func (r *recordingInterceptor) Unsubscribed(_ *Conn, topics []string) {
	r.unsubscribed = append(r.unsubscribed, topics)
}

func (r *recordingInterceptor) Published(_ *Conn, topic string, _ json.RawMessage) {
	r.published = append(r.published, topic)
}
