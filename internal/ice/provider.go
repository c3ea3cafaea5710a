package ice

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

// Provider hands out the ICE server list sent to joining peers. With TURN REST
// configured, every call mints fresh credentials into the TURN entries.
type Provider struct {
	servers []webrtc.ICEServer
	turn    *turnREST
	metrics *metrics.Metrics
}

func NewProvider(servers []webrtc.ICEServer, rest TURNRESTConfig, m *metrics.Metrics) (*Provider, error) {
	p := &Provider{
		servers: cloneServers(servers),
		metrics: m,
	}
	if rest.Enabled() {
		turn, err := newTURNREST(rest)
		if err != nil {
			return nil, err
		}
		p.turn = turn
	}
	return p, nil
}

// ICEServers returns the list for one session. sessionID ends up in the TURN
// username so coturn logs can be correlated with relay connections; a random
// id is used when it is empty.
func (p *Provider) ICEServers(sessionID string) ([]webrtc.ICEServer, error) {
	out := cloneServers(p.servers)
	if p.turn == nil || !hasTURNServer(out) {
		return out, nil
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	creds, err := p.turn.mint(sessionID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if iceServerHasTURNURL(out[i]) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	p.metrics.Inc(metrics.ICETURNCredentialsIssued)
	return out, nil
}

// TURNRESTEnabled reports whether credentials are minted per call.
func (p *Provider) TURNRESTEnabled() bool {
	return p.turn != nil
}

func cloneServers(in []webrtc.ICEServer) []webrtc.ICEServer {
	// Non-nil so JSON encodes `[]` rather than `null`.
	out := make([]webrtc.ICEServer, len(in))
	for i, s := range in {
		out[i] = s
		out[i].URLs = append([]string(nil), s.URLs...)
	}
	return out
}

func hasTURNServer(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		if iceServerHasTURNURL(s) {
			return true
		}
	}
	return false
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
