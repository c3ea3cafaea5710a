package metrics

import "sync"

// Event names. Components increment these directly; the Prometheus handler
// exports every name as an `event` label value.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	AuthFailure       = "auth_failure"
	MalformedMessage  = "malformed_message"
	RateLimited       = "rate_limited"

	TopicDeliveries = "topic_deliveries"
	TopicDropped    = "topic_dropped"

	SignalsRelayed = "signals_relayed"
	SignalErrors   = "signal_errors"

	BridgePublished          = "bridge_published"
	BridgePublishFailed      = "bridge_publish_failed"
	BridgePublishDropped     = "bridge_publish_dropped"
	BridgeSubscribeFailed    = "bridge_subscribe_failed"
	BridgeUnsubscribeFailed  = "bridge_unsubscribe_failed"
	BridgeDelivered          = "bridge_delivered"
	BridgeEchoSuppressed     = "bridge_echo_suppressed"
	BridgeMalformedEvent     = "bridge_malformed_event"
	BridgeTeardownTimeout    = "bridge_teardown_timeout"
	ICETURNCredentialsIssued = "ice_turn_credentials_issued"

	DocumentUpdates  = "document_updates"
	IndexRuns        = "index_runs"
	IndexFailures    = "index_failures"
	IndexSkipped     = "index_skipped_inactive"
	DocumentsCreated = "documents_created"
	DocumentsRemoved = "documents_removed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update so components can be built
// without one in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
