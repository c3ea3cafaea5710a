package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

type node struct {
	broker     Broker
	metrics    *metrics.Metrics
	dispatcher *hub.Dispatcher
	cfg        Config
}

func newNode(broker Broker, nodeID string) *node {
	m := metrics.New()
	topics := hub.NewTopicRouter(nil, m)
	return &node{
		broker:     broker,
		metrics:    m,
		dispatcher: hub.NewDispatcher(topics, hub.NewRoomManager(nil, nil, m), nil, m),
		cfg:        Config{NodeID: nodeID},
	}
}

func (n *node) connect(t *testing.T, id string) (*hub.Conn, *Bridge) {
	t.Helper()
	c := hub.NewConn(auth.Identity{ID: id, Name: id}, 1<<20)
	b := Attach(c, Options{
		Broker:  n.broker,
		Topics:  n.dispatcher.Topics,
		Config:  n.cfg,
		Metrics: n.metrics,
	})
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return c, b
}

func (n *node) handle(t *testing.T, c *hub.Conn, raw string) {
	t.Helper()
	if err := n.dispatcher.Handle(c, []byte(raw)); err != nil {
		t.Fatalf("Handle(%s): %v", raw, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func drainTypes(t *testing.T, c *hub.Conn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for c.Pending() > 0 {
		f, ok := c.Next()
		if !ok {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(f.Data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestBridge_RemoteEventIsDelivered(t *testing.T) {
	broker := NewMemoryBroker()
	n := newNode(broker, "node-a")
	a, _ := n.connect(t, "alice")
	n.handle(t, a, `{"type":"subscribe","topics":["awareness:demo"]}`)
	drainTypes(t, a)
	waitFor(t, "subscription", func() bool { return broker.Subscriptions("awareness:demo") == 1 })

	ev, _ := json.Marshal(Event{OriginID: "other-user", NodeID: "node-b", Payload: json.RawMessage(`{"cursor":3}`), Timestamp: 1})
	if err := broker.Publish(context.Background(), "awareness:demo", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs := drainTypes(t, a)
	if len(msgs) != 1 || msgs[0]["type"] != hub.TypePublish || msgs[0]["topic"] != "awareness:demo" {
		t.Fatalf("a got %v", msgs)
	}
	if data, _ := msgs[0]["data"].(map[string]any); data["cursor"] != float64(3) {
		t.Fatalf("data=%v", msgs[0]["data"])
	}
	if got := n.metrics.Get(metrics.BridgeDelivered); got != 1 {
		t.Fatalf("delivered=%d, want 1", got)
	}
}

func TestBridge_OwnOriginIsSuppressed(t *testing.T) {
	broker := NewMemoryBroker()
	n := newNode(broker, "node-a")
	a, _ := n.connect(t, "alice")
	n.handle(t, a, `{"type":"subscribe","topics":["awareness:demo"]}`)
	drainTypes(t, a)
	waitFor(t, "subscription", func() bool { return broker.Subscriptions("awareness:demo") == 1 })

	ev, _ := json.Marshal(Event{OriginID: "alice", NodeID: "node-b", Payload: json.RawMessage(`1`), Timestamp: 1})
	if err := broker.Publish(context.Background(), "awareness:demo", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msgs := drainTypes(t, a); len(msgs) != 0 {
		t.Fatalf("a got %v", msgs)
	}
	if got := n.metrics.Get(metrics.BridgeEchoSuppressed); got != 1 {
		t.Fatalf("echo suppressed=%d, want 1", got)
	}
}

func TestBridge_RoundTripNeverEchoesToPublisher(t *testing.T) {
	broker := NewMemoryBroker()
	n := newNode(broker, "")
	c, _ := n.connect(t, "carol")
	n.handle(t, c, `{"type":"subscribe","topics":["awareness:demo"]}`)
	drainTypes(t, c)
	waitFor(t, "subscription", func() bool { return broker.Subscriptions("awareness:demo") == 1 })

	n.handle(t, c, `{"type":"publish","topic":"awareness:demo","data":{"x":1}}`)
	waitFor(t, "echo suppression", func() bool { return n.metrics.Get(metrics.BridgeEchoSuppressed) == 1 })

	if msgs := drainTypes(t, c); len(msgs) != 0 {
		t.Fatalf("publisher got %v", msgs)
	}
	if got := n.metrics.Get(metrics.BridgePublished); got != 1 {
		t.Fatalf("published=%d, want 1", got)
	}
}

func TestBridge_TwoNodes(t *testing.T) {
	broker := NewMemoryBroker()
	nodeA := newNode(broker, "node-a")
	nodeB := newNode(broker, "node-b")

	a, _ := nodeA.connect(t, "alice")
	b, _ := nodeB.connect(t, "bob")
	local, _ := nodeB.connect(t, "bert")
	for _, pair := range []struct {
		n *node
		c *hub.Conn
	}{{nodeA, a}, {nodeB, b}, {nodeB, local}} {
		pair.n.handle(t, pair.c, `{"type":"subscribe","topics":["awareness:doc","plain"]}`)
		drainTypes(t, pair.c)
	}
	waitFor(t, "subscriptions", func() bool { return broker.Subscriptions("awareness:doc") == 3 })
	if broker.Subscriptions("plain") != 0 {
		t.Fatalf("non-awareness topic was bridged")
	}

	nodeB.handle(t, b, `{"type":"publish","topic":"awareness:doc","data":{"cursor":7}}`)
	waitFor(t, "remote delivery", func() bool { return a.Pending() == 1 })

	msgs := drainTypes(t, a)
	if msgs[0]["topic"] != "awareness:doc" {
		t.Fatalf("a got %v", msgs)
	}
	// The same-node subscriber sees the local fan-out only.
	if msgs := drainTypes(t, local); len(msgs) != 1 {
		t.Fatalf("local got %v, want one publish", msgs)
	}
	if msgs := drainTypes(t, b); len(msgs) != 0 {
		t.Fatalf("publisher got %v", msgs)
	}

	nodeB.handle(t, b, `{"type":"publish","topic":"plain","data":1}`)
	if msgs := drainTypes(t, a); len(msgs) != 0 {
		t.Fatalf("non-awareness publish crossed nodes: %v", msgs)
	}
}

func TestBridge_UnsubscribeReleasesChannel(t *testing.T) {
	broker := NewMemoryBroker()
	n := newNode(broker, "node-a")
	a, _ := n.connect(t, "alice")
	n.handle(t, a, `{"type":"subscribe","topics":["awareness:demo"]}`)
	waitFor(t, "subscription", func() bool { return broker.Subscriptions("awareness:demo") == 1 })

	n.handle(t, a, `{"type":"unsubscribe","topics":["awareness:demo"]}`)
	waitFor(t, "unsubscription", func() bool { return broker.Subscriptions("awareness:demo") == 0 })
}

func TestBridge_CloseUnsubscribesEverything(t *testing.T) {
	broker := NewMemoryBroker()
	n := newNode(broker, "node-a")
	a, b := n.connect(t, "alice")
	n.handle(t, a, `{"type":"subscribe","topics":["awareness:one","awareness:two"]}`)

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if broker.Subscriptions("awareness:one") != 0 || broker.Subscriptions("awareness:two") != 0 {
		t.Fatalf("subscriptions left after close")
	}

	// Work after close is ignored.
	n.handle(t, a, `{"type":"publish","topic":"awareness:one","data":1}`)
	if got := n.metrics.Get(metrics.BridgePublished); got != 0 {
		t.Fatalf("published=%d after close", got)
	}
}

type failingBroker struct {
	*MemoryBroker
}

func (failingBroker) Publish(context.Context, string, []byte) error {
	return errors.New("broker down")
}

func (f failingBroker) NewSubscriber(h Handler) Subscriber {
	return failingSubscriber{f.MemoryBroker.NewSubscriber(h)}
}

type failingSubscriber struct {
	Subscriber
}

func (failingSubscriber) Subscribe(context.Context, ...string) error {
	return errors.New("broker down")
}

func TestBridge_BrokerFailureDegradesToLocal(t *testing.T) {
	n := newNode(failingBroker{NewMemoryBroker()}, "node-a")
	a, _ := n.connect(t, "alice")
	b, _ := n.connect(t, "bob")
	n.handle(t, a, `{"type":"subscribe","topics":["awareness:demo"]}`)
	n.handle(t, b, `{"type":"subscribe","topics":["awareness:demo"]}`)
	drainTypes(t, a)
	drainTypes(t, b)
	waitFor(t, "subscribe failures", func() bool { return n.metrics.Get(metrics.BridgeSubscribeFailed) == 2 })

	n.handle(t, b, `{"type":"publish","topic":"awareness:demo","data":1}`)
	if msgs := drainTypes(t, a); len(msgs) != 1 {
		t.Fatalf("local delivery missing: %v", msgs)
	}
	waitFor(t, "publish failure", func() bool { return n.metrics.Get(metrics.BridgePublishFailed) == 1 })
}

type blockingBroker struct {
	*MemoryBroker
	release chan struct{}
}

func (b blockingBroker) Publish(ctx context.Context, _ string, _ []byte) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBridge_PublishQueueIsBounded(t *testing.T) {
	broker := blockingBroker{MemoryBroker: NewMemoryBroker(), release: make(chan struct{})}
	m := metrics.New()
	topics := hub.NewTopicRouter(nil, m)
	c := hub.NewConn(auth.Identity{ID: "a", Name: "A"}, 1<<20)
	b := Attach(c, Options{
		Broker:  broker,
		Topics:  topics,
		Config:  Config{QueueSize: 2, PublishTimeout: time.Minute},
		Metrics: m,
	})

	for i := 0; i < 10; i++ {
		b.Published(c, "awareness:x", json.RawMessage(`1`))
	}
	if got := m.Get(metrics.BridgePublishDropped); got == 0 {
		t.Fatalf("no publishes dropped with a stalled broker")
	}
	close(broker.release)
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBridge_CloseTimesOut(t *testing.T) {
	broker := blockingBroker{MemoryBroker: NewMemoryBroker(), release: make(chan struct{})}
	m := metrics.New()
	c := hub.NewConn(auth.Identity{ID: "a", Name: "A"}, 1<<20)
	b := Attach(c, Options{
		Broker:  broker,
		Topics:  hub.NewTopicRouter(nil, m),
		Config:  Config{PublishTimeout: time.Minute},
		Metrics: m,
	})
	b.Published(c, "awareness:x", json.RawMessage(`1`))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want %v", err, context.DeadlineExceeded)
	}
	if got := m.Get(metrics.BridgeTeardownTimeout); got != 1 {
		t.Fatalf("teardown timeouts=%d, want 1", got)
	}
}
