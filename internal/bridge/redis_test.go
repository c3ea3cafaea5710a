package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

func openTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBroker) {
	t.Helper()
	srv := miniredis.RunT(t)
	broker, err := OpenRedis(context.Background(), "redis://"+srv.Addr(), nil)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return srv, broker
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	_, broker := openTestRedis(t)
	ctx := context.Background()

	got := make(chan string, 4)
	sub := broker.NewSubscriber(func(channel string, payload []byte) {
		got <- channel + "=" + string(payload)
	})
	defer sub.Close()

	if err := sub.Subscribe(ctx, "awareness:a"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Subscribe(ctx, "awareness:b"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// SUBSCRIBE on an open PubSub is not acknowledged synchronously.
	time.Sleep(50 * time.Millisecond)

	for _, ch := range []string{"awareness:a", "awareness:b"} {
		if err := broker.Publish(ctx, ch, []byte("hi")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	want := map[string]bool{"awareness:a=hi": true, "awareness:b=hi": true}
	for range want {
		select {
		case msg := <-got:
			if !want[msg] {
				t.Fatalf("unexpected message %q", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message")
		}
	}
}

func TestRedisBroker_UnsubscribeAndClose(t *testing.T) {
	srv, broker := openTestRedis(t)
	ctx := context.Background()

	sub := broker.NewSubscriber(func(string, []byte) {})
	if err := sub.Subscribe(ctx, "awareness:x"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := srv.PubSubNumSub("awareness:x")["awareness:x"]; n != 1 {
		t.Fatalf("numsub=%d, want 1", n)
	}
	if err := sub.Unsubscribe(ctx, "awareness:x"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.PubSubNumSub("awareness:x")["awareness:x"] != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRedisBroker_BridgesAwarenessAcrossNodes(t *testing.T) {
	_, redisA := openTestRedis(t)
	// Both nodes share one Redis server through separate clients.
	redisB, err := OpenRedis(context.Background(), "redis://"+redisA.client.Options().Addr, nil)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer redisB.Close()

	nodeA := newNode(redisA, "node-a")
	nodeB := newNode(redisB, "node-b")
	a, _ := nodeA.connect(t, "alice")
	b, _ := nodeB.connect(t, "bob")
	nodeA.handle(t, a, `{"type":"subscribe","topics":["awareness:demo"]}`)
	nodeB.handle(t, b, `{"type":"subscribe","topics":["awareness:demo"]}`)
	drainTypes(t, a)
	drainTypes(t, b)

	// Wait until both bridges hold a confirmed subscription.
	waitFor(t, "subscriptions", func() bool {
		n, err := redisA.client.PubSubNumSub(context.Background(), "awareness:demo").Result()
		return err == nil && n["awareness:demo"] == 2
	})

	nodeB.handle(t, b, `{"type":"publish","topic":"awareness:demo","data":{"cursor":1}}`)
	waitFor(t, "delivery on node A", func() bool { return a.Pending() == 1 })
	msgs := drainTypes(t, a)
	if msgs[0]["topic"] != "awareness:demo" {
		t.Fatalf("a got %v", msgs)
	}
	waitFor(t, "echo suppression on node B", func() bool {
		return nodeB.metrics.Get(metrics.BridgeEchoSuppressed) == 1
	})
	if msgs := drainTypes(t, b); len(msgs) != 0 {
		t.Fatalf("publisher got %v", msgs)
	}
}

func TestRedisBroker_RejectsMalformedEvents(t *testing.T) {
	_, broker := openTestRedis(t)
	m := metrics.New()
	c := hub.NewConn(auth.Identity{ID: "a", Name: "A"}, 1<<20)
	topics := hub.NewTopicRouter(nil, m)
	topics.Subscribe(c, []string{"awareness:x"})
	b := Attach(c, Options{Broker: broker, Topics: topics, Metrics: m})
	defer b.Close(context.Background())
	b.Subscribed(c, []string{"awareness:x"})

	waitFor(t, "subscription", func() bool {
		n, err := broker.client.PubSubNumSub(context.Background(), "awareness:x").Result()
		return err == nil && n["awareness:x"] == 1
	})
	for _, raw := range []string{"not json", `{"payload":1}`} {
		if err := broker.Publish(context.Background(), "awareness:x", []byte(raw)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, "malformed events", func() bool { return m.Get(metrics.BridgeMalformedEvent) == 2 })
	if c.Pending() != 0 {
		t.Fatalf("malformed event delivered")
	}

	ev, _ := json.Marshal(Event{OriginID: "z", Payload: json.RawMessage(`2`)})
	if err := broker.Publish(context.Background(), "awareness:x", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, "delivery", func() bool { return c.Pending() == 1 })
}
