package hub

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

func TestTopicRouter_SubscribeIsIdempotent(t *testing.T) {
	r := NewTopicRouter(nil, nil)
	a := newTestConn("a", "A")

	got := r.Subscribe(a, []string{"t1", "", "t2", "t1"})
	if want := []string{"t1", "t2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("resolved=%v, want %v", got, want)
	}
	r.Subscribe(a, []string{"t1"})
	if n := r.Subscribers("t1"); n != 1 {
		t.Fatalf("subscribers=%d, want 1", n)
	}
	if got := a.Topics(); !reflect.DeepEqual(got, []string{"t1", "t2"}) {
		t.Fatalf("conn topics=%v", got)
	}
}

func TestTopicRouter_SubscriptionSetDifference(t *testing.T) {
	r := NewTopicRouter(nil, nil)
	a := newTestConn("a", "A")

	r.Subscribe(a, []string{"x", "y", "z"})
	r.Unsubscribe(a, []string{"y", "missing"})
	r.Unsubscribe(a, []string{"y"})
	r.Subscribe(a, []string{"w"})

	if got, want := a.Topics(), []string{"w", "x", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("topics=%v, want %v", got, want)
	}
	for _, topic := range []string{"w", "x", "z"} {
		if !a.Subscribed(topic) {
			t.Fatalf("not subscribed to %q", topic)
		}
	}
}

func TestTopicRouter_PublishExcludesSender(t *testing.T) {
	m := metrics.New()
	r := NewTopicRouter(nil, m)
	a := newTestConn("a", "A")
	b := newTestConn("b", "B")
	c := newTestConn("c", "C")
	r.Subscribe(a, []string{"t"})
	r.Subscribe(b, []string{"t"})
	r.Subscribe(c, []string{"other"})

	n, err := r.Publish(a, "t", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	if msgs := drain(t, a); len(msgs) != 0 {
		t.Fatalf("sender received %v", msgs)
	}
	if msgs := drain(t, c); len(msgs) != 0 {
		t.Fatalf("non-subscriber received %v", msgs)
	}
	msgs := drain(t, b)
	if len(msgs) != 1 || msgs[0]["type"] != TypePublish || msgs[0]["topic"] != "t" {
		t.Fatalf("b got %v", msgs)
	}
	if data, _ := msgs[0]["data"].(map[string]any); data["x"] != float64(1) {
		t.Fatalf("data=%v", msgs[0]["data"])
	}
	if got := m.Get(metrics.TopicDeliveries); got != 1 {
		t.Fatalf("deliveries=%d, want 1", got)
	}
}

func TestTopicRouter_PublishSkipsClosedSubscriber(t *testing.T) {
	m := metrics.New()
	r := NewTopicRouter(nil, m)
	a := newTestConn("a", "A")
	b := newTestConn("b", "B")
	c := newTestConn("c", "C")
	for _, conn := range []*Conn{a, b, c} {
		r.Subscribe(conn, []string{"t"})
	}
	b.Close()

	n, err := r.Publish(a, "t", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	if got := m.Get(metrics.TopicDropped); got != 1 {
		t.Fatalf("dropped=%d, want 1", got)
	}
	if len(drain(t, c)) != 1 {
		t.Fatalf("c missed the publish")
	}
}

func TestTopicRouter_PublishOrderWithinNode(t *testing.T) {
	r := NewTopicRouter(nil, nil)
	a := newTestConn("a", "A")
	b := newTestConn("b", "B")
	r.Subscribe(b, []string{"t"})
	for i := 0; i < 5; i++ {
		if _, err := r.Publish(a, "t", json.RawMessage([]byte{byte('0' + i)})); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	msgs := drain(t, b)
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m["data"] != float64(i) {
			t.Fatalf("msgs[%d].data=%v, want %d", i, m["data"], i)
		}
	}
}

func TestTopicRouter_EmptyTopicsAreDeleted(t *testing.T) {
	r := NewTopicRouter(nil, nil)
	a := newTestConn("a", "A")
	b := newTestConn("b", "B")
	r.Subscribe(a, []string{"t", "u"})
	r.Subscribe(b, []string{"t"})

	r.Unsubscribe(a, []string{"t"})
	if got := r.Topics(); !reflect.DeepEqual(got, []TopicInfo{{Name: "t", Subscribers: 1}, {Name: "u", Subscribers: 1}}) {
		t.Fatalf("topics=%v", got)
	}
	left := r.UnsubscribeAll(a)
	if !reflect.DeepEqual(left, []string{"u"}) {
		t.Fatalf("UnsubscribeAll=%v, want [u]", left)
	}
	r.Unsubscribe(b, []string{"t"})
	if got := r.Topics(); len(got) != 0 {
		t.Fatalf("topics=%v, want none", got)
	}
}

func TestTopicRouter_DeliverRequiresSubscription(t *testing.T) {
	r := NewTopicRouter(nil, nil)
	a := newTestConn("a", "A")
	if r.Deliver(a, "t", json.RawMessage(`1`)) {
		t.Fatalf("Deliver to non-subscriber succeeded")
	}
	r.Subscribe(a, []string{"t"})
	if !r.Deliver(a, "t", json.RawMessage(`1`)) {
		t.Fatalf("Deliver to subscriber failed")
	}
	if msgs := drain(t, a); len(msgs) != 1 || msgs[0]["topic"] != "t" {
		t.Fatalf("got %v", msgs)
	}
}
