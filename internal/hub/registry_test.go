package hub

import "testing"

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := newTestConn("a", "A")
	b := newTestConn("b", "B")

	if !r.Register(a) || r.Register(a) {
		t.Fatalf("Register not idempotent")
	}
	r.Register(b)
	if r.Count() != 2 {
		t.Fatalf("count=%d, want 2", r.Count())
	}
	if !r.Deregister(a) || r.Deregister(a) {
		t.Fatalf("Deregister not idempotent")
	}
	if r.Count() != 1 {
		t.Fatalf("count=%d, want 1", r.Count())
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	topics := NewTopicRouter(nil, nil)
	rooms := NewRoomManager(nil, nil, nil)
	a := newTestConn("u1", "Alice")
	r.Register(a)
	topics.Subscribe(a, []string{"awareness:doc"})
	if err := rooms.Join(a, "demo"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("list=%v", list)
	}
	info := list[0]
	if info.ID != a.ID() || info.UserID != "u1" || info.UserName != "Alice" || info.Room != "demo" {
		t.Fatalf("info=%+v", info)
	}
	if len(info.Topics) != 1 || info.Topics[0] != "awareness:doc" {
		t.Fatalf("topics=%v", info.Topics)
	}
}
