package docs

import (
	"reflect"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

type hookLog struct {
	mu     sync.Mutex
	events []string
}

func (h *hookLog) add(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnCreate: func(room string) { h.add("create:" + room) },
		OnUpdate: func(room, userID string) { h.add("update:" + room + ":" + userID) },
		OnRemove: func(room string) { h.add("remove:" + room) },
	}
}

func newConn(id string) *hub.Conn {
	return hub.NewConn(auth.Identity{ID: id, Name: id}, 1<<20)
}

func TestRegistry_Lifecycle(t *testing.T) {
	var log hookLog
	m := metrics.New()
	r := NewRegistry(log.hooks(), nil, m)
	a, b := newConn("a"), newConn("b")

	if !r.Attach(a, "doc1") {
		t.Fatalf("first Attach did not create the document")
	}
	if r.Attach(b, "doc1") {
		t.Fatalf("second Attach created the document again")
	}
	if n := r.Relay(a, "doc1", hub.FrameBinary, []byte{0, 1, 2}); n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	f, ok := b.Next()
	if !ok || f.Kind != hub.FrameBinary || !reflect.DeepEqual(f.Data, []byte{0, 1, 2}) {
		t.Fatalf("b got %+v,%v", f, ok)
	}
	if a.Pending() != 0 {
		t.Fatalf("sender received its own update")
	}

	info, ok := r.Lookup("doc1")
	if !ok || info.Connections != 2 || info.Updates != 1 || info.Bytes != 3 || info.LastEditor != "a" {
		t.Fatalf("info=%+v,%v", info, ok)
	}

	if r.Detach(a, "doc1") {
		t.Fatalf("Detach removed a document that still has connections")
	}
	if !r.Detach(b, "doc1") {
		t.Fatalf("Detach of last connection did not remove the document")
	}
	if r.Active("doc1") || r.Count() != 0 {
		t.Fatalf("document retained after last detach")
	}

	want := []string{"create:doc1", "update:doc1:a", "remove:doc1"}
	if !reflect.DeepEqual(log.events, want) {
		t.Fatalf("events=%v, want %v", log.events, want)
	}
	if m.Get(metrics.DocumentsCreated) != 1 || m.Get(metrics.DocumentsRemoved) != 1 || m.Get(metrics.DocumentUpdates) != 1 {
		t.Fatalf("metrics=%v", m.Snapshot())
	}
}

func TestRegistry_CreateFiresOncePerDocumentUnderConcurrency(t *testing.T) {
	var log hookLog
	r := NewRegistry(log.hooks(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Attach(newConn("u"), "shared")
		}()
	}
	wg.Wait()

	if len(log.events) != 1 || log.events[0] != "create:shared" {
		t.Fatalf("events=%v, want a single create", log.events)
	}
	if info, _ := r.Lookup("shared"); info.Connections != 32 {
		t.Fatalf("connections=%d, want 32", info.Connections)
	}
}

func TestRegistry_RelayRequiresAttachment(t *testing.T) {
	var log hookLog
	r := NewRegistry(log.hooks(), nil, nil)
	a, b := newConn("a"), newConn("b")
	r.Attach(a, "doc")

	if n := r.Relay(b, "doc", hub.FrameBinary, []byte{1}); n != 0 {
		t.Fatalf("detached connection relayed %d updates", n)
	}
	if n := r.Relay(a, "missing", hub.FrameBinary, []byte{1}); n != 0 {
		t.Fatalf("relay to missing document delivered %d", n)
	}
	if len(log.events) != 1 {
		t.Fatalf("events=%v", log.events)
	}
}

func TestRegistry_DocumentsAreSeparate(t *testing.T) {
	r := NewRegistry(Hooks{}, nil, nil)
	a, b := newConn("a"), newConn("b")
	r.Attach(a, "x")
	r.Attach(b, "y")

	if n := r.Relay(a, "x", hub.FrameText, []byte("hi")); n != 0 {
		t.Fatalf("update leaked to another document")
	}
	docs := r.Documents()
	if len(docs) != 2 || docs[0].Room != "x" || docs[1].Room != "y" {
		t.Fatalf("documents=%+v", docs)
	}
}

func TestRegistry_AttachReportsEveryJoiningUser(t *testing.T) {
	var log hookLog
	r := NewRegistry(Hooks{
		OnCreate: func(room string) { log.add("create:" + room) },
		OnAttach: func(room, userID string) { log.add("attach:" + room + ":" + userID) },
	}, nil, metrics.New())

	r.Attach(newConn("alice"), "doc1")
	r.Attach(newConn("bob"), "doc1")
	r.Attach(newConn("carol"), "doc2")

	want := []string{
		"create:doc1", "attach:doc1:alice",
		"attach:doc1:bob",
		"create:doc2", "attach:doc2:carol",
	}
	if !reflect.DeepEqual(log.events, want) {
		t.Fatalf("events=%v, want %v", log.events, want)
	}
}
