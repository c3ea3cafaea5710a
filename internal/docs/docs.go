// Package docs hosts collaborative documents. The relay never interprets
// document updates; it forwards them between the connections editing the
// same document and reports lifecycle events to its hooks.
package docs

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

// Hooks are notified about document lifecycle. OnCreate and OnRemove run
// while the registry lock is held, so for a given document OnCreate always
// completes before any update is relayed and before OnRemove.
type Hooks struct {
	OnCreate func(room string)
	// OnAttach runs after every connection joins a document, including the
	// one that created it.
	OnAttach func(room, userID string)
	OnUpdate func(room, userID string)
	OnRemove func(room string)
}

// Info is a stats snapshot of one document.
type Info struct {
	Room        string    `json:"room"`
	Connections int       `json:"connections"`
	Updates     uint64    `json:"updates"`
	Bytes       uint64    `json:"bytes"`
	CreatedAt   time.Time `json:"createdAt"`
	LastEditor  string    `json:"lastEditor,omitempty"`
	LastUpdate  time.Time `json:"lastUpdate,omitzero"`
}

type document struct {
	conns      map[*hub.Conn]struct{}
	updates    uint64
	bytes      uint64
	createdAt  time.Time
	lastEditor string
	lastUpdate time.Time
}

// Registry tracks open documents and relays their updates.
type Registry struct {
	hooks   Hooks
	router  *hub.TopicRouter
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	docs map[string]*document
}

func NewRegistry(hooks Hooks, log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		hooks:   hooks,
		router:  hub.NewTopicRouter(log, m),
		log:     log,
		metrics: m,
		now:     time.Now,
		docs:    make(map[string]*document),
	}
}

func topicFor(room string) string {
	return "room:" + room
}

// Attach adds c to the document room, creating it on first use. It reports
// whether this call created the document.
func (r *Registry) Attach(c *hub.Conn, room string) bool {
	created := r.attach(c, room)
	if r.hooks.OnAttach != nil {
		r.hooks.OnAttach(room, c.Identity().ID)
	}
	return created
}

func (r *Registry) attach(c *hub.Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[room]
	if !ok {
		doc = &document{conns: make(map[*hub.Conn]struct{}), createdAt: r.now()}
		r.docs[room] = doc
		r.metrics.Inc(metrics.DocumentsCreated)
		r.log.Info("document_created", "room", room)
		if r.hooks.OnCreate != nil {
			r.hooks.OnCreate(room)
		}
	}
	doc.conns[c] = struct{}{}
	r.router.Subscribe(c, []string{topicFor(room)})
	return !ok
}

// Relay forwards one update from c to every other connection on the
// document. It returns the number of deliveries.
func (r *Registry) Relay(c *hub.Conn, room string, kind hub.FrameKind, data []byte) int {
	userID := c.Identity().ID
	r.mu.Lock()
	doc, ok := r.docs[room]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	if _, member := doc.conns[c]; !member {
		r.mu.Unlock()
		return 0
	}
	doc.updates++
	doc.bytes += uint64(len(data))
	doc.lastEditor = userID
	doc.lastUpdate = r.now()
	r.mu.Unlock()

	n := r.router.PublishFrame(c, topicFor(room), hub.Frame{Kind: kind, Data: data})
	r.metrics.Inc(metrics.DocumentUpdates)
	if r.hooks.OnUpdate != nil {
		r.hooks.OnUpdate(room, userID)
	}
	return n
}

// Detach removes c from the document and deletes the document when it was
// the last connection. It reports whether the document was removed.
func (r *Registry) Detach(c *hub.Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.router.Unsubscribe(c, []string{topicFor(room)})
	doc, ok := r.docs[room]
	if !ok {
		return false
	}
	delete(doc.conns, c)
	if len(doc.conns) > 0 {
		return false
	}
	delete(r.docs, room)
	r.metrics.Inc(metrics.DocumentsRemoved)
	r.log.Info("document_removed", "room", room, "updates", doc.updates)
	if r.hooks.OnRemove != nil {
		r.hooks.OnRemove(room)
	}
	return true
}

// Active reports whether room currently has at least one connection.
func (r *Registry) Active(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.docs[room]
	return ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// Lookup returns a snapshot of one document.
func (r *Registry) Lookup(room string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[room]
	if !ok {
		return Info{}, false
	}
	return doc.info(room), true
}

// Documents returns every open document sorted by room.
func (r *Registry) Documents() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.docs))
	for room, doc := range r.docs {
		out = append(out, doc.info(room))
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

func (d *document) info(room string) Info {
	return Info{
		Room:        room,
		Connections: len(d.conns),
		Updates:     d.updates,
		Bytes:       d.bytes,
		CreatedAt:   d.createdAt,
		LastEditor:  d.lastEditor,
		LastUpdate:  d.lastUpdate,
	}
}
