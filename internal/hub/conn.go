package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
)

type FrameKind uint8

const (
	FrameText FrameKind = iota
	FrameBinary
	FrameClose
)

// Frame is one outbound WebSocket message.
type Frame struct {
	Kind        FrameKind
	Data        []byte
	CloseCode   int
	CloseReason string
}

// Interceptor observes a connection's pub/sub activity before any local
// delivery happens. The cross-node bridge implements it.
type Interceptor interface {
	Subscribed(c *Conn, topics []string)
	Unsubscribed(c *Conn, topics []string)
	Published(c *Conn, topic string, data json.RawMessage)
}

// Conn is the relay-side state of one client connection. The socket itself is
// owned by the transport, which drains Next.
type Conn struct {
	id          string
	identity    auth.Identity
	connectedAt time.Time
	queue       *sendQueue

	interceptor Interceptor

	mu     sync.Mutex
	topics map[string]struct{}
	room   string
}

func NewConn(identity auth.Identity, sendQueueBytes int) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		identity:    identity,
		connectedAt: time.Now(),
		queue:       newSendQueue(sendQueueBytes),
		topics:      make(map[string]struct{}),
	}
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() auth.Identity { return c.identity }
func (c *Conn) ConnectedAt() time.Time  { return c.connectedAt }

// SetInterceptor must be called before the first message is dispatched.
func (c *Conn) SetInterceptor(i Interceptor) {
	c.interceptor = i
}

// Room returns the signaling room the connection is in, or "".
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Topics returns the connection's subscriptions, sorted.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// Subscribed reports whether the connection is subscribed to topic.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Conn) setRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

func (c *Conn) addTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// Send enqueues a text frame. It reports false when the connection is closed
// or its outbound queue is full; the frame is dropped in both cases.
func (c *Conn) Send(data []byte) bool {
	return c.queue.Enqueue(Frame{Kind: FrameText, Data: data})
}

// SendFrame enqueues an arbitrary data frame.
func (c *Conn) SendFrame(f Frame) bool {
	return c.queue.Enqueue(f)
}

// SendJSON encodes v and enqueues it as a text frame.
func (c *Conn) SendJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Send(b)
}

// Next blocks until an outbound frame is ready. It returns false once the
// connection is closed and drained.
func (c *Conn) Next() (Frame, bool) {
	return c.queue.Dequeue()
}

// Close stops all further deliveries immediately and drops pending frames.
func (c *Conn) Close() {
	c.queue.Close()
}

// CloseWith stops further deliveries; pending frames are still written,
// followed by a close frame with code and reason.
func (c *Conn) CloseWith(code int, reason string) bool {
	return c.queue.CloseWith(Frame{Kind: FrameClose, CloseCode: code, CloseReason: reason})
}

// Pending returns the number of frames waiting to be written.
func (c *Conn) Pending() int {
	return c.queue.Len()
}

// Dropped returns how many frames were skipped because the connection was
// closed or its queue was full.
func (c *Conn) Dropped() uint64 {
	return c.queue.DropCount()
}
