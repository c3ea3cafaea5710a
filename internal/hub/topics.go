package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

// TopicInfo is a stats snapshot of one topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// TopicRouter is a publish/subscribe fan-out keyed by topic name. Topics exist
// only while they have at least one subscriber.
type TopicRouter struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	topics map[string]*memberSet
}

func NewTopicRouter(log *slog.Logger, m *metrics.Metrics) *TopicRouter {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TopicRouter{
		log:     log,
		metrics: m,
		topics:  make(map[string]*memberSet),
	}
}

// normalizeTopics drops empty names and collapses duplicates, keeping the
// first occurrence order.
func normalizeTopics(names []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(names, func(n string, _ int) string {
		return strings.TrimSpace(n)
	})))
}

// Subscribe adds c to every named topic and returns the resolved list.
// Subscribing twice is a no-op.
func (r *TopicRouter) Subscribe(c *Conn, names []string) []string {
	names = normalizeTopics(names)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		set, ok := r.topics[name]
		if !ok {
			set = newMemberSet()
			r.topics[name] = set
		}
		if set.add(c) {
			c.addTopic(name)
		}
	}
	return names
}

// Unsubscribe removes c from every named topic it belongs to and returns the
// topics it actually left.
func (r *TopicRouter) Unsubscribe(c *Conn, names []string) []string {
	names = normalizeTopics(names)
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(names))
	for _, name := range names {
		if r.removeLocked(c, name) {
			left = append(left, name)
		}
	}
	return left
}

// UnsubscribeAll drops every subscription of c.
func (r *TopicRouter) UnsubscribeAll(c *Conn) []string {
	topics := c.Topics()
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(topics))
	for _, name := range topics {
		if r.removeLocked(c, name) {
			left = append(left, name)
		}
	}
	return left
}

func (r *TopicRouter) removeLocked(c *Conn, name string) bool {
	set, ok := r.topics[name]
	if !ok || !set.remove(c) {
		return false
	}
	c.removeTopic(name)
	if set.len() == 0 {
		delete(r.topics, name)
	}
	return true
}

// Publish delivers `publish {topic, data}` to every subscriber of topic except
// from. Subscribers that are closed or backed up are skipped. It returns the
// number of successful deliveries.
func (r *TopicRouter) Publish(from *Conn, topic string, data json.RawMessage) (int, error) {
	frame, err := encodePublish(topic, data)
	if err != nil {
		return 0, err
	}
	return r.PublishFrame(from, topic, Frame{Kind: FrameText, Data: frame}), nil
}

// PublishFrame fans out an already encoded frame. from may be nil.
func (r *TopicRouter) PublishFrame(from *Conn, topic string, frame Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		return 0
	}
	delivered, dropped := 0, 0
	for _, sub := range set.members() {
		if sub == from {
			continue
		}
		if sub.SendFrame(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	r.metrics.Add(metrics.TopicDeliveries, uint64(delivered))
	if dropped > 0 {
		r.metrics.Add(metrics.TopicDropped, uint64(dropped))
		r.log.Debug("topic_delivery_dropped", "topic", topic, "dropped", dropped)
	}
	return delivered
}

// Deliver sends `publish {topic, data}` to a single connection, provided it
// is still subscribed to topic.
func (r *TopicRouter) Deliver(to *Conn, topic string, data json.RawMessage) bool {
	frame, err := encodePublish(topic, data)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok || !set.has(to) {
		return false
	}
	if !to.Send(frame) {
		r.metrics.Inc(metrics.TopicDropped)
		return false
	}
	r.metrics.Inc(metrics.TopicDeliveries)
	return true
}

// Subscribers returns the number of subscribers of topic.
func (r *TopicRouter) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.topics[topic]; ok {
		return set.len()
	}
	return 0
}

// Topics returns every live topic sorted by name.
func (r *TopicRouter) Topics() []TopicInfo {
	r.mu.Lock()
	out := make([]TopicInfo, 0, len(r.topics))
	for name, set := range r.topics {
		out = append(out, TopicInfo{Name: name, Subscribers: set.len()})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
