package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

const (
	DefaultTopicPrefix    = "awareness:"
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 2 * time.Second
)

// Deliverer hands an inbound event to a local connection. hub.TopicRouter
// implements it.
type Deliverer interface {
	Deliver(to *hub.Conn, topic string, data json.RawMessage) bool
}

type Config struct {
	// TopicPrefix selects the awareness-class topics that are bridged.
	TopicPrefix string
	// ChannelPrefix namespaces broker channels; channel = ChannelPrefix + topic.
	ChannelPrefix string
	// NodeID tags outgoing events. Inbound events carrying the same NodeID were
	// already delivered by local fan-out and are skipped.
	NodeID string
	// QueueSize bounds pending outbound publishes per connection.
	QueueSize      int
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}

type Options struct {
	Broker  Broker
	Topics  Deliverer
	Config  Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type opKind uint8

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opPublish
)

type op struct {
	kind     opKind
	channels []string
	payload  json.RawMessage
}

// Bridge is the per-connection cross-node side channel. All broker I/O runs
// on its worker goroutine so the connection's read loop never waits on the
// broker.
type Bridge struct {
	conn     *hub.Conn
	originID string
	broker   Broker
	sub      Subscriber
	topics   Deliverer
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu             sync.Mutex
	cond           *sync.Cond
	pending        []op
	pendingPublish int
	closing        bool
	closeErr       error

	// owned by the worker
	subscribed map[string]struct{}
}

// Attach creates a bridge for conn and installs it as the connection's
// interceptor.
func Attach(conn *hub.Conn, opts Options) *Bridge {
	cfg := opts.Config.withDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:       conn,
		originID:   conn.Identity().ID,
		broker:     opts.Broker,
		topics:     opts.Topics,
		cfg:        cfg,
		log:        log.With("conn_id", conn.ID(), "user_id", conn.Identity().ID),
		metrics:    opts.Metrics,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		subscribed: make(map[string]struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	b.sub = opts.Broker.NewSubscriber(b.onMessage)
	conn.SetInterceptor(b)
	go b.run()
	return b
}

func (b *Bridge) isAwareness(topic string) bool {
	return strings.HasPrefix(topic, b.cfg.TopicPrefix)
}

func (b *Bridge) channelFor(topic string) string {
	return b.cfg.ChannelPrefix + topic
}

func (b *Bridge) channelsFor(topics []string) []string {
	var out []string
	for _, t := range topics {
		if b.isAwareness(t) {
			out = append(out, b.channelFor(t))
		}
	}
	return out
}

func (b *Bridge) Subscribed(_ *hub.Conn, topics []string) {
	if chs := b.channelsFor(topics); len(chs) > 0 {
		b.enqueue(op{kind: opSubscribe, channels: chs})
	}
}

func (b *Bridge) Unsubscribed(_ *hub.Conn, topics []string) {
	if chs := b.channelsFor(topics); len(chs) > 0 {
		b.enqueue(op{kind: opUnsubscribe, channels: chs})
	}
}

func (b *Bridge) Published(_ *hub.Conn, topic string, data json.RawMessage) {
	if !b.isAwareness(topic) {
		return
	}
	payload := append(json.RawMessage(nil), data...)
	b.enqueue(op{kind: opPublish, channels: []string{b.channelFor(topic)}, payload: payload})
}

func (b *Bridge) enqueue(o op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return
	}
	if o.kind == opPublish {
		if b.pendingPublish >= b.cfg.QueueSize {
			b.metrics.Inc(metrics.BridgePublishDropped)
			return
		}
		b.pendingPublish++
	}
	b.pending = append(b.pending, o)
	b.cond.Signal()
}

func (b *Bridge) take() ([]op, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending) == 0 && !b.closing {
		b.cond.Wait()
	}
	ops := b.pending
	b.pending = nil
	b.pendingPublish = 0
	return ops, b.closing
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		ops, closing := b.take()
		for _, o := range ops {
			b.apply(o)
		}
		if closing && len(ops) == 0 {
			b.shutdown()
			return
		}
	}
}

func (b *Bridge) apply(o op) {
	switch o.kind {
	case opSubscribe:
		var fresh []string
		for _, ch := range o.channels {
			if _, ok := b.subscribed[ch]; !ok {
				fresh = append(fresh, ch)
			}
		}
		if len(fresh) == 0 {
			return
		}
		if err := b.sub.Subscribe(b.ctx, fresh...); err != nil {
			// The connection keeps node-local visibility.
			b.metrics.Inc(metrics.BridgeSubscribeFailed)
			b.log.Warn("bridge_subscribe_failed", "channels", fresh, "err", err)
			return
		}
		for _, ch := range fresh {
			b.subscribed[ch] = struct{}{}
		}

	case opUnsubscribe:
		var gone []string
		for _, ch := range o.channels {
			if _, ok := b.subscribed[ch]; ok {
				delete(b.subscribed, ch)
				gone = append(gone, ch)
			}
		}
		if len(gone) == 0 {
			return
		}
		if err := b.sub.Unsubscribe(b.ctx, gone...); err != nil {
			b.metrics.Inc(metrics.BridgeUnsubscribeFailed)
			b.log.Warn("bridge_unsubscribe_failed", "channels", gone, "err", err)
		}

	case opPublish:
		ev := newEvent(b.originID, b.cfg.NodeID, o.payload, b.now())
		msg, err := json.Marshal(ev)
		if err != nil {
			b.metrics.Inc(metrics.BridgePublishFailed)
			b.log.Warn("bridge_publish_failed", "channel", o.channels[0], "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.PublishTimeout)
		err = b.broker.Publish(ctx, o.channels[0], msg)
		cancel()
		if err != nil {
			b.metrics.Inc(metrics.BridgePublishFailed)
			b.log.Warn("bridge_publish_failed", "channel", o.channels[0], "err", err)
			return
		}
		b.metrics.Inc(metrics.BridgePublished)
	}
}

func (b *Bridge) shutdown() {
	var errs []error
	if len(b.subscribed) > 0 {
		chs := make([]string, 0, len(b.subscribed))
		for ch := range b.subscribed {
			chs = append(chs, ch)
		}
		b.subscribed = make(map[string]struct{})
		if err := b.sub.Unsubscribe(b.ctx, chs...); err != nil {
			b.metrics.Inc(metrics.BridgeUnsubscribeFailed)
			b.log.Warn("bridge_unsubscribe_failed", "channels", chs, "err", err)
			errs = append(errs, err)
		}
	}
	if err := b.sub.Close(); err != nil {
		b.log.Warn("bridge_subscriber_close_failed", "err", err)
		errs = append(errs, err)
	}
	b.mu.Lock()
	b.closeErr = errors.Join(errs...)
	b.mu.Unlock()
}

func (b *Bridge) onMessage(channel string, payload []byte) {
	ev, err := decodeEvent(payload)
	if err != nil {
		b.metrics.Inc(metrics.BridgeMalformedEvent)
		b.log.Debug("bridge_malformed_event", "channel", channel, "err", err)
		return
	}
	if ev.OriginID == b.originID {
		b.metrics.Inc(metrics.BridgeEchoSuppressed)
		return
	}
	if b.cfg.NodeID != "" && ev.NodeID == b.cfg.NodeID {
		return
	}
	topic := strings.TrimPrefix(channel, b.cfg.ChannelPrefix)
	if b.topics.Deliver(b.conn, topic, ev.Payload) {
		b.metrics.Inc(metrics.BridgeDelivered)
	}
}

// Close stops accepting work, finishes pending operations, unsubscribes every
// channel and closes the broker subscriber. If ctx expires first, in-flight
// broker calls are cancelled and ctx's error is returned.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closing = true
	b.cond.Broadcast()
	b.mu.Unlock()

	select {
	case <-b.done:
		b.cancel()
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.closeErr
	case <-ctx.Done():
		b.cancel()
		b.metrics.Inc(metrics.BridgeTeardownTimeout)
		b.log.Warn("bridge_teardown_timeout", "err", ctx.Err())
		return ctx.Err()
	}
}
