package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Handler receives one raw message from a subscribed channel. It runs on the
// subscriber's delivery goroutine and must not block.
type Handler func(channel string, payload []byte)

// Broker is a shared fan-out medium reachable from every relay node.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	NewSubscriber(h Handler) Subscriber
	Close() error
}

// Subscriber is one independent set of channel subscriptions on a Broker.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Close() error
}

// Open returns a Broker for rawURL. An empty URL or the memory scheme yields
// an in-process broker, which only connects bridges within this process.
func Open(ctx context.Context, rawURL string, log *slog.Logger) (Broker, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return NewMemoryBroker(), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBroker(), nil
	case "redis", "rediss":
		return OpenRedis(ctx, rawURL, log)
	case "nats":
		return OpenNATS(rawURL, log)
	default:
		return nil, fmt.Errorf("unsupported bridge url scheme %q", u.Scheme)
	}
}
