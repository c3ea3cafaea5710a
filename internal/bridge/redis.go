package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisBroker carries events over Redis PUBLISH/SUBSCRIBE. Every Subscriber
// holds its own PubSub connection.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger
}

// OpenRedis connects to a redis:// or rediss:// URL and verifies the server
// is reachable.
func OpenRedis(ctx context.Context, rawURL string, log *slog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBroker(client, log), nil
}

func NewRedisBroker(client *redis.Client, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) NewSubscriber(h Handler) Subscriber {
	return &redisSubscriber{client: b.client, handler: h, log: b.log}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscriber struct {
	client  *redis.Client
	handler Handler
	log     *slog.Logger

	mu     sync.Mutex
	ps     *redis.PubSub
	done   chan struct{}
	closed bool
}

// Subscribe opens the PubSub connection on first use and waits for the
// server to confirm it; later calls only send SUBSCRIBE.
func (s *redisSubscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errBrokerClosed
	}
	if s.ps != nil {
		return s.ps.Subscribe(ctx, channels...)
	}

	ps := s.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	s.ps = ps
	s.done = make(chan struct{})
	go s.pump(ps.Channel(), s.done)
	return nil
}

func (s *redisSubscriber) pump(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		s.handler(msg.Channel, []byte(msg.Payload))
	}
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ps == nil || s.closed {
		return nil
	}
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *redisSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ps, done := s.ps, s.done
	s.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}
