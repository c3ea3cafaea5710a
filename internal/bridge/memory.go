package bridge

import (
	"context"
	"errors"
	"sync"
)

var errBrokerClosed = errors.New("broker closed")

// MemoryBroker delivers synchronously to subscribers in the same process.
type MemoryBroker struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]map[*memorySubscriber]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscriber]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errBrokerClosed
	}
	targets := make([]*memorySubscriber, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		msg := append([]byte(nil), payload...)
		s.handler(channel, msg)
	}
	return nil
}

func (b *MemoryBroker) NewSubscriber(h Handler) Subscriber {
	return &memorySubscriber{broker: b, handler: h, channels: make(map[string]struct{})}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]map[*memorySubscriber]struct{})
	b.mu.Unlock()
	return nil
}

// Subscriptions returns the number of subscribers on channel.
func (b *MemoryBroker) Subscriptions(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

type memorySubscriber struct {
	broker  *MemoryBroker
	handler Handler

	// guarded by broker.mu
	channels map[string]struct{}
}

func (s *memorySubscriber) Subscribe(ctx context.Context, channels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	for _, ch := range channels {
		set, ok := b.subs[ch]
		if !ok {
			set = make(map[*memorySubscriber]struct{})
			b.subs[ch] = set
		}
		set[s] = struct{}{}
		s.channels[ch] = struct{}{}
	}
	return nil
}

func (s *memorySubscriber) Unsubscribe(_ context.Context, channels ...string) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		s.removeLocked(ch)
	}
	return nil
}

func (s *memorySubscriber) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range s.channels {
		s.removeLocked(ch)
	}
	return nil
}

func (s *memorySubscriber) removeLocked(ch string) {
	delete(s.channels, ch)
	set, ok := s.broker.subs[ch]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(s.broker.subs, ch)
	}
}
