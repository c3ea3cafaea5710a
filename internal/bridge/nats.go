package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// natsSubject maps a channel name onto a single NATS subject token. Dots
// are token separators, the wildcards would widen a subscription and NATS
// rejects whitespace, so those bytes and the escape byte '_' itself are
// written as "_XX" in hex. The mapping is reversible, so distinct channels
// never share a subject.
func natsSubject(channel string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(channel))
	for i := 0; i < len(channel); i++ {
		c := channel[i]
		switch {
		case c == '_', c == '.', c == '*', c == '>', c <= ' ', c == 0x7f:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NATSBroker carries events over core NATS subjects.
type NATSBroker struct {
	conn *nats.Conn
	log  *slog.Logger
}

func OpenNATS(rawURL string, log *slog.Logger) (*NATSBroker, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	nc, err := nats.Connect(rawURL,
		nats.Name("aero-collab-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bridge_nats_disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("bridge_nats_reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBroker{conn: nc, log: log}, nil
}

func (b *NATSBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.Publish(natsSubject(channel), payload)
}

func (b *NATSBroker) NewSubscriber(h Handler) Subscriber {
	return &natsSubscriber{conn: b.conn, handler: h, subs: make(map[string]*nats.Subscription)}
}

func (b *NATSBroker) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

type natsSubscriber struct {
	conn    *nats.Conn
	handler Handler

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
}

// Subscribe registers interest and flushes so the server has the
// subscription before it returns.
func (s *natsSubscriber) Subscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errBrokerClosed
	}
	added := 0
	for _, ch := range channels {
		if _, ok := s.subs[ch]; ok {
			continue
		}
		channel := ch
		sub, err := s.conn.Subscribe(natsSubject(channel), func(m *nats.Msg) {
			s.handler(channel, m.Data)
		})
		if err != nil {
			return fmt.Errorf("nats subscribe %q: %w", channel, err)
		}
		s.subs[channel] = sub
		added++
	}
	if added == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, natsFlushTimeout)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

func (s *natsSubscriber) Unsubscribe(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, ch := range channels {
		sub, ok := s.subs[ch]
		if !ok {
			continue
		}
		delete(s.subs, ch)
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("nats unsubscribe %q: %w", ch, err)
		}
	}
	return firstErr
}

func (s *natsSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channels := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		channels = append(channels, ch)
	}
	s.mu.Unlock()
	return s.Unsubscribe(context.Background(), channels...)
}
