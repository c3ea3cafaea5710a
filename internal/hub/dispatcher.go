package hub

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

// Dispatcher routes decoded signaling frames to the TopicRouter and
// RoomManager. It is shared by every connection on a node.
type Dispatcher struct {
	Topics  *TopicRouter
	Rooms   *RoomManager
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

func NewDispatcher(topics *TopicRouter, rooms *RoomManager, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{Topics: topics, Rooms: rooms, Log: log, Metrics: m}
}

var pongFrame = mustEncode(PongMessage{Type: TypePong})

// Handle processes one text frame from c. Protocol errors are answered with an
// `error` frame and returned; none of them are fatal to the connection.
func (d *Dispatcher) Handle(c *Conn, raw []byte) error {
	msg, err := parseInbound(raw)
	if err != nil {
		return d.malformed(c, MsgInvalidFormat, err)
	}

	switch msg.Type {
	case TypeSubscribe:
		topics := d.Topics.Subscribe(c, msg.resolvedTopics())
		if c.interceptor != nil && len(topics) > 0 {
			c.interceptor.Subscribed(c, topics)
		}
		c.Send(mustEncode(SubscribedMessage{Type: TypeSubscribed, Topics: topics}))

	case TypeUnsubscribe:
		left := d.Topics.Unsubscribe(c, msg.resolvedTopics())
		if c.interceptor != nil && len(left) > 0 {
			c.interceptor.Unsubscribed(c, left)
		}

	case TypePublish:
		if msg.Topic == "" || isAbsent(msg.Data) {
			return d.malformed(c, MsgInvalidPublish, errors.New("publish requires topic and data"))
		}
		if c.interceptor != nil {
			c.interceptor.Published(c, msg.Topic, msg.Data)
		}
		if _, err := d.Topics.Publish(c, msg.Topic, msg.Data); err != nil {
			return d.malformed(c, MsgInvalidPublish, err)
		}

	case TypePing:
		c.Send(pongFrame)

	case TypeJoinRoom:
		if err := d.Rooms.Join(c, msg.Room); err != nil {
			if errors.Is(err, ErrRoomRequired) {
				d.ReplyError(c, MsgRoomRequired)
			}
			return err
		}

	case TypeSignal:
		if msg.Room == "" || msg.Target == "" || isAbsent(msg.Payload) {
			return d.malformed(c, MsgInvalidSignal, errors.New("signal requires room, target and payload"))
		}
		if err := d.Rooms.Signal(c, msg.Room, msg.Target, msg.Payload); err != nil {
			switch {
			case errors.Is(err, ErrRoomNotFound):
				d.ReplyError(c, MsgRoomNotFound)
			case errors.Is(err, ErrPeerNotFound):
				d.ReplyError(c, MsgTargetPeerNotFound)
			default:
				d.ReplyError(c, MsgInvalidSignal)
			}
			return err
		}

	case TypeLeaveRoom:
		if msg.Room == "" {
			d.Rooms.LeaveCurrent(c)
		} else {
			d.Rooms.Leave(c, msg.Room)
		}

	default:
		return d.malformed(c, fmt.Sprintf(msgUnknownTypeFmt, msg.Type), fmt.Errorf("unknown type %q", msg.Type))
	}
	return nil
}

func (d *Dispatcher) malformed(c *Conn, reply string, cause error) error {
	d.Metrics.Inc(metrics.MalformedMessage)
	d.ReplyError(c, reply)
	return fmt.Errorf("%w: %v", ErrMalformedMessage, cause)
}

// ReplyError sends `error {message}` to c.
func (d *Dispatcher) ReplyError(c *Conn, message string) {
	c.Send(mustEncode(ErrorMessage{Type: TypeError, Message: message}))
}

// Teardown removes c from its room and every topic. The interceptor is told
// about the dropped subscriptions so it can release external channels.
func (d *Dispatcher) Teardown(c *Conn) {
	d.Rooms.LeaveCurrent(c)
	left := d.Topics.UnsubscribeAll(c)
	if c.interceptor != nil && len(left) > 0 {
		c.interceptor.Unsubscribed(c, left)
	}
}
