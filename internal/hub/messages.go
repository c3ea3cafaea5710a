package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message types on the signaling WebSocket.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypePing        = "ping"
	TypeJoinRoom    = "join-room"
	TypeSignal      = "signal"
	TypeLeaveRoom   = "leave-room"

	TypePong          = "pong"
	TypeSubscribed    = "subscribed"
	TypeICEServers    = "ice-servers"
	TypeExistingPeers = "existing-peers"
	TypePeerJoined    = "peer-joined"
	TypePeerLeft      = "peer-left"
	TypeError         = "error"
	TypeConnected     = "connected"
)

// Client-visible error texts.
const (
	MsgInvalidFormat      = "Invalid message format"
	MsgRoomRequired       = "Room ID is required"
	MsgInvalidSignal      = "Invalid signal parameters"
	MsgInvalidPublish     = "Invalid publish parameters"
	MsgRoomNotFound       = "Room not found"
	MsgTargetPeerNotFound = "Target peer not found"
	MsgBinaryNotSupported = "Binary frames are not supported"
	msgUnknownTypeFmt     = "Unknown message type: %s"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Topics  topicList       `json:"topics"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Room    string          `json:"room"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// resolvedTopics prefers the topics array and falls back to the single topic
// field, as y-webrtc clients send either form.
func (m inboundMessage) resolvedTopics() []string {
	if m.Topics != nil {
		return m.Topics
	}
	if m.Topic != "" {
		return []string{m.Topic}
	}
	return nil
}

// topicList accepts a JSON array of strings or a single string.
type topicList []string

func (l *topicList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*l = topicList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	if many == nil {
		many = []string{}
	}
	*l = many
	return nil
}

func parseInbound(raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inboundMessage{}, err
	}
	if msg.Type == "" {
		return inboundMessage{}, errors.New("missing type")
	}
	return msg, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PublishMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type SubscribedMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type ICEServersMessage struct {
	Type       string             `json:"type"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type ExistingPeersMessage struct {
	Type  string `json:"type"`
	Peers []Peer `json:"peers"`
}

type PeerEventMessage struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	PeerName string `json:"peerName"`
}

type SignalMessage struct {
	Type     string          `json:"type"`
	From     string          `json:"from"`
	FromName string          `json:"fromName"`
	Payload  json.RawMessage `json:"payload"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ConnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func encodePublish(topic string, data json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(PublishMessage{Type: TypePublish, Topic: topic, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode publish: %w", err)
	}
	return b, nil
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only fixed-shape structs without raw payloads go through here.
		panic(fmt.Sprintf("hub: encode %T: %v", v, err))
	}
	return b
}
