package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

// ICEProvider supplies the ICE server list handed to a peer when it joins a
// room. sessionID identifies the joining connection.
type ICEProvider interface {
	ICEServers(sessionID string) ([]webrtc.ICEServer, error)
}

// RoomInfo is a stats snapshot of one room.
type RoomInfo struct {
	RoomID    string `json:"roomId"`
	PeerCount int    `json:"peerCount"`
}

// RoomManager tracks WebRTC signaling rooms. A connection is in at most one
// room; joining another room leaves the current one first.
type RoomManager struct {
	ice     ICEProvider
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*memberSet
}

func NewRoomManager(ice ICEProvider, log *slog.Logger, m *metrics.Metrics) *RoomManager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RoomManager{
		ice:     ice,
		log:     log,
		metrics: m,
		rooms:   make(map[string]*memberSet),
	}
}

func peerOf(c *Conn) Peer {
	ident := c.Identity()
	return Peer{ID: ident.ID, Name: ident.Name}
}

func (m *RoomManager) iceServers(c *Conn) []webrtc.ICEServer {
	if m.ice == nil {
		return []webrtc.ICEServer{}
	}
	servers, err := m.ice.ICEServers(c.ID())
	if err != nil {
		m.log.Warn("ice_servers_unavailable", "conn_id", c.ID(), "err", err)
		return []webrtc.ICEServer{}
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return servers
}

// Join puts c into room. The joiner receives `ice-servers` followed by
// `existing-peers`; prior members receive `peer-joined`. Re-joining the
// current room repeats the joiner's messages without notifying anyone.
func (m *RoomManager) Join(c *Conn, room string) error {
	if room == "" {
		return ErrRoomRequired
	}
	iceFrame, err := json.Marshal(ICEServersMessage{Type: TypeICEServers, ICEServers: m.iceServers(c)})
	if err != nil {
		return fmt.Errorf("encode ice servers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current := c.Room(); current != "" && current != room {
		m.leaveLocked(c, current)
	}

	set, ok := m.rooms[room]
	if !ok {
		set = newMemberSet()
		m.rooms[room] = set
	}
	peers := make([]Peer, 0, set.len())
	for _, member := range set.members() {
		if member != c {
			peers = append(peers, peerOf(member))
		}
	}
	added := set.add(c)
	c.setRoom(room)

	c.Send(iceFrame)
	c.Send(mustEncode(ExistingPeersMessage{Type: TypeExistingPeers, Peers: peers}))

	if added {
		self := peerOf(c)
		joined := mustEncode(PeerEventMessage{Type: TypePeerJoined, PeerID: self.ID, PeerName: self.Name})
		m.broadcastLocked(set, c, joined)
		m.log.Debug("room_joined", "conn_id", c.ID(), "user_id", self.ID, "room", room, "peers", len(peers))
	}
	return nil
}

// Leave removes c from room and notifies the remaining members. It reports
// false when c was not a member of room.
func (m *RoomManager) Leave(c *Conn, room string) bool {
	if room == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(c, room)
}

// LeaveCurrent removes c from whatever room it is in.
func (m *RoomManager) LeaveCurrent(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := c.Room()
	if room == "" {
		return false
	}
	return m.leaveLocked(c, room)
}

func (m *RoomManager) leaveLocked(c *Conn, room string) bool {
	set, ok := m.rooms[room]
	if !ok || !set.remove(c) {
		return false
	}
	if c.Room() == room {
		c.setRoom("")
	}
	if set.len() == 0 {
		delete(m.rooms, room)
		return true
	}
	self := peerOf(c)
	left := mustEncode(PeerEventMessage{Type: TypePeerLeft, PeerID: self.ID, PeerName: self.Name})
	m.broadcastLocked(set, c, left)
	m.log.Debug("room_left", "conn_id", c.ID(), "user_id", self.ID, "room", room)
	return true
}

func (m *RoomManager) broadcastLocked(set *memberSet, except *Conn, frame []byte) {
	for _, member := range set.members() {
		if member != except {
			member.Send(frame)
		}
	}
}

// Signal relays payload from c to the first-joined member of room whose
// identity id is target. The sender does not have to be in the room.
func (m *RoomManager) Signal(c *Conn, room, target string, payload json.RawMessage) error {
	self := peerOf(c)
	frame, err := json.Marshal(SignalMessage{Type: TypeSignal, From: self.ID, FromName: self.Name, Payload: payload})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[room]
	if !ok || set.len() == 0 {
		m.metrics.Inc(metrics.SignalErrors)
		return ErrRoomNotFound
	}
	for _, member := range set.members() {
		if member.Identity().ID == target {
			member.Send(frame)
			m.metrics.Inc(metrics.SignalsRelayed)
			return nil
		}
	}
	m.metrics.Inc(metrics.SignalErrors)
	return ErrPeerNotFound
}

// Members returns the peers of room in join order.
func (m *RoomManager) Members(room string) []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Peer, 0, set.len())
	for _, member := range set.members() {
		out = append(out, peerOf(member))
	}
	return out
}

// Rooms returns every live room sorted by id.
func (m *RoomManager) Rooms() []RoomInfo {
	m.mu.Lock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, set := range m.rooms {
		out = append(out, RoomInfo{RoomID: id, PeerCount: set.len()})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
