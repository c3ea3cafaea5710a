package hub

import "errors"

var (
	// ErrMalformedMessage covers unparseable frames, unknown message types and
	// messages missing required fields. The connection stays open.
	ErrMalformedMessage = errors.New("malformed message")
	ErrRoomRequired     = errors.New("room id is required")
	ErrRoomNotFound     = errors.New("room not found")
	ErrPeerNotFound     = errors.New("target peer not found")
)
