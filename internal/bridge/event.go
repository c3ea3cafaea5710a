package bridge

import (
	"encoding/json"
	"errors"
	"time"
)

// Event is the envelope carried on a broker channel. It is a latest-state
// snapshot; consumers apply last-write-wins.
type Event struct {
	OriginID  string          `json:"originId"`
	NodeID    string          `json:"nodeId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

var errEventMissingOrigin = errors.New("event missing originId")

func newEvent(originID, nodeID string, payload json.RawMessage, now time.Time) Event {
	return Event{
		OriginID:  originID,
		NodeID:    nodeID,
		Payload:   payload,
		Timestamp: now.UnixMilli(),
	}
}

func decodeEvent(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, err
	}
	if ev.OriginID == "" {
		return Event{}, errEventMissingOrigin
	}
	return ev, nil
}
