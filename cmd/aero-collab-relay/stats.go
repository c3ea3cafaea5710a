package main

import (
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/docs"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/indexing"
)

// relayStats is the body of GET /stats.
type relayStats struct {
	Connections []hub.ConnInfo  `json:"connections"`
	Rooms       []hub.RoomInfo  `json:"rooms"`
	Topics      []hub.TopicInfo `json:"topics"`
	Documents   []docs.Info     `json:"documents"`
	IndexQueue  indexQueueStats `json:"indexQueue"`
}

type indexQueueStats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inFlight"`
}

func collectStats(reg *hub.Registry, topics *hub.TopicRouter, rooms *hub.RoomManager, documents *docs.Registry, q *indexing.Queue) relayStats {
	return relayStats{
		Connections: reg.List(),
		Rooms:       rooms.Rooms(),
		Topics:      topics.Topics(),
		Documents:   documents.Documents(),
		IndexQueue:  indexQueueStats{Pending: q.Len(), InFlight: q.InFlight()},
	}
}
