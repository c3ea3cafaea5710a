// Package signaling is the WebSocket surface of the collaboration relay.
//
// GET / and GET /signal carry the JSON signaling protocol handled by
// hub.Dispatcher. GET /doc/{room} carries opaque document-sync frames for
// docs.Registry. Both authenticate once at upgrade time and share the same
// session machinery: one reader, one writer draining the connection's send
// queue, and a ping loop.
package signaling
