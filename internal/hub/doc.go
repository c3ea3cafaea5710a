// Package hub holds the node-local fan-out state of the collaboration relay:
// live connections, pub/sub topics and signaling rooms.
//
// Nothing in this package touches a socket. Deliveries are enqueued on each
// connection's outbound queue and drained by the transport's write pump.
package hub
