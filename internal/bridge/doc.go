// Package bridge mirrors awareness traffic between relay nodes.
//
// Each connection that takes part in awareness topics gets a Bridge. Local
// publishes to an awareness topic are wrapped in an Event tagged with the
// publisher's identity and sent to a shared Broker; events arriving from the
// Broker are handed back to the connection unless they originated from it.
package bridge
