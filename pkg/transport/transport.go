// Package transport defines the narrow, transport-agnostic abstraction the
// core depends on to move bytes to and from clients. The default
// implementation is pkg/wstransport; any ordered, reliable,
// message-framed transport that preserves message boundaries is
// acceptable.
package transport

import "context"

// ConnID identifies one transport connection. It is opaque to the core:
// the session layer is solely responsible for mapping it to a logical
// ClientId.
type ConnID string

// Handlers are the callbacks a Transport invokes as connections open,
// close, and deliver messages. Implementations must invoke these
// synchronously with respect to a single connection (no two callbacks for
// the same ConnID run concurrently) so the single-threaded tick loop
// never observes interleaved state for one client.
type Handlers interface {
	OnOpen(id ConnID)
	OnClose(id ConnID)
	OnMessage(id ConnID, data []byte)
}

// Transport is the abstraction NetServer depends on. Start and Stop are
// the only suspension points; Send and Broadcast enqueue onto the
// transport's own output buffering and return immediately.
type Transport interface {
	// Start begins listening on port and blocks until listening, invoking
	// handlers for every connection lifecycle event from then on.
	Start(ctx context.Context, port uint16, handlers Handlers) error
	// Stop closes every connection and blocks until fully shut down.
	Stop(ctx context.Context) error
	// Send enqueues data for delivery to one connection. Non-blocking.
	Send(id ConnID, data []byte) error
	// Broadcast enqueues data for delivery to every open connection.
	// Non-blocking.
	Broadcast(data []byte) error
}

// ConnCloser is an optional interface a Transport may implement to let the
// core close a single misbehaving connection (the fatal-protocol-error
// policy) without tearing the whole transport down.
type ConnCloser interface {
	CloseConn(id ConnID) error
}
