package transport

import "context"

// ClientHandlers are the callbacks a ClientTransport invokes as the single
// outbound connection delivers messages and closes. Implementations must
// invoke them sequentially, never concurrently.
type ClientHandlers interface {
	OnMessage(data []byte)
	// OnClose is invoked exactly once when the connection ends, with the
	// error that ended it (nil for a clean local Close).
	OnClose(err error)
}

// ClientTransport is the abstraction NetClient depends on: one outbound
// ordered, reliable, message-framed connection. Connect is the only
// suspension point; Send enqueues and returns immediately.
type ClientTransport interface {
	// Connect dials url and blocks until the connection is established,
	// invoking handlers for every inbound message from then on.
	Connect(ctx context.Context, url string, handlers ClientHandlers) error
	// Close tears the connection down. OnClose fires with a nil error.
	Close() error
	// Send enqueues data for delivery to the server. Non-blocking.
	Send(data []byte) error
}
