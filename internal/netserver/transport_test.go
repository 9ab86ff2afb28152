package netserver

import (
	"context"
	"sync"

	"github.com/marmos91/archnet/pkg/transport"
)

// fakeTransport is a synchronous in-memory transport for tests: Send
// records outbound buffers per connection, and the test drives lifecycle
// events by calling open/deliver/close directly.
type fakeTransport struct {
	mu       sync.Mutex
	handlers transport.Handlers
	sent     map[transport.ConnID][][]byte
	closed   map[transport.ConnID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(map[transport.ConnID][][]byte),
		closed: make(map[transport.ConnID]bool),
	}
}

func (f *fakeTransport) Start(ctx context.Context, port uint16, handlers transport.Handlers) error {
	f.handlers = handlers
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(id transport.ConnID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], data)
	return nil
}

func (f *fakeTransport) Broadcast(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.sent {
		f.sent[id] = append(f.sent[id], data)
	}
	return nil
}

func (f *fakeTransport) CloseConn(id transport.ConnID) error {
	f.mu.Lock()
	f.closed[id] = true
	f.mu.Unlock()
	f.handlers.OnClose(id)
	return nil
}

func (f *fakeTransport) open(id transport.ConnID) {
	f.mu.Lock()
	if _, ok := f.sent[id]; !ok {
		f.sent[id] = nil
	}
	f.mu.Unlock()
	f.handlers.OnOpen(id)
}

func (f *fakeTransport) deliver(id transport.ConnID, data []byte) {
	f.handlers.OnMessage(id, data)
}

func (f *fakeTransport) close(id transport.ConnID) {
	f.handlers.OnClose(id)
}

func (f *fakeTransport) sentTo(id transport.ConnID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent[id]))
	copy(out, f.sent[id])
	return out
}

func (f *fakeTransport) drain(id transport.ConnID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[id]
	f.sent[id] = nil
	return out
}
