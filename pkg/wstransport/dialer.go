package wstransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/pkg/transport"
)

// Dialer is the websocket-backed transport.ClientTransport implementation.
// It mirrors the server side: binary frames, one reader goroutine, one
// writer goroutine draining a buffered channel so Send never blocks the
// caller's frame loop.
type Dialer struct {
	cfg Config

	mu sync.Mutex
	ws *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce *sync.Once
}

// NewDialer returns an unconnected Dialer.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

var _ transport.ClientTransport = (*Dialer)(nil)

// Connect dials url and blocks until the websocket handshake completes.
// Inbound binary frames are delivered to handlers.OnMessage from a single
// reader goroutine; handlers.OnClose fires exactly once when the
// connection ends for any reason.
func (d *Dialer) Connect(ctx context.Context, url string, handlers transport.ClientHandlers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ws != nil {
		return fmt.Errorf("wstransport: already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("wstransport: dial %q failed: %w", url, err)
	}

	d.ws = ws
	d.send = make(chan []byte, d.cfg.SendBuffer)
	d.done = make(chan struct{})
	d.closeOnce = &sync.Once{}

	go d.writeLoop(ws, d.send, d.done)
	go d.readLoop(ws, handlers)

	return nil
}

func (d *Dialer) writeLoop(ws *websocket.Conn, send chan []byte, done chan struct{}) {
	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (d *Dialer) readLoop(ws *websocket.Conn, handlers transport.ClientHandlers) {
	var readErr error
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				readErr = err
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		handlers.OnMessage(data)
	}
	d.teardown(func() { handlers.OnClose(readErr) })
}

func (d *Dialer) teardown(onClose func()) {
	d.mu.Lock()
	once := d.closeOnce
	ws := d.ws
	done := d.done
	d.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		if done != nil {
			close(done)
		}
		if ws != nil {
			_ = ws.Close()
		}
		d.mu.Lock()
		d.ws = nil
		d.mu.Unlock()
		onClose()
	})
}

// Close tears the connection down locally. The reader goroutine observes
// the closed socket and fires OnClose.
func (d *Dialer) Close() error {
	d.mu.Lock()
	ws := d.ws
	d.mu.Unlock()
	if ws == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return ws.Close()
}

// Send enqueues data for delivery to the server. If the outbound queue is
// full the connection is torn down rather than blocking the frame loop.
func (d *Dialer) Send(data []byte) error {
	d.mu.Lock()
	ws := d.ws
	send := d.send
	d.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("wstransport: not connected")
	}

	select {
	case send <- data:
		return nil
	default:
		logger.Warn("websocket send buffer full, closing connection")
		_ = ws.Close()
		return fmt.Errorf("wstransport: send buffer full")
	}
}
