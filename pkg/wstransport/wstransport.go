// Package wstransport is the default pkg/transport.Transport
// implementation: a net/http listener with a gorilla/websocket upgrader,
// binary frames, and one reader plus one writer goroutine per connection.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/pkg/transport"
)

// DefaultSendBuffer is the per-connection outbound queue depth used when
// Config.SendBuffer is left at 0.
const DefaultSendBuffer = 256

// Config controls the websocket transport's listener and per-connection
// behavior.
type Config struct {
	// SendBuffer is the number of outbound messages buffered per
	// connection before the slow-client policy kicks in. Defaults to
	// DefaultSendBuffer.
	SendBuffer int
	// HandshakeTimeout bounds the websocket upgrade handshake.
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Transport is the websocket-backed transport.Transport implementation.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader

	server *http.Server

	mu    sync.RWMutex
	conns map[transport.ConnID]*conn

	nextID uint64
}

// New returns an unstarted websocket Transport.
func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		conns: make(map[transport.ConnID]*conn),
	}
}

type conn struct {
	id   transport.ConnID
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Start begins listening on port and blocks until the listener is ready
// to accept connections, then returns; connection lifecycle events are
// delivered to handlers for as long as the Transport runs.
func (t *Transport) Start(ctx context.Context, port uint16, handlers transport.Handlers) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.handleUpgrade(w, r, handlers)
	})

	t.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", t.server.Addr)
	if err != nil {
		return fmt.Errorf("wstransport: listen failed: %w", err)
	}

	go func() {
		logger.Info("websocket transport listening", "port", port)
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket transport serve failed", "error", err)
		}
	}()

	return nil
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request, handlers transport.Handlers) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	t.mu.Lock()
	t.nextID++
	id := transport.ConnID(fmt.Sprintf("ws-%d", t.nextID))
	c := &conn{id: id, ws: ws, send: make(chan []byte, t.cfg.SendBuffer), done: make(chan struct{})}
	t.conns[id] = c
	t.mu.Unlock()

	handlers.OnOpen(id)

	go t.writeLoop(c)
	t.readLoop(c, handlers)
}

// slow-client policy: a connection whose outbound queue is full past
// SendBuffer is considered unable to keep up and is closed rather than
// allowed to grow unbounded or block the tick loop.
func (t *Transport) writeLoop(c *conn) {
	defer func() {
		_ = c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (t *Transport) readLoop(c *conn, handlers transport.Handlers) {
	defer t.closeConn(c, handlers)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		handlers.OnMessage(c.id, data)
	}
}

func (t *Transport) closeConn(c *conn, handlers transport.Handlers) {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.send)
		t.mu.Lock()
		delete(t.conns, c.id)
		t.mu.Unlock()
		handlers.OnClose(c.id)
	})
}

// Send enqueues data for delivery to one connection. If the connection's
// outbound queue is full, the connection is closed (slow-client policy)
// and an error is returned.
func (t *Transport) Send(id transport.ConnID, data []byte) error {
	t.mu.RLock()
	c, ok := t.conns[id]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("wstransport: unknown connection %q", id)
	}

	select {
	case c.send <- data:
		return nil
	default:
		logger.Warn("websocket send buffer full, closing slow client", "conn_id", id)
		go func() { _ = c.ws.Close() }()
		return fmt.Errorf("wstransport: send buffer full for %q", id)
	}
}

// Broadcast enqueues data for delivery to every open connection. The same
// byte slice is shared across every connection's queue (no per-connection
// copy), so a buffer encoded once fans out without further allocation.
func (t *Transport) Broadcast(data []byte) error {
	t.mu.RLock()
	targets := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		targets = append(targets, c)
	}
	t.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			logger.Warn("websocket send buffer full, closing slow client", "conn_id", c.id)
			go func(c *conn) { _ = c.ws.Close() }(c)
		}
	}
	return nil
}

// CloseConn closes a single connection, leaving the listener and every
// other connection untouched. The reader goroutine observes the closed
// socket and delivers OnClose as usual.
func (t *Transport) CloseConn(id transport.ConnID) error {
	t.mu.RLock()
	c, ok := t.conns[id]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("wstransport: unknown connection %q", id)
	}
	return c.ws.Close()
}

// Stop closes every open connection and shuts down the HTTP listener.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.RLock()
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}

	if t.server == nil {
		return nil
	}
	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("wstransport: shutdown error: %w", err)
	}
	return nil
}
