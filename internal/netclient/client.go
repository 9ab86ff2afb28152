// Package netclient keeps a local ECS mirror consistent with an
// authoritative server: it applies inbound full-state and delta messages,
// diffs locally owned components once per frame, and manages the reconnect
// token and burst-resync lifecycle.
package netclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/internal/metrics"
	"github.com/marmos91/archnet/pkg/config"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/transport"
	"github.com/marmos91/archnet/pkg/wire"
)

// DefaultTag is the marker component applied to every mirrored entity when
// Options.Tag is left empty.
const DefaultTag = "Networked"

// Callbacks are the host-facing lifecycle hooks. All of them may be nil.
type Callbacks struct {
	// OnConnected fires when the server issues this client a fresh
	// logical id.
	OnConnected func(clientID uint16)
	// OnReconnected fires when the server-issued id equals the one held
	// before the last disconnect.
	OnReconnected func(clientID uint16)
	// OnDisconnected fires exactly once when the transport connection
	// ends for any reason.
	OnDisconnected func()
	// OnMessage receives inbound payloads that are not part of the
	// protocol.
	OnMessage func(data []byte)
}

// Options configures New.
type Options struct {
	Config    *config.ClientConfig
	ECS       ecsface.ECS
	Registry  *registry.Registry
	Transport transport.ClientTransport

	// Tag defaults to DefaultTag.
	Tag string

	// Metrics may be nil.
	Metrics *metrics.Metrics

	Callbacks Callbacks
}

// Client is the local mirror driver. One mutex guards all mutable state:
// transport callbacks buffer into the inbox under it, and Tick drains the
// inbox and diffs under it, preserving the frame-loop interleaving the
// protocol assumes.
type Client struct {
	cfg *config.ClientConfig
	ecs ecsface.ECS
	reg *registry.Registry
	tr  transport.ClientTransport
	tag string
	cb  Callbacks
	m   *metrics.Metrics

	ownerRef *ecsface.FieldRef

	mu      sync.Mutex
	enc     *wire.Encoder
	tracker ecsface.Tracker

	connected      bool
	clientID       uint16
	hasClientID    bool
	reconnectToken uint32

	netToEntity map[uint32]ecsface.EntityID
	entityToNet map[ecsface.EntityID]uint32

	// inbox buffers MSG_DELTA and non-protocol messages between Tick
	// calls; MSG_FULL and MSG_CLIENT_ID are always applied immediately.
	inbox [][]byte

	lastArchetype map[ecsface.EntityID]uint64
	lastOwnedSet  map[ecsface.EntityID]map[uint8]struct{}
}

// New builds a Client. An owner component that is not registered, or whose
// client id field is missing, is a configuration error.
func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		opts.Config = config.GetDefaultClientConfig()
	}
	tag := opts.Tag
	if tag == "" {
		tag = DefaultTag
	}

	c := &Client{
		cfg:           opts.Config,
		ecs:           opts.ECS,
		reg:           opts.Registry,
		tr:            opts.Transport,
		tag:           tag,
		cb:            opts.Callbacks,
		m:             opts.Metrics,
		enc:           wire.NewEncoder(opts.Registry),
		tracker:       opts.ECS.EnableTracking(tag),
		netToEntity:   make(map[uint32]ecsface.EntityID),
		entityToNet:   make(map[ecsface.EntityID]uint32),
		lastArchetype: make(map[ecsface.EntityID]uint64),
		lastOwnedSet:  make(map[ecsface.EntityID]map[uint8]struct{}),
	}

	if oc := opts.Config.OwnerComponent; oc != nil {
		comp, err := opts.Registry.ByName(oc.Component)
		if err != nil {
			return nil, fmt.Errorf("netclient: owner component: %w", err)
		}
		var ref *ecsface.FieldRef
		for _, f := range comp.Fields {
			if f.Name == oc.ClientIDField {
				ref = &ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
				break
			}
		}
		if ref == nil {
			return nil, fmt.Errorf("netclient: owner component %q has no field %q", oc.Component, oc.ClientIDField)
		}
		c.ownerRef = ref
	}

	return c, nil
}

// Connect dials the server and opens the handshake by sending the stored
// reconnect token (0 if this client never held a session).
func (c *Client) Connect(ctx context.Context, url string) error {
	if err := c.tr.Connect(ctx, url, (*clientHandlers)(c)); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	token := c.reconnectToken
	buf := cloneBytes(c.enc.EncodeReconnect(token))
	c.mu.Unlock()

	return c.tr.Send(buf)
}

// Disconnect closes the transport connection. OnDisconnected fires through
// the normal close path.
func (c *Client) Disconnect() error {
	return c.tr.Close()
}

// Send forwards an arbitrary host payload to the server over the same
// connection the protocol uses.
func (c *Client) Send(data []byte) error {
	return c.tr.Send(data)
}

// ClientID returns the logical id the server issued, if any.
func (c *Client) ClientID() (uint16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.hasClientID
}

// ReconnectToken returns the current token, exposed so the host can
// persist it across process restarts.
func (c *Client) ReconnectToken() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectToken
}

// SetReconnectToken seeds the token before Connect, typically from storage
// written by a previous process.
func (c *Client) SetReconnectToken(token uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectToken = token
}

// NetToEntity resolves a server NetId to the local entity mirroring it.
func (c *Client) NetToEntity(netID uint32) (ecsface.EntityID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.netToEntity[netID]
	return id, ok
}

// OwnedEntities returns the local entities whose ownership field equals
// this client's id, in ascending order. Empty without an owner component
// configured or before the handshake completes.
func (c *Client) OwnedEntities() []ecsface.EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ownerRef == nil || !c.hasClientID {
		return nil
	}
	var out []ecsface.EntityID
	for entityID := range c.entityToNet {
		if v, ok := c.ecs.Get(entityID, *c.ownerRef); ok {
			if owner, ok := asClientID(v); ok && owner == c.clientID {
				out = append(out, entityID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tick is the single per-frame entry point: drain buffered inbound
// messages (applying the burst-resync policy first), then diff and send
// owned component changes.
func (c *Client) Tick() {
	c.mu.Lock()

	inbox := c.inbox
	c.inbox = nil

	inbox = c.applyBurstPolicy(inbox)

	for _, data := range inbox {
		c.dispatchBuffered(data)
	}

	out := c.diffOwned()
	c.tracker.FlushSnapshots()

	var buf []byte
	if out != nil && !out.IsEmpty() {
		encoded, err := c.enc.EncodeClientDelta(*out)
		if err != nil {
			logger.Error("client delta encode failed", "error", err)
		} else {
			buf = cloneBytes(encoded)
		}
	}
	connected := c.connected
	c.mu.Unlock()

	if buf != nil && connected {
		if err := c.tr.Send(buf); err != nil {
			logger.Warn("client delta send failed", "error", err)
		}
	}
}

// applyBurstPolicy implements the resync shortcut: past the configured
// threshold, replaying a backlog of stale deltas is both wasteful and
// visually wrong, so the whole backlog is dropped and one MSG_REQUEST_FULL
// converges faster. Non-protocol messages in the backlog still reach the
// host.
func (c *Client) applyBurstPolicy(inbox [][]byte) [][]byte {
	if c.cfg.BurstThreshold == 0 {
		return inbox
	}

	deltaCount := 0
	for _, data := range inbox {
		if len(data) > 0 && data[0] == wire.MsgDelta {
			deltaCount++
		}
	}
	if uint32(deltaCount) <= c.cfg.BurstThreshold {
		return inbox
	}

	logger.Info("burst threshold exceeded, requesting full resync",
		"buffered_deltas", deltaCount, "threshold", c.cfg.BurstThreshold)
	c.m.ObserveBurstResync()

	kept := inbox[:0]
	for _, data := range inbox {
		if len(data) > 0 && data[0] == wire.MsgDelta {
			continue
		}
		kept = append(kept, data)
	}

	if c.connected {
		if err := c.tr.Send(cloneBytes(c.enc.EncodeRequestFull())); err != nil {
			logger.Warn("full resync request failed", "error", err)
		}
	}

	return kept
}

func (c *Client) dispatchBuffered(data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0] == wire.MsgDelta {
		c.applyDelta(data)
		return
	}
	if c.cb.OnMessage != nil {
		cb := c.cb.OnMessage
		payload := data
		c.mu.Unlock()
		cb(payload)
		c.mu.Lock()
	}
}

// ---- transport.ClientHandlers (via type adapter) ----

type clientHandlers Client

func (h *clientHandlers) OnMessage(data []byte) { (*Client)(h).onMessage(data) }
func (h *clientHandlers) OnClose(err error)     { (*Client)(h).onClose(err) }

// onMessage applies MSG_CLIENT_ID and MSG_FULL immediately; everything
// else waits for the next Tick so message application never re-enters the
// host's render loop.
func (c *Client) onMessage(data []byte) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case wire.MsgClientID:
		c.handleClientID(data)
	case wire.MsgFull:
		c.applyFull(data)
	default:
		c.mu.Lock()
		c.inbox = append(c.inbox, data)
		c.mu.Unlock()
	}
}

func (c *Client) handleClientID(data []byte) {
	dec := wire.NewDecoder(data, c.reg)
	clientID, token, err := dec.DecodeClientID()
	if err != nil {
		logger.Error("malformed client id message", "error", err)
		_ = c.tr.Close()
		return
	}

	c.mu.Lock()
	reconnected := c.hasClientID && c.clientID == clientID
	c.clientID = clientID
	c.hasClientID = true
	c.reconnectToken = token
	c.mu.Unlock()

	if reconnected {
		logger.Info("session resumed", "client_id", clientID)
		if c.cb.OnReconnected != nil {
			c.cb.OnReconnected(clientID)
		}
		return
	}
	logger.Info("session established", "client_id", clientID)
	if c.cb.OnConnected != nil {
		c.cb.OnConnected(clientID)
	}
}

func (c *Client) onClose(err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if err != nil {
		logger.Warn("connection closed", "error", err)
	} else {
		logger.Info("connection closed")
	}

	if wasConnected && c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}
}

func asClientID(v any) (uint16, bool) {
	switch n := v.(type) {
	case uint16:
		return n, true
	case uint8:
		return uint16(n), true
	case uint32:
		return uint16(n), true
	case int32:
		return uint16(n), true
	case int:
		return uint16(n), true
	default:
		return 0, false
	}
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
