// Package netserver orchestrates the authoritative side of the protocol:
// the per-tick diff/group/encode/dispatch schedule, the handshake and
// reconnect lifecycle, and the ingress path for client-owned component
// deltas.
package netserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/archnet/internal/clientview"
	"github.com/marmos91/archnet/internal/differ"
	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/internal/metrics"
	"github.com/marmos91/archnet/pkg/config"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/protosession"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/transport"
	"github.com/marmos91/archnet/pkg/wire"
)

// DefaultTag is the marker component name tracked for entity creation and
// destruction when Options.Tag is left empty.
const DefaultTag = "Networked"

// Filter supplies a client's interest set for one tick: the NetIds it is
// currently entitled to see. A nil Filter on Options selects broadcast
// mode, where every client receives every change.
type Filter func(clientID uint16) map[uint32]struct{}

// ComponentValidators are the optional per-component ingress predicates the
// host registers for a clientOwned component. Each is called after the
// ownership check; returning false rejects that individual change silently.
//
// The Delta predicate always receives a complete merged record (dirty
// fields from the incoming delta, the rest from current state), so
// cross-field checks never observe a half-updated component.
type ComponentValidators struct {
	Delta  func(clientID uint16, netID uint32, merged map[string]any) bool
	Attach func(clientID uint16, netID uint32, fields map[string]any) bool
	Detach func(clientID uint16, netID uint32) bool
}

// Callbacks are the host-facing lifecycle hooks. All of them may be nil.
// None of them is invoked with the server's internal lock held. OnDisconnect
// fires from the grace-timer goroutine, or from the transport's close
// callback when reconnect is disabled.
type Callbacks struct {
	// OnConnect fires when a brand new logical client completes handshake.
	OnConnect func(clientID uint16)
	// OnReconnect fires when a disconnected client rebinds within its
	// grace window.
	OnReconnect func(clientID uint16)
	// OnDisconnect fires when a logical client is retired (grace window
	// expired, or reconnect disabled).
	OnDisconnect func(clientID uint16)
	// OnMessage receives any inbound payload that is not part of the
	// protocol (game-level messages riding the same connection).
	OnMessage func(clientID uint16, data []byte)
}

// Options configures New.
type Options struct {
	Config    *config.ServerConfig
	ECS       ecsface.ECS
	Registry  *registry.Registry
	Transport transport.Transport

	// Tag is the marker component tracked for creation/destruction.
	// Defaults to DefaultTag.
	Tag string

	// Filter selects per-client interest mode; nil selects broadcast mode.
	Filter Filter

	// Metrics may be nil; every instrument call is a no-op then.
	Metrics *metrics.Metrics

	Callbacks Callbacks
}

// Server drives the authoritative world. All mutable state is guarded by
// one mutex: the tick loop, transport callbacks and grace timers each take
// it for their full critical section, which preserves the protocol's
// single-threaded interleaving semantics without requiring the host to pin
// everything to one goroutine.
type Server struct {
	cfg    *config.ServerConfig
	ecs    ecsface.ECS
	reg    *registry.Registry
	tr     transport.Transport
	filter Filter
	cb     Callbacks
	m      *metrics.Metrics
	tag    string

	ownerRef *ecsface.FieldRef

	mu         sync.Mutex
	d          *differ.Differ
	enc        *wire.Encoder
	sessions   *protosession.Manager
	views      map[uint16]*clientview.View
	pending    map[transport.ConnID]struct{}
	validators map[uint8]ComponentValidators
	tick       uint64
}

// New builds a Server. Configuration errors (an owner component that is not
// registered, or whose client id field is missing) are fatal here, never
// mid-tick.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.GetDefaultServerConfig()
	}
	tag := opts.Tag
	if tag == "" {
		tag = DefaultTag
	}

	s := &Server{
		cfg:        opts.Config,
		ecs:        opts.ECS,
		reg:        opts.Registry,
		tr:         opts.Transport,
		filter:     opts.Filter,
		cb:         opts.Callbacks,
		m:          opts.Metrics,
		tag:        tag,
		d:          differ.New(opts.ECS, opts.Registry, tag),
		enc:        wire.NewEncoder(opts.Registry),
		views:      make(map[uint16]*clientview.View),
		pending:    make(map[transport.ConnID]struct{}),
		validators: make(map[uint8]ComponentValidators),
	}
	s.sessions = protosession.NewManager(opts.Config.ReconnectWindow, s.onSessionExpired)

	if oc := opts.Config.OwnerComponent; oc != nil {
		ref, err := resolveOwnerRef(opts.Registry, oc)
		if err != nil {
			return nil, err
		}
		s.ownerRef = ref
	}

	return s, nil
}

func resolveOwnerRef(reg *registry.Registry, oc *config.OwnerComponentConfig) (*ecsface.FieldRef, error) {
	comp, err := reg.ByName(oc.Component)
	if err != nil {
		return nil, fmt.Errorf("netserver: owner component: %w", err)
	}
	for _, f := range comp.Fields {
		if f.Name == oc.ClientIDField {
			return &ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}, nil
		}
	}
	return nil, fmt.Errorf("netserver: owner component %q has no field %q", oc.Component, oc.ClientIDField)
}

// Validate registers per-component ingress predicates for a clientOwned
// component. Registering validators for a component the registry does not
// know, or one that is not clientOwned, is a configuration error.
func (s *Server) Validate(component string, v ComponentValidators) error {
	comp, err := s.reg.ByName(component)
	if err != nil {
		return err
	}
	if !comp.ClientOwned {
		return fmt.Errorf("netserver: component %q is not clientOwned, validators would never run", component)
	}
	s.mu.Lock()
	s.validators[comp.WireID] = v
	s.mu.Unlock()
	return nil
}

// Start begins listening. It blocks only until the transport is bound.
func (s *Server) Start(ctx context.Context) error {
	return s.tr.Start(ctx, s.cfg.Port, s)
}

// Stop cancels all grace timers, closes all transport connections, and
// clears the session maps.
func (s *Server) Stop(ctx context.Context) error {
	s.sessions.Stop()
	s.mu.Lock()
	s.views = make(map[uint16]*clientview.View)
	s.pending = make(map[transport.ConnID]struct{})
	s.mu.Unlock()
	return s.tr.Stop(ctx)
}

// Differ exposes the server's differ for host code that needs the
// NetId↔EntityId bindings (interest filters are usually written in terms
// of NetIds).
func (s *Server) Differ() *differ.Differ {
	return s.d
}

// ---- transport.Handlers ----

// OnOpen marks the connection as awaiting its handshake message.
func (s *Server) OnOpen(id transport.ConnID) {
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
	logger.Debug("connection opened", "conn_id", string(id))
}

// OnClose starts the grace window for an Active connection (or retires it
// immediately when reconnect is disabled).
func (s *Server) OnClose(id transport.ConnID) {
	s.mu.Lock()
	if _, wasPending := s.pending[id]; wasPending {
		delete(s.pending, id)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.sessions.Disconnect(string(id))
}

// OnMessage routes one inbound payload. The first message on a connection
// completes the handshake; everything after is client-delta ingress,
// resync requests, or host traffic.
func (s *Server) OnMessage(id transport.ConnID, data []byte) {
	s.m.AddBytesReceived(len(data))

	s.mu.Lock()
	_, isPending := s.pending[id]
	s.mu.Unlock()

	if isPending {
		s.completeHandshake(id, data)
		return
	}

	sess, ok := s.sessions.GetByConn(string(id))
	if !ok || sess.State() != protosession.Active {
		logger.Warn("message from unbound connection dropped", "conn_id", string(id))
		return
	}

	if len(data) == 0 {
		return
	}
	switch data[0] {
	case wire.MsgClientDelta:
		s.handleClientDelta(sess.ClientID, id, data)
	case wire.MsgRequestFull:
		s.handleRequestFull(sess.ClientID, id)
	case wire.MsgReconnect:
		// A second handshake on a live connection is out of protocol.
		logger.Warn("unexpected reconnect on active connection", "client_id", sess.ClientID)
	default:
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(sess.ClientID, data)
		}
	}
}

// completeHandshake processes the first message of a connection. A
// MSG_RECONNECT consumes the message; anything else mints a new client and
// then processes the message normally.
func (s *Server) completeHandshake(id transport.ConnID, data []byte) {
	token := uint32(0)
	consumed := true

	if len(data) > 0 && data[0] == wire.MsgReconnect {
		dec := wire.NewDecoder(data, s.reg)
		t, err := dec.DecodeReconnect()
		if err != nil {
			logger.Warn("malformed reconnect message, closing", "conn_id", string(id), "error", err)
			s.closeConn(id)
			return
		}
		token = t
	} else {
		consumed = false
	}

	s.mu.Lock()
	delete(s.pending, id)

	sess, outcome := s.sessions.HandleReconnect(string(id), token)
	clientID := sess.ClientID

	idBuf := cloneBytes(s.enc.EncodeClientID(clientID, sess.Token()))
	fullBuf, err := s.enc.EncodeFull(wire.FullMessage{Entities: s.d.FullState()})
	if err != nil {
		s.mu.Unlock()
		logger.Error("full state encode failed", "client_id", clientID, "error", err)
		s.closeConn(id)
		return
	}
	fullBuf = cloneBytes(fullBuf)

	live := s.d.LiveNetIDs()
	view := s.views[clientID]
	if outcome == protosession.OutcomeNewClient || view == nil {
		view = clientview.New()
		s.views[clientID] = view
	}
	view.InitKnown(live)
	s.mu.Unlock()

	_ = s.tr.Send(id, idBuf)
	_ = s.tr.Send(id, fullBuf)

	switch outcome {
	case protosession.OutcomeReconnected:
		logger.Info("client reconnected", "client_id", clientID, "conn_id", string(id))
		s.m.ObserveReconnect()
		if s.cb.OnReconnect != nil {
			s.cb.OnReconnect(clientID)
		}
	default:
		logger.Info("client connected", "client_id", clientID, "conn_id", string(id))
		if s.cb.OnConnect != nil {
			s.cb.OnConnect(clientID)
		}
	}

	if !consumed {
		s.OnMessage(id, data)
	}
}

// handleRequestFull resends the authoritative snapshot and realigns the
// client's view state with it.
func (s *Server) handleRequestFull(clientID uint16, id transport.ConnID) {
	s.mu.Lock()
	fullBuf, err := s.enc.EncodeFull(wire.FullMessage{Entities: s.d.FullState()})
	if err != nil {
		s.mu.Unlock()
		logger.Error("full state encode failed", "client_id", clientID, "error", err)
		return
	}
	fullBuf = cloneBytes(fullBuf)
	if view, ok := s.views[clientID]; ok {
		view.InitKnown(s.d.LiveNetIDs())
	}
	s.mu.Unlock()

	logger.Info("full resync requested", "client_id", clientID)
	_ = s.tr.Send(id, fullBuf)
}

func (s *Server) onSessionExpired(clientID uint16) {
	s.mu.Lock()
	delete(s.views, clientID)
	s.mu.Unlock()

	s.m.ObserveSessionRetired(metrics.ReasonGraceExpired)
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect(clientID)
	}
}

func (s *Server) closeConn(id transport.ConnID) {
	if closer, ok := s.tr.(transport.ConnCloser); ok {
		_ = closer.CloseConn(id)
	}
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
