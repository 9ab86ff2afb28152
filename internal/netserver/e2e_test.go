package netserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/archnet/internal/netclient"
	"github.com/marmos91/archnet/pkg/config"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/ecsmem"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/transport"
)

// loopback wires one server transport and one client transport together
// synchronously: every Send is delivered to the peer's handler before it
// returns, which makes end-to-end tests deterministic without goroutines.
type loopback struct {
	connID         transport.ConnID
	serverHandlers transport.Handlers
	clientHandlers transport.ClientHandlers
	open           bool
}

type loopbackServer struct{ lb *loopback }

func (s *loopbackServer) Start(ctx context.Context, port uint16, handlers transport.Handlers) error {
	s.lb.serverHandlers = handlers
	return nil
}
func (s *loopbackServer) Stop(ctx context.Context) error { return nil }
func (s *loopbackServer) Send(id transport.ConnID, data []byte) error {
	s.lb.clientHandlers.OnMessage(data)
	return nil
}
func (s *loopbackServer) Broadcast(data []byte) error {
	s.lb.clientHandlers.OnMessage(data)
	return nil
}

type loopbackClient struct{ lb *loopback }

func (c *loopbackClient) Connect(ctx context.Context, url string, handlers transport.ClientHandlers) error {
	c.lb.clientHandlers = handlers
	c.lb.open = true
	c.lb.serverHandlers.OnOpen(c.lb.connID)
	return nil
}
func (c *loopbackClient) Close() error {
	if !c.lb.open {
		return nil
	}
	c.lb.open = false
	c.lb.serverHandlers.OnClose(c.lb.connID)
	c.lb.clientHandlers.OnClose(nil)
	return nil
}
func (c *loopbackClient) Send(data []byte) error {
	c.lb.serverHandlers.OnMessage(c.lb.connID, data)
	return nil
}

// Mirror consistency under lossless transport: after any sequence of server
// ticks, the client's local component values equal the server's.
func TestEndToEndMirrorConsistency(t *testing.T) {
	lb := &loopback{connID: "e2e-1"}

	serverStore := ecsmem.New()
	serverReg := testRegistry(t)
	srv, err := New(Options{
		Config:    config.GetDefaultServerConfig(),
		ECS:       serverStore,
		Registry:  serverReg,
		Transport: &loopbackServer{lb: lb},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	clientStore := ecsmem.New()
	cl, err := netclient.New(netclient.Options{
		Config:    config.GetDefaultClientConfig(),
		ECS:       clientStore,
		Registry:  testRegistry(t),
		Transport: &loopbackClient{lb: lb},
	})
	require.NoError(t, err)

	id := serverStore.CreateEntity(ecsface.EntityInit{
		Tag: DefaultTag,
		Components: []ecsface.ComponentInit{
			{Name: "Position", Fields: map[string]any{"x": float32(1.5), "y": float32(2.5)}},
		},
	})
	require.NoError(t, srv.Tick())

	require.NoError(t, cl.Connect(context.Background(), "loopback://"))
	cl.Tick()

	xRef := ecsface.FieldRef{Component: "Position", Field: "x", Type: registry.F32}

	localID, ok := cl.NetToEntity(1)
	require.True(t, ok, "handshake snapshot must carry the entity under its NetId")
	v, ok := clientStore.Get(localID, xRef)
	require.True(t, ok)
	assert.Equal(t, float32(1.5), v)

	// Update propagates.
	require.True(t, serverStore.Set(id, xRef, float32(42.5)))
	require.NoError(t, srv.Tick())
	cl.Tick()
	v, _ = clientStore.Get(localID, xRef)
	assert.Equal(t, float32(42.5), v)

	// Attach propagates.
	require.True(t, serverStore.AddComponent(id, "Player", map[string]any{"owner": uint16(0)}))
	require.NoError(t, srv.Tick())
	cl.Tick()
	assert.True(t, clientStore.HasComponent(localID, "Player"))

	// Destroy propagates.
	serverStore.DestroyEntity(id)
	require.NoError(t, srv.Tick())
	cl.Tick()
	_, ok = cl.NetToEntity(1)
	assert.False(t, ok)
}

// A client-owned write round-trips: the client's local mutation reaches the
// server ECS through MSG_CLIENT_DELTA.
func TestEndToEndClientOwnedRoundTrip(t *testing.T) {
	lb := &loopback{connID: "e2e-2"}

	ownerCfg := &config.OwnerComponentConfig{Component: "Player", ClientIDField: "owner"}

	serverStore := ecsmem.New()
	serverCfg := config.GetDefaultServerConfig()
	serverCfg.OwnerComponent = ownerCfg
	srv, err := New(Options{
		Config:    serverCfg,
		ECS:       serverStore,
		Registry:  testRegistry(t),
		Transport: &loopbackServer{lb: lb},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	clientStore := ecsmem.New()
	clientCfg := config.GetDefaultClientConfig()
	clientCfg.OwnerComponent = ownerCfg
	cl, err := netclient.New(netclient.Options{
		Config:    clientCfg,
		ECS:       clientStore,
		Registry:  testRegistry(t),
		Transport: &loopbackClient{lb: lb},
	})
	require.NoError(t, err)

	require.NoError(t, cl.Connect(context.Background(), "loopback://"))

	// The server spawns the client's avatar, owned by logical client 1.
	id := serverStore.CreateEntity(ecsface.EntityInit{
		Tag: DefaultTag,
		Components: []ecsface.ComponentInit{
			{Name: "Player", Fields: map[string]any{"owner": uint16(1)}},
			{Name: "Input", Fields: map[string]any{"ax": float32(0), "ay": float32(0)}},
		},
	})
	require.NoError(t, srv.Tick())
	cl.Tick()

	localID, ok := cl.NetToEntity(1)
	require.True(t, ok)
	assert.Equal(t, []ecsface.EntityID{localID}, cl.OwnedEntities())

	// Quiesce the owned diff baseline, then steer.
	cl.Tick()
	axRef := ecsface.FieldRef{Component: "Input", Field: "ax", Type: registry.F32}
	require.True(t, clientStore.Set(localID, axRef, float32(0.75)))
	cl.Tick()

	v, ok := serverStore.Get(id, axRef)
	require.True(t, ok)
	assert.Equal(t, float32(0.75), v)
}
