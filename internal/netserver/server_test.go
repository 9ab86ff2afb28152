package netserver

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/archnet/pkg/config"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/ecsmem"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/transport"
	"github.com/marmos91/archnet/pkg/wire"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry([]registry.ComponentDef{
		{
			Name: "Position",
			Fields: []registry.FieldSchema{
				{Name: "x", Type: registry.F32},
				{Name: "y", Type: registry.F32},
			},
		},
		{
			Name: "Player",
			Fields: []registry.FieldSchema{
				{Name: "owner", Type: registry.U16},
			},
		},
		{
			Name:        "Input",
			ClientOwned: true,
			Fields: []registry.FieldSchema{
				{Name: "ax", Type: registry.F32},
				{Name: "ay", Type: registry.F32},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

type testEnv struct {
	srv   *Server
	tr    *fakeTransport
	store *ecsmem.Store
	reg   *registry.Registry
	enc   *wire.Encoder
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	store := ecsmem.New()
	reg := testRegistry(t)
	tr := newFakeTransport()

	cfg := config.GetDefaultServerConfig()
	cfg.ReconnectWindow = time.Hour

	opts := Options{
		Config:    cfg,
		ECS:       store,
		Registry:  reg,
		Transport: tr,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	return &testEnv{srv: srv, tr: tr, store: store, reg: reg, enc: wire.NewEncoder(reg)}
}

// handshake opens a connection, completes the handshake with the given
// token, and returns the issued clientID and rotated token.
func (e *testEnv) handshake(t *testing.T, connID transport.ConnID, token uint32) (uint16, uint32) {
	t.Helper()

	e.tr.open(connID)
	e.tr.deliver(connID, append([]byte(nil), e.enc.EncodeReconnect(token)...))

	sent := e.tr.drain(connID)
	require.GreaterOrEqual(t, len(sent), 2, "handshake must send MSG_CLIENT_ID and MSG_FULL")

	clientID, newToken, err := wire.NewDecoder(sent[0], e.reg).DecodeClientID()
	require.NoError(t, err)
	_, err = wire.NewDecoder(sent[1], e.reg).DecodeFull()
	require.NoError(t, err)

	return clientID, newToken
}

func (e *testEnv) spawn(t *testing.T, x, y float32) ecsface.EntityID {
	t.Helper()
	return e.store.CreateEntity(ecsface.EntityInit{
		Tag: DefaultTag,
		Components: []ecsface.ComponentInit{
			{Name: "Position", Fields: map[string]any{"x": x, "y": y}},
		},
	})
}

func (e *testEnv) setX(t *testing.T, id ecsface.EntityID, x float32) {
	t.Helper()
	ref := ecsface.FieldRef{Component: "Position", Field: "x", Type: registry.F32}
	require.True(t, e.store.Set(id, ref, x))
}

func decodeDelta(t *testing.T, reg *registry.Registry, data []byte) *wire.DeltaMessage {
	t.Helper()
	msg, err := wire.NewDecoder(data, reg).DecodeDelta()
	require.NoError(t, err)
	return msg
}

func TestHandshakeNewClient(t *testing.T) {
	var connected []uint16
	env := newTestEnv(t, func(o *Options) {
		o.Callbacks.OnConnect = func(id uint16) { connected = append(connected, id) }
	})

	clientID, token := env.handshake(t, "c1", 0)

	assert.Equal(t, uint16(1), clientID)
	assert.NotZero(t, token)
	assert.Equal(t, []uint16{1}, connected)
}

func TestHandshakeFirstMessageNotReconnect(t *testing.T) {
	var got [][]byte
	env := newTestEnv(t, func(o *Options) {
		o.Callbacks.OnMessage = func(_ uint16, data []byte) { got = append(got, data) }
	})

	env.tr.open("c1")
	payload := []byte{0x77, 0x01, 0x02}
	env.tr.deliver("c1", payload)

	// A new client was minted and the message was processed normally.
	sent := env.tr.sentTo("c1")
	require.GreaterOrEqual(t, len(sent), 2)
	clientID, _, err := wire.NewDecoder(sent[0], env.reg).DecodeClientID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), clientID)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

// S1 over the orchestrator in broadcast mode: a client connected to an
// empty world gets an empty handshake snapshot, then per-tick deltas for
// the create, the update and the destroy, and nothing at all on a quiet
// tick.
func TestBroadcastTick(t *testing.T) {
	env := newTestEnv(t, nil)

	id := env.spawn(t, 1.5, 2.5)
	env.handshake(t, "c1", 0)

	// The entity had no NetId yet, so the handshake snapshot was empty and
	// the first tick delivers it as a create.
	require.NoError(t, env.srv.Tick())
	sent := env.tr.drain("c1")
	require.Len(t, sent, 1)
	msg := decodeDelta(t, env.reg, sent[0])
	require.Len(t, msg.Created, 1)
	assert.Equal(t, uint32(1), msg.Created[0].NetID)

	env.setX(t, id, 42.5)
	require.NoError(t, env.srv.Tick())
	sent = env.tr.drain("c1")
	require.Len(t, sent, 1)
	msg = decodeDelta(t, env.reg, sent[0])
	require.Len(t, msg.Updated, 1)
	assert.Equal(t, uint32(1), msg.Updated[0].NetID)
	assert.Equal(t, uint16(0b01), msg.Updated[0].Updates[0].FieldMask)
	assert.Equal(t, []any{float32(42.5)}, msg.Updated[0].Updates[0].Values)

	// Quiet tick: nothing on the wire.
	require.NoError(t, env.srv.Tick())
	assert.Empty(t, env.tr.drain("c1"))

	env.store.DestroyEntity(id)
	require.NoError(t, env.srv.Tick())
	sent = env.tr.drain("c1")
	require.Len(t, sent, 1)
	msg = decodeDelta(t, env.reg, sent[0])
	assert.Equal(t, []uint32{1}, msg.Destroyed)
}

// S5: reconnect within the grace window keeps the clientId and rotates the
// token; the rotated-away token is dead.
func TestReconnectWithinGraceWindow(t *testing.T) {
	var reconnected, connectedCount int
	env := newTestEnv(t, func(o *Options) {
		o.Callbacks.OnConnect = func(uint16) { connectedCount++ }
		o.Callbacks.OnReconnect = func(uint16) { reconnected++ }
	})

	clientID, t0 := env.handshake(t, "c1", 0)
	require.Equal(t, 1, connectedCount)

	env.tr.close("c1")

	clientID2, t1 := env.handshake(t, "c2", t0)
	assert.Equal(t, clientID, clientID2, "reconnect must preserve the logical client id")
	assert.NotEqual(t, t0, t1, "token must rotate on reconnect")
	assert.Equal(t, 1, reconnected)
	assert.Equal(t, 1, connectedCount, "onConnect must not fire for a reconnect")

	// The pre-rotation token is no longer honored.
	env.tr.close("c2")
	clientID3, _ := env.handshake(t, "c3", t0)
	assert.NotEqual(t, clientID, clientID3)
	assert.Equal(t, 2, connectedCount)
}

// S3: per-client interest deltas relative to a prior known set of all four
// entities.
func TestFilteredTickInterestDeltas(t *testing.T) {
	filters := map[uint16]map[uint32]struct{}{}
	env := newTestEnv(t, func(o *Options) {
		o.Filter = func(clientID uint16) map[uint32]struct{} { return filters[clientID] }
	})

	a := env.spawn(t, 1, 0)
	env.spawn(t, 2, 0)
	c := env.spawn(t, 3, 0)
	env.spawn(t, 4, 0)

	// Assign NetIds 1..4 before any client connects.
	interestAll := map[uint32]struct{}{1: {}, 2: {}, 3: {}, 4: {}}
	filters[1], filters[2], filters[3] = interestAll, interestAll, interestAll
	require.NoError(t, env.srv.Tick())

	env.handshake(t, "c1", 0)
	env.handshake(t, "c2", 0)
	env.handshake(t, "c3", 0)

	filters[1] = map[uint32]struct{}{1: {}, 2: {}}
	filters[2] = map[uint32]struct{}{3: {}, 4: {}}
	filters[3] = map[uint32]struct{}{2: {}, 3: {}}

	env.setX(t, a, 10)
	env.setX(t, c, 30)
	require.NoError(t, env.srv.Tick())

	d1 := decodeDelta(t, env.reg, env.tr.drain("c1")[0])
	assert.Equal(t, []uint32{1}, updatedNetIDs(d1))
	assert.ElementsMatch(t, []uint32{3, 4}, d1.Destroyed)

	d2 := decodeDelta(t, env.reg, env.tr.drain("c2")[0])
	assert.Equal(t, []uint32{3}, updatedNetIDs(d2))
	assert.ElementsMatch(t, []uint32{1, 2}, d2.Destroyed)

	d3 := decodeDelta(t, env.reg, env.tr.drain("c3")[0])
	assert.Equal(t, []uint32{3}, updatedNetIDs(d3))
	assert.ElementsMatch(t, []uint32{1, 4}, d3.Destroyed)
}

// S4: clients with identical deltas share one byte-identical buffer.
func TestFilteredTickDedup(t *testing.T) {
	interest := map[uint32]struct{}{1: {}}
	env := newTestEnv(t, func(o *Options) {
		o.Filter = func(uint16) map[uint32]struct{} { return interest }
	})

	id := env.spawn(t, 1, 1)
	require.NoError(t, env.srv.Tick())

	env.handshake(t, "c1", 0)
	env.handshake(t, "c2", 0)
	env.handshake(t, "c3", 0)

	env.setX(t, id, 99)
	require.NoError(t, env.srv.Tick())

	b1 := env.tr.drain("c1")
	b2 := env.tr.drain("c2")
	b3 := env.tr.drain("c3")
	require.Len(t, b1, 1)
	require.Len(t, b2, 1)
	require.Len(t, b3, 1)
	assert.True(t, bytes.Equal(b1[0], b2[0]))
	assert.True(t, bytes.Equal(b1[0], b3[0]))
}

// A view-enter of an already-existing entity carries full component state.
func TestFilteredTickViewEnterCarriesFullState(t *testing.T) {
	interest := map[uint32]struct{}{}
	env := newTestEnv(t, func(o *Options) {
		o.Filter = func(uint16) map[uint32]struct{} { return interest }
	})

	env.spawn(t, 7, 8)
	require.NoError(t, env.srv.Tick())

	env.handshake(t, "c1", 0)

	// The client starts knowing the entity (it was in the snapshot), so
	// first make it leave, then re-enter.
	require.NoError(t, env.srv.Tick())
	leave := decodeDelta(t, env.reg, env.tr.drain("c1")[0])
	assert.Equal(t, []uint32{1}, leave.Destroyed)

	interest[1] = struct{}{}
	require.NoError(t, env.srv.Tick())
	enter := decodeDelta(t, env.reg, env.tr.drain("c1")[0])
	require.Len(t, enter.Created, 1)
	assert.Equal(t, uint32(1), enter.Created[0].NetID)
	require.Len(t, enter.Created[0].Components, 1)
	assert.Equal(t, []any{float32(7), float32(8)}, enter.Created[0].Components[0].Fields)
}

func TestFilteredTickEmptyDeltaSendsNothing(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Filter = func(uint16) map[uint32]struct{} { return nil }
	})

	env.spawn(t, 1, 1)
	require.NoError(t, env.srv.Tick())
	env.handshake(t, "c1", 0)

	// Known set is seeded from the snapshot; with an empty interest the
	// first tick is a leave, after that every tick is empty.
	require.NoError(t, env.srv.Tick())
	env.tr.drain("c1")

	require.NoError(t, env.srv.Tick())
	assert.Empty(t, env.tr.drain("c1"))
}

func TestRequestFullResendsSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	env.spawn(t, 5, 6)
	require.NoError(t, env.srv.Tick())

	env.handshake(t, "c1", 0)
	env.tr.drain("c1")

	env.tr.deliver("c1", []byte{wire.MsgRequestFull})

	sent := env.tr.drain("c1")
	require.Len(t, sent, 1)
	full, err := wire.NewDecoder(sent[0], env.reg).DecodeFull()
	require.NoError(t, err)
	require.Len(t, full.Entities, 1)
	assert.Equal(t, uint32(1), full.Entities[0].NetID)
}

func TestStopClearsSessions(t *testing.T) {
	env := newTestEnv(t, nil)

	env.handshake(t, "c1", 0)
	require.NoError(t, env.srv.Stop(context.Background()))

	assert.Empty(t, env.srv.sessions.ActiveClientIDs())
}

func updatedNetIDs(msg *wire.DeltaMessage) []uint32 {
	out := make([]uint32, 0, len(msg.Updated))
	for _, u := range msg.Updated {
		out = append(out, u.NetID)
	}
	return out
}
