package differ

import (
	"testing"

	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/ecsmem"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const networkedTag = "Networked"

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
			Name: "Health",
			Fields: []registry.FieldSchema{
				{Name: "current", Type: registry.U16},
				{Name: "max", Type: registry.U16},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

// S1: create -> update -> destroy.
func TestDifferCreateUpdateDestroy(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	id := store.CreateEntity(ecsface.EntityInit{
		Tag: networkedTag,
		Components: []ecsface.ComponentInit{
			{Name: "Position", Fields: map[string]any{"x": float32(1.5), "y": float32(2.5)}},
		},
	})

	cs := d.ComputeChangeset()
	require.Len(t, cs.Created, 1)
	assert.Equal(t, uint32(1), cs.Created[0].NetID)
	assert.Equal(t, []wire.ComponentValue{{WireID: 0, Fields: []any{float32(1.5), float32(2.5)}}}, cs.Created[0].Components)
	d.FlushSnapshots()

	ref := ecsface.FieldRef{Component: "Position", Field: "x", Type: registry.F32}
	require.True(t, store.Set(id, ref, float32(42.5)))

	cs = d.ComputeChangeset()
	require.Len(t, cs.Dirty, 1)
	assert.Equal(t, uint32(1), cs.Dirty[0].NetID)
	require.Len(t, cs.Dirty[0].Updates, 1)
	assert.Equal(t, uint8(0), cs.Dirty[0].Updates[0].WireID)
	assert.Equal(t, uint16(0b01), cs.Dirty[0].Updates[0].FieldMask)
	assert.Equal(t, []any{float32(42.5)}, cs.Dirty[0].Updates[0].Values)
	d.FlushSnapshots()

	store.DestroyEntity(id)
	cs = d.ComputeChangeset()
	assert.Equal(t, []uint32{1}, cs.Destroyed)
	d.FlushSnapshots()
}

// S2: a temp entity that never goes networked must not consume a NetId.
func TestDifferNetIDGapIgnoresNonNetworkedEntities(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	tmp := store.CreateEntity(ecsface.EntityInit{})
	store.DestroyEntity(tmp)

	real := store.CreateEntity(ecsface.EntityInit{Tag: networkedTag})

	cs := d.ComputeChangeset()
	require.Len(t, cs.Created, 1)
	assert.Equal(t, uint32(1), cs.Created[0].NetID)

	netID, ok := d.EntityNetID(real)
	require.True(t, ok)
	assert.Equal(t, uint32(1), netID)
}

// Multiple entities sharing one archetype must stay index-aligned with the
// snapshot across a flush, or the swap-remove guard would suppress their
// field diffs.
func TestDifferFieldDiffWithSharedArchetype(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	ids := make([]ecsface.EntityID, 4)
	for i := range ids {
		ids[i] = store.CreateEntity(ecsface.EntityInit{
			Tag: networkedTag,
			Components: []ecsface.ComponentInit{
				{Name: "Position", Fields: map[string]any{"x": float32(i), "y": float32(0)}},
			},
		})
	}
	d.ComputeChangeset()
	d.FlushSnapshots()

	ref := ecsface.FieldRef{Component: "Position", Field: "x", Type: registry.F32}
	require.True(t, store.Set(ids[2], ref, float32(99)))

	cs := d.ComputeChangeset()
	require.Len(t, cs.Dirty, 1)
	netID, ok := d.EntityNetID(ids[2])
	require.True(t, ok)
	assert.Equal(t, netID, cs.Dirty[0].NetID)
	require.Len(t, cs.Dirty[0].Updates, 1)
	assert.Equal(t, uint16(0b01), cs.Dirty[0].Updates[0].FieldMask)
	assert.Equal(t, []any{float32(99)}, cs.Dirty[0].Updates[0].Values)
	assert.Empty(t, cs.Created)
	assert.Empty(t, cs.Destroyed)
	d.FlushSnapshots()

	// And the other residents stay quiet on the next tick.
	cs = d.ComputeChangeset()
	assert.True(t, cs.IsEmpty())
}

func TestDifferDeltaMinimalityWhenNothingChanged(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	store.CreateEntity(ecsface.EntityInit{
		Tag:        networkedTag,
		Components: []ecsface.ComponentInit{{Name: "Position", Fields: map[string]any{"x": float32(0), "y": float32(0)}}},
	})
	d.ComputeChangeset()
	d.FlushSnapshots()

	cs := d.ComputeChangeset()
	assert.True(t, cs.IsEmpty())
}

// S7: attaching a component mid-life produces an Attached entry, not a
// duplicate Created entry. The attach moves the entity to a wider
// archetype, so its previously-present Position is retransmitted as a
// synthetic full-mask dirty entry: the back buffer for the new archetype
// has no valid prior row for it.
func TestDifferAttachMidLife(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	id := store.CreateEntity(ecsface.EntityInit{
		Tag:        networkedTag,
		Components: []ecsface.ComponentInit{{Name: "Position", Fields: map[string]any{"x": float32(1), "y": float32(1)}}},
	})
	d.ComputeChangeset()
	d.FlushSnapshots()

	require.True(t, store.AddComponent(id, "Health", map[string]any{"current": uint16(10), "max": uint16(10)}))

	cs := d.ComputeChangeset()
	assert.Empty(t, cs.Created)
	require.Len(t, cs.Attached, 1)
	netID, _ := d.EntityNetID(id)
	assert.Equal(t, netID, cs.Attached[0].NetID)
	require.Len(t, cs.Attached[0].Components, 1)
	assert.Equal(t, uint8(1), cs.Attached[0].Components[0].WireID)

	// Position survived the move; it is retransmitted as a synthetic full
	// dirty entry because its old back buffer is now stale.
	require.Len(t, cs.Dirty, 1)
	assert.Equal(t, netID, cs.Dirty[0].NetID)
	assert.Equal(t, uint16(0b11), cs.Dirty[0].Updates[0].FieldMask)
}

func TestDifferDetachMidLife(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)

	id := store.CreateEntity(ecsface.EntityInit{
		Tag: networkedTag,
		Components: []ecsface.ComponentInit{
			{Name: "Position", Fields: map[string]any{"x": float32(1), "y": float32(1)}},
			{Name: "Health", Fields: map[string]any{"current": uint16(5), "max": uint16(10)}},
		},
	})
	d.ComputeChangeset()
	d.FlushSnapshots()

	require.True(t, store.RemoveComponent(id, "Health"))

	cs := d.ComputeChangeset()
	require.Len(t, cs.Detached, 1)
	netID, _ := d.EntityNetID(id)
	assert.Equal(t, netID, cs.Detached[0].NetID)
	assert.Equal(t, []uint8{1}, cs.Detached[0].WireIDs)
}

func TestDifferDiffAndEncodeRoundTrips(t *testing.T) {
	store := ecsmem.New()
	reg := testRegistry(t)
	d := New(store, reg, networkedTag)
	enc := wire.NewEncoder(reg)

	store.CreateEntity(ecsface.EntityInit{
		Tag:        networkedTag,
		Components: []ecsface.ComponentInit{{Name: "Position", Fields: map[string]any{"x": float32(3), "y": float32(4)}}},
	})

	buf, err := d.DiffAndEncode(enc)
	require.NoError(t, err)

	dec := wire.NewDecoder(buf, reg)
	msg, err := dec.DecodeDelta()
	require.NoError(t, err)
	require.Len(t, msg.Created, 1)
	assert.Equal(t, uint32(1), msg.Created[0].NetID)
}
