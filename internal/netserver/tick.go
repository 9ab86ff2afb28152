package netserver

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/archnet/internal/differ"
	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/internal/metrics"
	"github.com/marmos91/archnet/pkg/protosession"
	"github.com/marmos91/archnet/pkg/transport"
)

// emptyDeltaLen is the size of a MSG_DELTA carrying nothing: the type byte
// plus five u16 section counts.
const emptyDeltaLen = 11

// Tick runs one server tick: diff the world, compute per-client deltas,
// dedup, encode and dispatch. The host calls it once per simulation step,
// after game logic has mutated the ECS.
func (s *Server) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	start := time.Now()

	if s.filter == nil {
		return s.tickBroadcast(start)
	}
	return s.tickFiltered(start)
}

// tickBroadcast is the no-filter mode: one MSG_DELTA shared verbatim by
// every active client.
func (s *Server) tickBroadcast(start time.Time) error {
	buf, err := s.d.DiffAndEncode(s.enc)
	if err != nil {
		return err
	}

	active := s.activeSends()
	if len(active) == 0 || len(buf) <= emptyDeltaLen {
		s.m.ObserveTick(metrics.ModeBroadcast, time.Since(start), 0)
		return nil
	}

	for _, connID := range active {
		if err := s.tr.Send(connID, buf); err != nil {
			logger.Warn("delta send failed", "conn_id", string(connID), "error", err)
		}
	}

	s.m.ObserveTick(metrics.ModeBroadcast, time.Since(start), len(buf)*len(active))
	return nil
}

// deltaGroup is one equivalence class of clients whose deltas this tick are
// identical, sharing a single encoded buffer.
type deltaGroup struct {
	delta differ.ClientDelta
	conns []transport.ConnID
}

// tickFiltered is the per-client interest mode: compute each client's
// delta, group clients by canonical delta key, pre-encode every referenced
// entity once, and compose one buffer per group.
func (s *Server) tickFiltered(start time.Time) error {
	cs := s.d.ComputeChangeset()

	clientIDs := s.sessions.ActiveClientIDs()
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i] < clientIDs[j] })

	groups := make(map[string]*deltaGroup)
	var order []string
	var extraEnters []uint32
	extraSeen := make(map[uint32]struct{})

	for _, clientID := range clientIDs {
		view, ok := s.views[clientID]
		if !ok {
			continue
		}
		sess, ok := s.sessions.Get(clientID)
		if !ok || sess.State() != protosession.Active {
			continue
		}

		delta := view.Update(s.filter(clientID), cs)
		if delta.IsEmpty() {
			continue
		}
		sortDelta(delta)

		// View-enters of already-existing entities need full state
		// pre-encoded; created entities are pre-encoded anyway.
		for _, n := range delta.Enters {
			if _, created := cs.CreatedSet[n]; created {
				continue
			}
			if _, seen := extraSeen[n]; seen {
				continue
			}
			extraSeen[n] = struct{}{}
			extraEnters = append(extraEnters, n)
		}

		key := canonicalKey(delta)
		g, ok := groups[key]
		if !ok {
			g = &deltaGroup{delta: copyDelta(delta)}
			groups[key] = g
			order = append(order, key)
		}
		g.conns = append(g.conns, transport.ConnID(sess.ConnID()))
	}

	if len(order) == 0 {
		s.d.FlushSnapshots()
		s.m.ObserveTick(metrics.ModeFiltered, time.Since(start), 0)
		return nil
	}

	cache, err := s.d.PreEncodeChangeset(s.enc, cs, extraEnters)
	if err != nil {
		return err
	}

	bytesOut := 0
	groupSizes := make([]int, 0, len(order))
	for _, key := range order {
		g := groups[key]
		// The composed buffer aliases the encoder; copy it once per group
		// and share that copy across the group's members.
		buf := cloneBytes(s.d.ComposeFromCache(s.enc, cache, &g.delta))
		for _, connID := range g.conns {
			if err := s.tr.Send(connID, buf); err != nil {
				logger.Warn("delta send failed", "conn_id", string(connID), "error", err)
			}
		}
		bytesOut += len(buf) * len(g.conns)
		groupSizes = append(groupSizes, len(g.conns))
	}

	s.d.FlushSnapshots()

	s.m.ObserveDedup(groupSizes)
	s.m.ObserveTick(metrics.ModeFiltered, time.Since(start), bytesOut)
	return nil
}

// activeSends returns the transport connection of every Active session.
func (s *Server) activeSends() []transport.ConnID {
	ids := s.sessions.ActiveClientIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]transport.ConnID, 0, len(ids))
	for _, clientID := range ids {
		if sess, ok := s.sessions.Get(clientID); ok && sess.State() == protosession.Active {
			out = append(out, transport.ConnID(sess.ConnID()))
		}
	}
	return out
}

// sortDelta orders each transition list ascending so two clients with the
// same set membership produce the same canonical key and, downstream,
// byte-identical composed buffers.
func sortDelta(d *differ.ClientDelta) {
	sortNetIDs(d.Enters)
	sortNetIDs(d.Leaves)
	sortNetIDs(d.Updates)
	sortNetIDs(d.Attached)
	sortNetIDs(d.Detached)
}

func sortNetIDs(ids []uint32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// canonicalKey renders a sorted delta as a stable grouping key.
func canonicalKey(d *differ.ClientDelta) string {
	var b strings.Builder
	writeSection := func(prefix byte, ids []uint32) {
		b.WriteByte(prefix)
		for i, id := range ids {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatUint(uint64(id), 10))
		}
		b.WriteByte(';')
	}
	writeSection('e', d.Enters)
	writeSection('l', d.Leaves)
	writeSection('u', d.Updates)
	writeSection('a', d.Attached)
	writeSection('d', d.Detached)
	return b.String()
}

// copyDelta snapshots a view's scratch-backed delta so it survives the next
// client's Update call.
func copyDelta(d *differ.ClientDelta) differ.ClientDelta {
	return differ.ClientDelta{
		Enters:   append([]uint32(nil), d.Enters...),
		Leaves:   append([]uint32(nil), d.Leaves...),
		Updates:  append([]uint32(nil), d.Updates...),
		Attached: append([]uint32(nil), d.Attached...),
		Detached: append([]uint32(nil), d.Detached...),
	}
}
