package netserver

import (
	"errors"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/protoerr"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/transport"
	"github.com/marmos91/archnet/pkg/wire"
)

// Rejection reason labels for the ingress metrics counter.
const (
	rejectUnknownEntity  = "unknown_entity"
	rejectNotClientOwned = "not_client_owned"
	rejectOwnership      = "ownership"
	rejectValidator      = "validator"
)

// handleClientDelta decodes and applies one MSG_CLIENT_DELTA. Decode
// failures are fatal for the connection; individual entries that fail
// ownership or validation are dropped silently and the rest of the message
// still applies.
func (s *Server) handleClientDelta(clientID uint16, id transport.ConnID, data []byte) {
	dec := wire.NewDecoder(data, s.reg)
	msg, err := dec.DecodeClientDelta()
	if err != nil {
		var perr *protoerr.Error
		if errors.As(err, &perr) && perr.Kind == protoerr.KindProtocol {
			logger.Warn("malformed client delta, closing connection",
				"client_id", clientID, "error", err)
			s.closeConn(id)
			return
		}
		logger.Warn("client delta decode failed", "client_id", clientID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, upd := range msg.Updated {
		s.applyUpdate(clientID, upd)
	}
	for _, att := range msg.Attached {
		s.applyAttach(clientID, att)
	}
	for _, det := range msg.Detached {
		s.applyDetach(clientID, det)
	}
}

func (s *Server) applyUpdate(clientID uint16, upd wire.EntityUpdate) {
	entityID, ok := s.d.NetIDToEntity(upd.NetID)
	if !ok {
		s.reject(clientID, upd.NetID, rejectUnknownEntity)
		return
	}
	if !s.ownsEntity(clientID, entityID) {
		s.reject(clientID, upd.NetID, rejectOwnership)
		return
	}

	for _, fd := range upd.Updates {
		comp, err := s.reg.ByWireID(fd.WireID)
		if err != nil {
			s.reject(clientID, upd.NetID, rejectNotClientOwned)
			continue
		}
		if !comp.ClientOwned {
			s.reject(clientID, upd.NetID, rejectNotClientOwned)
			continue
		}

		merged := s.mergeFields(entityID, comp, fd)
		if v, ok := s.validators[fd.WireID]; ok && v.Delta != nil {
			if !v.Delta(clientID, upd.NetID, merged) {
				s.reject(clientID, upd.NetID, rejectValidator)
				continue
			}
		}

		vi := 0
		for i, f := range comp.Fields {
			if fd.FieldMask&(1<<uint(i)) == 0 {
				continue
			}
			ref := ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
			s.ecs.Set(entityID, ref, fd.Values[vi])
			vi++
		}
	}
}

func (s *Server) applyAttach(clientID uint16, att wire.EntityFull) {
	entityID, ok := s.d.NetIDToEntity(att.NetID)
	if !ok {
		s.reject(clientID, att.NetID, rejectUnknownEntity)
		return
	}
	if !s.ownsEntity(clientID, entityID) {
		s.reject(clientID, att.NetID, rejectOwnership)
		return
	}

	for _, cv := range att.Components {
		comp, err := s.reg.ByWireID(cv.WireID)
		if err != nil || !comp.ClientOwned {
			s.reject(clientID, att.NetID, rejectNotClientOwned)
			continue
		}

		fields := make(map[string]any, len(comp.Fields))
		for i, f := range comp.Fields {
			if i < len(cv.Fields) {
				fields[f.Name] = cv.Fields[i]
			}
		}

		if v, ok := s.validators[cv.WireID]; ok && v.Attach != nil {
			if !v.Attach(clientID, att.NetID, fields) {
				s.reject(clientID, att.NetID, rejectValidator)
				continue
			}
		}

		s.ecs.AddComponent(entityID, comp.Name, fields)
	}
}

func (s *Server) applyDetach(clientID uint16, det wire.EntityDetach) {
	entityID, ok := s.d.NetIDToEntity(det.NetID)
	if !ok {
		s.reject(clientID, det.NetID, rejectUnknownEntity)
		return
	}
	if !s.ownsEntity(clientID, entityID) {
		s.reject(clientID, det.NetID, rejectOwnership)
		return
	}

	for _, wid := range det.WireIDs {
		comp, err := s.reg.ByWireID(wid)
		if err != nil || !comp.ClientOwned {
			s.reject(clientID, det.NetID, rejectNotClientOwned)
			continue
		}

		if v, ok := s.validators[wid]; ok && v.Detach != nil {
			if !v.Detach(clientID, det.NetID) {
				s.reject(clientID, det.NetID, rejectValidator)
				continue
			}
		}

		s.ecs.RemoveComponent(entityID, comp.Name)
	}
}

// mergeFields builds a complete component record: dirty fields from the
// incoming delta, everything else from current state. Validators only ever
// see this merged view.
func (s *Server) mergeFields(entityID ecsface.EntityID, comp registry.Component, fd wire.FieldDelta) map[string]any {
	merged := make(map[string]any, len(comp.Fields))
	vi := 0
	for i, f := range comp.Fields {
		if fd.FieldMask&(1<<uint(i)) != 0 {
			merged[f.Name] = fd.Values[vi]
			vi++
			continue
		}
		ref := ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
		if v, ok := s.ecs.Get(entityID, ref); ok {
			merged[f.Name] = v
		}
	}
	return merged
}

// ownsEntity enforces the configured ownership rule: the owner component's
// client id field must equal the sending client. With no owner component
// configured every Active client passes.
func (s *Server) ownsEntity(clientID uint16, entityID ecsface.EntityID) bool {
	if s.ownerRef == nil {
		return true
	}
	v, ok := s.ecs.Get(entityID, *s.ownerRef)
	if !ok {
		return false
	}
	owner, ok := asClientID(v)
	return ok && owner == clientID
}

// asClientID widens the owner field's scalar to a comparable client id.
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

func (s *Server) reject(clientID uint16, netID uint32, reason string) {
	logger.Debug("client delta entry rejected",
		"client_id", clientID, "net_id", netID, "reason", reason)
	s.m.ObserveClientDeltaRejection(reason)
}
