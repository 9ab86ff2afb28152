package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are protocol-agnostic at the transport layer but specific to
// the netcode domain (ticks, clients, deltas) rather than to any one game.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Tick / Message
	// ========================================================================
	KeyTick      = "tick"       // Server tick counter
	KeyMsgType   = "msg_type"   // Wire message type (full, delta, client_delta, ...)
	KeyDirection = "direction"  // in or out
	KeyByteLen   = "byte_len"   // Encoded message length in bytes

	// ========================================================================
	// Client / Session Identification
	// ========================================================================
	KeyClientID  = "client_id"  // Logical ClientId (survives reconnects)
	KeyConnID    = "conn_id"    // Transport connection id
	KeyNetID     = "net_id"     // Entity NetId
	KeyToken     = "token"      // Reconnect token
	KeySessState = "session_state"

	// ========================================================================
	// Registry / Component
	// ========================================================================
	KeyComponent   = "component"    // Component name
	KeyWireID      = "wire_id"      // Wire id (0..254)
	KeyFieldCount  = "field_count"  // Declared field count for a component
	KeyRegistryFP  = "registry_fp"  // Registry fingerprint (FNV-1a hash)

	// ========================================================================
	// Changeset / Delta
	// ========================================================================
	KeyCreated   = "created"
	KeyDestroyed = "destroyed"
	KeyDirty     = "dirty"
	KeyAttached  = "attached"
	KeyDetached  = "detached"
	KeyGroupSize = "group_size" // Number of clients sharing a dedup group

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
)

// ClientID returns a slog.Attr for the logical client id.
func ClientID(id uint16) slog.Attr {
	return slog.Any(KeyClientID, id)
}

// ConnID returns a slog.Attr for the transport connection id.
func ConnID(id string) slog.Attr {
	return slog.String(KeyConnID, id)
}

// NetID returns a slog.Attr for an entity NetId.
func NetID(id uint32) slog.Attr {
	return slog.Any(KeyNetID, id)
}

// Tick returns a slog.Attr for the server tick counter.
func Tick(n uint64) slog.Attr {
	return slog.Uint64(KeyTick, n)
}

// MsgType returns a slog.Attr for the wire message type name.
func MsgType(t string) slog.Attr {
	return slog.String(KeyMsgType, t)
}

// ByteLen returns a slog.Attr for an encoded message length.
func ByteLen(n int) slog.Attr {
	return slog.Int(KeyByteLen, n)
}

// Component returns a slog.Attr for a component name.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// WireID returns a slog.Attr for a wire id.
func WireID(id uint8) slog.Attr {
	return slog.Any(KeyWireID, id)
}

// RegistryFingerprint returns a slog.Attr for the registry hash.
func RegistryFingerprint(fp uint32) slog.Attr {
	return slog.Any(KeyRegistryFP, fp)
}

// GroupSize returns a slog.Attr for a dedup group's client count.
func GroupSize(n int) slog.Attr {
	return slog.Int(KeyGroupSize, n)
}

// SessionState returns a slog.Attr for a handshake session state name.
func SessionState(state string) slog.Attr {
	return slog.String(KeySessState, state)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}
