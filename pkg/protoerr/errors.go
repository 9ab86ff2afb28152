// Package protoerr defines the error taxonomy shared by the wire codec,
// registry, session and server/client packages.
//
// Three kinds map onto the protocol's failure policy: ProtocolError is
// fatal and connection-ending, ValidationReject is a silent per-entry
// drop, and TransportError triggers the server's grace window or the
// client's onDisconnected callback. ConfigurationError reuses the same
// Code family but is raised at construction time, never mid-tick.
package protoerr

import "fmt"

// Kind classifies an Error for dispatch by callers that need to decide
// whether to close a connection, drop an entry, or start a grace timer.
type Kind int

const (
	KindProtocol Kind = iota
	KindValidationReject
	KindTransport
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidationReject:
		return "validation_reject"
	case KindTransport:
		return "transport"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Code enumerates the specific failure reasons defined by the protocol.
type Code int

const (
	CodeUnknownMessageType Code = iota
	CodeRegistryHashMismatch
	CodeUnknownWireID
	CodeBitmaskOverflow
	CodeTruncatedVarint
	CodeTruncatedPayload
	CodeTooManyComponents
	CodeTooManyFields
	CodeNonSequentialWireID
	CodeDuplicateComponentName
	CodeUnknownClient
	CodeInvalidReconnectToken
	CodeOwnershipViolation
	CodeValidationFailed
	CodeTransportClosed
	CodeGraceWindowExpired
)

func (c Code) String() string {
	switch c {
	case CodeUnknownMessageType:
		return "unknown_message_type"
	case CodeRegistryHashMismatch:
		return "registry_hash_mismatch"
	case CodeUnknownWireID:
		return "unknown_wire_id"
	case CodeBitmaskOverflow:
		return "bitmask_overflow"
	case CodeTruncatedVarint:
		return "truncated_varint"
	case CodeTruncatedPayload:
		return "truncated_payload"
	case CodeTooManyComponents:
		return "too_many_components"
	case CodeTooManyFields:
		return "too_many_fields"
	case CodeNonSequentialWireID:
		return "non_sequential_wire_id"
	case CodeDuplicateComponentName:
		return "duplicate_component_name"
	case CodeUnknownClient:
		return "unknown_client"
	case CodeInvalidReconnectToken:
		return "invalid_reconnect_token"
	case CodeOwnershipViolation:
		return "ownership_violation"
	case CodeValidationFailed:
		return "validation_failed"
	case CodeTransportClosed:
		return "transport_closed"
	case CodeGraceWindowExpired:
		return "grace_window_expired"
	default:
		return "unknown"
	}
}

// Error is the single concrete error type used across the module. Call
// sites construct it through the New*Error factory functions below rather
// than populating it directly, so that each failure carries a stable Kind
// and Code pair callers can switch on.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Fields)
}

func newErr(kind Kind, code Code, msg string, fields map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Fields: fields}
}

// ---- ProtocolError factories (fatal, connection-ending) ----

func NewUnknownMessageTypeError(got byte) *Error {
	return newErr(KindProtocol, CodeUnknownMessageType, "unrecognized message type byte",
		map[string]any{"type": got})
}

func NewRegistryHashMismatchError(want, got uint32) *Error {
	return newErr(KindProtocol, CodeRegistryHashMismatch, "registry fingerprint mismatch",
		map[string]any{"want": want, "got": got})
}

func NewUnknownWireIDError(id uint8) *Error {
	return newErr(KindProtocol, CodeUnknownWireID, "wire id not present in registry",
		map[string]any{"wire_id": id})
}

func NewBitmaskOverflowError(wireID uint8, bits, fieldCount int) *Error {
	return newErr(KindProtocol, CodeBitmaskOverflow, "field bitmask sets bits beyond declared field count",
		map[string]any{"wire_id": wireID, "bits": bits, "field_count": fieldCount})
}

func NewTruncatedVarintError() *Error {
	return newErr(KindProtocol, CodeTruncatedVarint, "varint exceeds 5 bytes or buffer ended", nil)
}

func NewTruncatedPayloadError(need, have int) *Error {
	return newErr(KindProtocol, CodeTruncatedPayload, "buffer shorter than declared payload",
		map[string]any{"need": need, "have": have})
}

// ---- ValidationReject factories (silent per-entry drop) ----

func NewValidationFailedError(component string, reason string) *Error {
	return newErr(KindValidationReject, CodeValidationFailed, reason,
		map[string]any{"component": component})
}

func NewOwnershipViolationError(netID uint32, component string) *Error {
	return newErr(KindValidationReject, CodeOwnershipViolation, "client does not own this component",
		map[string]any{"net_id": netID, "component": component})
}

// ---- TransportError factories (grace-window trigger / onDisconnected) ----

func NewTransportClosedError(connID string, cause error) *Error {
	f := map[string]any{"conn_id": connID}
	if cause != nil {
		f["cause"] = cause.Error()
	}
	return newErr(KindTransport, CodeTransportClosed, "transport connection closed", f)
}

func NewGraceWindowExpiredError(clientID uint16) *Error {
	return newErr(KindTransport, CodeGraceWindowExpired, "grace window expired before reconnect",
		map[string]any{"client_id": clientID})
}

func NewInvalidReconnectTokenError(token uint32) *Error {
	return newErr(KindTransport, CodeInvalidReconnectToken, "reconnect token unknown or expired",
		map[string]any{"token": token})
}

func NewUnknownClientError(clientID uint16) *Error {
	return newErr(KindTransport, CodeUnknownClient, "logical client id not recognized",
		map[string]any{"client_id": clientID})
}

// ---- ConfigurationError factories (fatal at construction time) ----

func NewTooManyComponentsError(count int) *Error {
	return newErr(KindConfiguration, CodeTooManyComponents, "registry exceeds wire id space",
		map[string]any{"count": count, "max": 255})
}

func NewTooManyFieldsError(component string, count int) *Error {
	return newErr(KindConfiguration, CodeTooManyFields, "component exceeds max field count",
		map[string]any{"component": component, "count": count, "max": 16})
}

func NewNonSequentialWireIDError(got, want int) *Error {
	return newErr(KindConfiguration, CodeNonSequentialWireID, "wire ids must be assigned sequentially",
		map[string]any{"got": got, "want": want})
}

func NewDuplicateComponentNameError(name string) *Error {
	return newErr(KindConfiguration, CodeDuplicateComponentName, "component name already registered",
		map[string]any{"component": name})
}
