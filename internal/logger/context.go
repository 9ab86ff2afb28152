package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context.
var logContextKey = contextKey{}

// LogContext holds tick/connection-scoped logging context. It is threaded
// through the server and client loops via context.Context so that every
// log line emitted while handling a given tick or message carries the same
// correlating fields without every call site repeating them.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	Tick      uint64 // Server tick counter
	ClientID  uint16 // Logical ClientId, 0 if not yet assigned
	ConnID    string // Transport connection id
	MsgType   string // Wire message type being processed
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a transport connection.
func NewLogContext(connID string) *LogContext {
	return &LogContext{
		ConnID:    connID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Tick:      lc.Tick,
		ClientID:  lc.ClientID,
		ConnID:    lc.ConnID,
		MsgType:   lc.MsgType,
		StartTime: lc.StartTime,
	}
}

// WithTick returns a copy with the tick counter set.
func (lc *LogContext) WithTick(tick uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Tick = tick
	}
	return clone
}

// WithClientID returns a copy with the logical client id set.
func (lc *LogContext) WithClientID(id uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ClientID = id
	}
	return clone
}

// WithMsgType returns a copy with the message type set.
func (lc *LogContext) WithMsgType(msgType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MsgType = msgType
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
