package server

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qemuweb/sidecar/pkg/protocol"
)

// tracerName is the instrumentation name for sidecar spans.
const tracerName = "sidecar"

// newTracer resolves the tracer from the global provider. With no provider
// installed this is a no-op tracer, so tracing costs nothing unless the
// embedding process configures OpenTelemetry.
func newTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// traceMessageAttrs builds the span start options for one dispatched
// control message.
func traceMessageAttrs(sessionID uint64, msgType protocol.Type) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.Int64("sidecar.session_id", int64(sessionID)),
			attribute.String("sidecar.message_type", string(msgType)),
		),
	}
}
