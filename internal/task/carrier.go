package task

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// carrier adapts a Task to the propagation.TextMapCarrier interface so the
// globally registered propagator (W3C TraceContext + Baggage, see
// telemetry.SetupTracer) can read and write the trace headers straight from
// the envelope fields.
type carrier struct {
	t *Task
}

var _ propagation.TextMapCarrier = carrier{}

func (c carrier) Get(key string) string {
	switch key {
	case "traceparent":
		return c.t.TraceParent
	case "tracestate":
		return c.t.TraceState
	}
	return ""
}

func (c carrier) Set(key, value string) {
	switch key {
	case "traceparent":
		c.t.TraceParent = value
	case "tracestate":
		c.t.TraceState = value
	}
}

func (c carrier) Keys() []string {
	keys := make([]string, 0, 2)
	if c.t.TraceParent != "" {
		keys = append(keys, "traceparent")
	}
	if c.t.TraceState != "" {
		keys = append(keys, "tracestate")
	}
	return keys
}

// ExtractTraceContext parents ctx on the trace carried by the envelope.
// A missing or malformed traceparent is not an error: the propagator simply
// leaves ctx untouched and spans started from it become trace roots.
func ExtractTraceContext(ctx context.Context, t *Task) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier{t: t})
}

// InjectTraceContext writes the live trace context from ctx into the
// envelope, replacing whatever token it carried, so the next stage continues
// the same trace.
func InjectTraceContext(ctx context.Context, t *Task) {
	otel.GetTextMapPropagator().Inject(ctx, carrier{t: t})
}
