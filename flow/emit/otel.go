package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span:
//   - Span name: event.Msg (e.g., "decision", "stage_resolved")
//   - Attributes: runID, stage, target, action, and all event.Meta fields
//   - Status: error, when event.Meta["error"] is set
//
// Planning events are points in time rather than durations, so spans are
// ended immediately.
//
// Example:
//
//	tracer := otel.Tracer("stageflow-go")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using the given tracer, typically
// obtained from otel.Tracer("service-name").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg, startOptions(event)...)
	defer span.End()

	o.addAttributes(span, event)

	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// EmitBatch creates spans for several events under one context, letting the
// batch span processor export them together.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg, startOptions(event)...)
		o.addAttributes(span, event)
		if errMsg, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, errMsg)
			span.RecordError(fmt.Errorf("%s", errMsg))
		}
		span.End()
	}
}

// Flush forces export of pending spans when the tracer comes from an SDK
// tracer provider. Call it before shutdown.
func (o *OTelEmitter) Flush(ctx context.Context, provider *sdktrace.TracerProvider) error {
	if provider == nil {
		return nil
	}
	if err := provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush spans: %w", err)
	}
	return nil
}

// startOptions carries the event's emission time onto the span when set.
func startOptions(event Event) []trace.SpanStartOption {
	if event.Time.IsZero() {
		return nil
	}
	return []trace.SpanStartOption{trace.WithTimestamp(event.Time)}
}

func (o *OTelEmitter) addAttributes(span trace.Span, event Event) {
	span.SetAttributes(attribute.String("run_id", event.RunID))
	if event.Stage != "" {
		span.SetAttributes(attribute.String("stage", event.Stage))
	}
	if event.Target != "" {
		span.SetAttributes(attribute.String("target", event.Target))
	}
	if event.Action != "" {
		span.SetAttributes(attribute.String("action", event.Action))
	}
	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
}
