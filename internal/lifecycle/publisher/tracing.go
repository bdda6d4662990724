package publisher

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/lifecycle/tracing"
)

// TracedPublisher wraps a lifecycle.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Guard -> Publisher
type TracedPublisher struct {
	publisher lifecycle.Publisher
	tracer    *tracing.Tracer
	topic     string
}

// NewTracedPublisher creates a new traced publisher for topic
func NewTracedPublisher(publisher lifecycle.Publisher, tracer *tracing.Tracer, topic string) lifecycle.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
		topic:     topic,
	}
}

// Publish implements lifecycle.Publisher.Publish with distributed tracing
func (p *TracedPublisher) Publish(ctx context.Context, event lifecycle.Event, ackTimeout time.Duration) (lifecycle.Ack, error) {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.publish")
	defer span.End()

	span.SetAttributes(p.tracer.EventAttributes(p.topic, string(event.Type), event.EntityID)...)
	span.SetAttributes(attribute.Int64("lifecycle.ack_timeout_ms", ackTimeout.Milliseconds()))

	ack, err := p.publisher.Publish(ctx, event, ackTimeout)

	span.SetAttributes(attribute.String("lifecycle.outcome", lifecycle.Outcome(err)))
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetAttributes(p.tracer.AckAttributes(ack.Partition, ack.Offset)...)
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(p.tracer.ErrorAttributes(err)...)

	return ack, err
}
