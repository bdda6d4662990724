package publisher

import (
	"context"
	"time"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/lifecycle/metrics"
)

// MetricsPublisher wraps a lifecycle.Publisher with metrics collection
type MetricsPublisher struct {
	publisher lifecycle.Publisher
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher lifecycle.Publisher, registry *metrics.Registry) lifecycle.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
	}
}

// Publish implements lifecycle.Publisher.Publish with metrics collection
func (p *MetricsPublisher) Publish(ctx context.Context, event lifecycle.Event, ackTimeout time.Duration) (lifecycle.Ack, error) {
	start := time.Now()

	ack, err := p.publisher.Publish(ctx, event, ackTimeout)
	duration := time.Since(start)

	p.registry.RecordPublish(string(event.Type), duration, err)

	return ack, err
}
