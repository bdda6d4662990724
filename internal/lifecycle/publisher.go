package lifecycle

import (
	"context"
	"time"
)

// Ack confirms a durable append to the broker log.
type Ack struct {
	Topic     string
	Partition int
	Offset    int64
}

// Publisher sends lifecycle events to the broker.
type Publisher interface {
	// Publish sends the event keyed by its entity id and waits up to
	// ackTimeout for the broker acknowledgment. Failures are returned as
	// *PublishError or *EncodingError; Publish never panics.
	Publish(ctx context.Context, event Event, ackTimeout time.Duration) (Ack, error)
}

// Notifier is the contract used by the entity service after a local
// mutation commits. Its result is advisory: callers log failures and never
// roll the mutation back because of them.
type Notifier interface {
	PublishCreated(ctx context.Context, entityID string, payload Payload, createdAt time.Time) (Ack, error)
	PublishDeleted(ctx context.Context, entityID string, deletedAt time.Time) (Ack, error)
}
