package publisher

import (
	"context"
	"time"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/validator"
)

// Notifier builds creation and deletion events and publishes them with a
// fixed ack timeout.
type Notifier struct {
	publisher  lifecycle.Publisher
	ackTimeout time.Duration
}

func NewNotifier(publisher lifecycle.Publisher, ackTimeout time.Duration) (*Notifier, error) {
	if err := validator.Validate("notifier", publisher, ackTimeout); err != nil {
		return nil, err
	}

	return &Notifier{publisher: publisher, ackTimeout: ackTimeout}, nil
}

// PublishCreated announces a committed creation. payload must not be empty.
func (n *Notifier) PublishCreated(ctx context.Context, entityID string, payload lifecycle.Payload, createdAt time.Time) (lifecycle.Ack, error) {
	return n.publisher.Publish(ctx, lifecycle.Created(entityID, payload, createdAt), n.ackTimeout)
}

// PublishDeleted announces a committed deletion.
func (n *Notifier) PublishDeleted(ctx context.Context, entityID string, deletedAt time.Time) (lifecycle.Ack, error) {
	return n.publisher.Publish(ctx, lifecycle.Deleted(entityID, deletedAt), n.ackTimeout)
}
