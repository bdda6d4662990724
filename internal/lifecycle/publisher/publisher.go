package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/validator"
)

// DefaultAckTimeout is used when a publish call passes a non-positive timeout.
const DefaultAckTimeout = 10 * time.Second

// Publisher sends events over the handle borrowed from a connection. It holds
// the handle only for the duration of one call.
type Publisher struct {
	conn   lifecycle.Connection
	logger *zap.Logger
}

func NewPublisher(conn lifecycle.Connection, logger *zap.Logger) (*Publisher, error) {
	p := Publisher{
		conn:   conn,
		logger: logger,
	}

	if err := validator.Validate("publisher", p.conn, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}
	p.logger = p.logger.Named("publisher")

	return &p, nil
}

type sendResult struct {
	ack lifecycle.Ack
	err error
}

// Publish implements lifecycle.Publisher. The call returns no later than
// ackTimeout after the send starts; a send still in flight at that point is
// abandoned and may or may not be appended by the broker.
func (p *Publisher) Publish(ctx context.Context, event lifecycle.Event, ackTimeout time.Duration) (lifecycle.Ack, error) {
	h, ok := p.conn.Handle()
	if !ok {
		return lifecycle.Ack{}, publishErr(lifecycle.Unavailable, event, nil)
	}

	value, err := lifecycle.Encode(event)
	if err != nil {
		return lifecycle.Ack{}, err
	}
	key := lifecycle.PartitionKey(event)

	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: fmt.Errorf("broker send panicked: %v", r)}
			}
		}()
		ack, err := h.Send(ctx, key, value)
		done <- sendResult{ack: ack, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err == nil:
			p.logger.Debug("lifecycle event acknowledged",
				zap.Stringer("event", event),
				zap.Int("partition", res.ack.Partition),
				zap.Int64("offset", res.ack.Offset),
			)
			return res.ack, nil
		case ctx.Err() != nil && errors.Is(res.err, ctx.Err()):
			return lifecycle.Ack{}, publishErr(lifecycle.Timeout, event, res.err)
		default:
			p.conn.MarkFailed(h, res.err)
			return lifecycle.Ack{}, publishErr(lifecycle.Transport, event, res.err)
		}
	case <-ctx.Done():
		return lifecycle.Ack{}, publishErr(lifecycle.Timeout, event, ctx.Err())
	}
}

func publishErr(kind lifecycle.PublishErrorKind, event lifecycle.Event, cause error) *lifecycle.PublishError {
	return &lifecycle.PublishError{
		Kind:      kind,
		EventType: event.Type,
		EntityID:  event.EntityID,
		Err:       cause,
	}
}
