package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/validator"
)

// RejectionRecorder counts calls short-circuited by a Guard.
type RejectionRecorder interface {
	RecordGuardRejection()
}

// Guard makes a Publisher safe to call unconditionally from a mutation path.
// While the connection is not CONNECTED it returns an Unavailable error
// without encoding or any I/O and logs one warning per call. It never
// panics.
type Guard struct {
	publisher lifecycle.Publisher
	conn      lifecycle.Connection
	logger    *zap.Logger
	recorder  RejectionRecorder
}

// NewGuard wraps publisher. recorder may be nil.
func NewGuard(publisher lifecycle.Publisher, conn lifecycle.Connection, logger *zap.Logger, recorder RejectionRecorder) (*Guard, error) {
	if err := validator.Validate("guard", publisher, conn, logger); err != nil {
		return nil, err
	}

	return &Guard{
		publisher: publisher,
		conn:      conn,
		logger:    logger.Named("guard"),
		recorder:  recorder,
	}, nil
}

// Publish implements lifecycle.Publisher.
func (g *Guard) Publish(ctx context.Context, event lifecycle.Event, ackTimeout time.Duration) (ack lifecycle.Ack, err error) {
	if state := g.conn.State(); state != lifecycle.Connected {
		g.logger.Warn("broker unavailable, lifecycle event not sent",
			zap.String("event_type", string(event.Type)),
			zap.String("entity_id", event.EntityID),
			zap.Stringer("state", state),
		)
		if g.recorder != nil {
			g.recorder.RecordGuardRejection()
		}
		return lifecycle.Ack{}, publishErr(lifecycle.Unavailable, event, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("publisher panicked", zap.Any("panic", r), zap.Stringer("event", event))
			ack, err = lifecycle.Ack{}, publishErr(lifecycle.Transport, event, fmt.Errorf("panic: %v", r))
		}
	}()

	return g.publisher.Publish(ctx, event, ackTimeout)
}
