package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable is matched by a PublishError raised because no live
	// broker handle exists.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrTimeout is matched by a PublishError raised because the broker did
	// not acknowledge within the ack timeout. The event may still be appended.
	ErrTimeout = errors.New("acknowledgment timed out")
	// ErrTransport is matched by a PublishError raised by a send failure.
	ErrTransport = errors.New("transport error")
)

// PublishErrorKind classifies a failed publish.
type PublishErrorKind int

const (
	Unavailable PublishErrorKind = iota
	Timeout
	Transport
)

func (k PublishErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	case Transport:
		return "transport_error"
	default:
		return "unknown"
	}
}

func (k PublishErrorKind) sentinel() error {
	switch k {
	case Unavailable:
		return ErrUnavailable
	case Timeout:
		return ErrTimeout
	default:
		return ErrTransport
	}
}

// PublishError is returned by Publisher.Publish when the event was valid but
// could not be confirmed by the broker.
type PublishError struct {
	Kind      PublishErrorKind
	EventType EventType
	EntityID  string
	Err       error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("failed to publish %s for entity %s: %s", e.EventType, e.EntityID, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is lets errors.Is match a PublishError against ErrUnavailable, ErrTimeout
// and ErrTransport.
func (e *PublishError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// EncodingError reports an event that is malformed for its type.
type EncodingError struct {
	EventType EventType
	Field     string
	Reason    string
	Err       error
}

func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("invalid %s event: field %q: %s", e.EventType, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ConnectionError reports a failed broker handshake.
type ConnectionError struct {
	Brokers []string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to brokers [%s]: %v", strings.Join(e.Brokers, ","), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// KindOf returns the PublishErrorKind carried by err, if any.
func KindOf(err error) (PublishErrorKind, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// Outcome labels the result of a publish for metrics and traces: acked,
// unavailable, timeout, transport_error or encoding_error.
func Outcome(err error) string {
	if err == nil {
		return "acked"
	}
	if kind, ok := KindOf(err); ok {
		return kind.String()
	}
	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return "encoding_error"
	}
	return Transport.String()
}
