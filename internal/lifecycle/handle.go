package lifecycle

import "context"

// Handle is a live broker connection. Implementations must be safe for
// concurrent use by many publishers.
type Handle interface {
	// Send appends value under key to the configured topic and blocks until
	// the broker acknowledges it at the configured ack level or ctx is done.
	Send(ctx context.Context, key, value []byte) (Ack, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer performs a single handshake against the broker and returns a
// Handle on success.
type Dialer interface {
	Dial(ctx context.Context) (Handle, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Handle, error)

func (f DialerFunc) Dial(ctx context.Context) (Handle, error) { return f(ctx) }

// Connection exposes the broker handle owned by a connection manager.
type Connection interface {
	// Handle returns the cached handle, or false unless the connection is
	// CONNECTED. It never blocks.
	Handle() (Handle, bool)

	// State reports the current connection state.
	State() ConnState

	// MarkFailed moves the connection to FAILED after a send error on h and
	// releases h. It does nothing if h is no longer the current handle.
	MarkFailed(h Handle, err error)
}

// ConnState is the process-wide broker connection state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
