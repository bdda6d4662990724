// Package connection owns the process-wide broker handle and its state.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
	"lifecycle/internal/validator"
)

// ErrClosed is wrapped by the ConnectionError returned from Connect after
// Close has been called.
var ErrClosed = errors.New("connection manager closed")

// Observer receives connection state changes, typically a metrics registry.
type Observer interface {
	RecordConnect(err error)
	SetConnectionState(state lifecycle.ConnState)
}

type snapshot struct {
	state  lifecycle.ConnState
	handle lifecycle.Handle
}

var disconnected = &snapshot{state: lifecycle.Disconnected}

// Manager holds the single broker handle shared by every publish call.
// Handle and State read an atomic snapshot and never take a lock; Connect,
// Reconnect and Close are serialized.
type Manager struct {
	dialer   lifecycle.Dialer
	brokers  []string
	policy   ReconnectPolicy
	logger   *zap.Logger
	observer Observer

	mu     sync.Mutex
	closed bool
	cur    atomic.Pointer[snapshot]
}

// Option configures a Manager.
type Option func(*Manager)

// WithReconnectPolicy enables Reconnect and Watch with the given policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithObserver reports connect attempts and state changes to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager in the DISCONNECTED state. brokers is only
// used to describe connection errors.
func NewManager(dialer lifecycle.Dialer, brokers []string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := validator.Validate("connection manager", dialer, logger); err != nil {
		return nil, err
	}

	m := Manager{
		dialer:  dialer,
		brokers: brokers,
		logger:  logger.Named("connection"),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.cur.Store(disconnected)

	return &m, nil
}

// Connect performs a single handshake. On success the handle is cached and
// the state becomes CONNECTED; on failure the state becomes FAILED and a
// *lifecycle.ConnectionError is returned. Calling Connect while CONNECTED
// returns the cached handle.
func (m *Manager) Connect(ctx context.Context) (lifecycle.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &lifecycle.ConnectionError{Brokers: m.brokers, Err: ErrClosed}
	}

	if s := m.cur.Load(); s.state == lifecycle.Connected {
		return s.handle, nil
	}

	h, err := m.dialer.Dial(ctx)
	if err == nil && h == nil {
		err = errors.New("dialer returned no handle")
	}
	m.recordConnect(err)
	if err != nil {
		m.set(&snapshot{state: lifecycle.Failed})
		m.logger.Error("failed to connect to broker", zap.Strings("brokers", m.brokers), zap.Error(err))
		return nil, &lifecycle.ConnectionError{Brokers: m.brokers, Err: err}
	}

	m.set(&snapshot{state: lifecycle.Connected, handle: h})
	m.logger.Info("connected to broker", zap.Strings("brokers", m.brokers))

	return h, nil
}

// Handle returns the cached handle only while CONNECTED.
func (m *Manager) Handle() (lifecycle.Handle, bool) {
	s := m.cur.Load()
	if s.state != lifecycle.Connected {
		return nil, false
	}
	return s.handle, true
}

// State reports the current connection state.
func (m *Manager) State() lifecycle.ConnState {
	return m.cur.Load().state
}

// MarkFailed moves a CONNECTED manager to FAILED and releases h. Only the
// first caller for a given handle performs the transition; a stale h from
// before a reconnect is ignored.
func (m *Manager) MarkFailed(h lifecycle.Handle, cause error) {
	s := m.cur.Load()
	if s.state != lifecycle.Connected || s.handle != h {
		return
	}

	failed := &snapshot{state: lifecycle.Failed}
	if !m.cur.CompareAndSwap(s, failed) {
		return
	}
	if m.observer != nil {
		m.observer.SetConnectionState(lifecycle.Failed)
	}

	m.logger.Warn("broker connection marked failed", zap.Error(cause))
	if err := s.handle.Close(); err != nil {
		m.logger.Warn("failed to release broker handle", zap.Error(err))
	}
}

// Close releases the handle. It is safe to call multiple times and with no
// handle. After Close the manager stays DISCONNECTED.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	s := m.cur.Swap(disconnected)
	if m.observer != nil {
		m.observer.SetConnectionState(lifecycle.Disconnected)
	}
	if s.handle == nil {
		return nil
	}

	if err := s.handle.Close(); err != nil {
		return fmt.Errorf("failed to close broker handle: %w", err)
	}
	m.logger.Info("broker connection closed")

	return nil
}

func (m *Manager) set(s *snapshot) {
	m.cur.Store(s)
	if m.observer != nil {
		m.observer.SetConnectionState(s.state)
	}
}

func (m *Manager) recordConnect(err error) {
	if m.observer != nil {
		m.observer.RecordConnect(err)
	}
}
