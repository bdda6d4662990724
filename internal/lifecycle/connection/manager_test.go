package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
)

type fakeHandle struct {
	closed atomic.Int32
}

func (h *fakeHandle) Send(context.Context, []byte, []byte) (lifecycle.Ack, error) {
	return lifecycle.Ack{}, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

// scriptedDialer fails the first failures dials and then succeeds.
type scriptedDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	handles  []*fakeHandle
}

func (d *scriptedDialer) Dial(context.Context) (lifecycle.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("dial tcp 127.0.0.1:9092: connection refused")
	}
	h := &fakeHandle{}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stateRecorder struct {
	mu       sync.Mutex
	states   []lifecycle.ConnState
	connects []error
}

func (r *stateRecorder) RecordConnect(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, err)
}

func (r *stateRecorder) SetConnectionState(s lifecycle.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func newManager(t *testing.T, d lifecycle.Dialer, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(d, []string{"localhost:9092"}, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_StartsDisconnected(t *testing.T) {
	m := newManager(t, &scriptedDialer{})

	if got := m.State(); got != lifecycle.Disconnected {
		t.Fatalf("State() = %s, want disconnected", got)
	}
	if _, ok := m.Handle(); ok {
		t.Fatal("Handle() returned a handle before Connect")
	}
}

func TestManager_ConnectSuccess(t *testing.T) {
	d := &scriptedDialer{}
	rec := &stateRecorder{}
	m := newManager(t, d, WithObserver(rec))

	h, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.State() != lifecycle.Connected {
		t.Fatalf("State() = %s, want connected", m.State())
	}
	got, ok := m.Handle()
	if !ok || got != h {
		t.Fatal("Handle() did not return the connected handle")
	}

	// a second Connect reuses the cached handle
	again, err := m.Connect(context.Background())
	if err != nil || again != h {
		t.Fatalf("second Connect() = %v, %v; want cached handle", again, err)
	}
	if d.Calls() != 1 {
		t.Errorf("dialer called %d times, want 1", d.Calls())
	}
	if len(rec.connects) != 1 || rec.connects[0] != nil {
		t.Errorf("observer connects = %v, want one success", rec.connects)
	}
}

func TestManager_ConnectFailure(t *testing.T) {
	d := &scriptedDialer{failures: 1}
	m := newManager(t, d)

	_, err := m.Connect(context.Background())
	var connErr *lifecycle.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
	if len(connErr.Brokers) != 1 || connErr.Brokers[0] != "localhost:9092" {
		t.Errorf("ConnectionError.Brokers = %v", connErr.Brokers)
	}
	if m.State() != lifecycle.Failed {
		t.Fatalf("State() = %s, want failed", m.State())
	}
	if _, ok := m.Handle(); ok {
		t.Fatal("Handle() returned a handle in FAILED state")
	}

	// stays FAILED: nothing reconnects on its own
	time.Sleep(10 * time.Millisecond)
	if m.State() != lifecycle.Failed || d.Calls() != 1 {
		t.Fatalf("manager reconnected on its own: state=%s calls=%d", m.State(), d.Calls())
	}

	// an explicit Connect is the only way back
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("explicit Connect() error = %v", err)
	}
	if m.State() != lifecycle.Connected {
		t.Fatalf("State() = %s, want connected", m.State())
	}
}

func TestManager_NilHandleIsFailure(t *testing.T) {
	d := lifecycle.DialerFunc(func(context.Context) (lifecycle.Handle, error) { return nil, nil })
	m := newManager(t, d)

	if _, err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded with a nil handle")
	}
	if m.State() != lifecycle.Failed {
		t.Fatalf("State() = %s, want failed", m.State())
	}
}

func TestManager_MarkFailed(t *testing.T) {
	d := &scriptedDialer{}
	m := newManager(t, d)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.MarkFailed(d.handles[0], errors.New("broken pipe"))
		}()
	}
	wg.Wait()

	if m.State() != lifecycle.Failed {
		t.Fatalf("State() = %s, want failed", m.State())
	}
	if n := d.handles[0].closed.Load(); n != 1 {
		t.Errorf("handle closed %d times, want 1", n)
	}
}

func TestManager_MarkFailedIgnoresStaleHandle(t *testing.T) {
	d := &scriptedDialer{}
	m := newManager(t, d)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	old := d.handles[0]
	m.MarkFailed(old, errors.New("broken pipe"))

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	current := d.handles[1]

	// a send that started on the old handle fails after the reconnect
	m.MarkFailed(old, errors.New("late write error"))

	if m.State() != lifecycle.Connected {
		t.Fatalf("State() = %s, want connected", m.State())
	}
	if h, ok := m.Handle(); !ok || h != current {
		t.Error("stale failure replaced the current handle")
	}
	if n := current.closed.Load(); n != 0 {
		t.Errorf("current handle closed %d times", n)
	}
	if n := old.closed.Load(); n != 1 {
		t.Errorf("old handle closed %d times, want 1", n)
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	t.Run("without handle", func(t *testing.T) {
		m := newManager(t, &scriptedDialer{})
		if err := m.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
	})

	t.Run("with handle", func(t *testing.T) {
		d := &scriptedDialer{}
		m := newManager(t, d)
		if _, err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := m.Close(); err != nil {
				t.Fatalf("Close() #%d error = %v", i, err)
			}
		}
		if n := d.handles[0].closed.Load(); n != 1 {
			t.Errorf("handle closed %d times, want 1", n)
		}
		if m.State() != lifecycle.Disconnected {
			t.Errorf("State() = %s, want disconnected", m.State())
		}
	})

	t.Run("connect after close", func(t *testing.T) {
		m := newManager(t, &scriptedDialer{})
		_ = m.Close()
		_, err := m.Connect(context.Background())
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Connect() after Close error = %v, want ErrClosed", err)
		}
	})
}

func TestManager_Reconnect(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		m := newManager(t, &scriptedDialer{failures: 1})
		_, _ = m.Connect(context.Background())

		if _, err := m.Reconnect(context.Background()); !errors.Is(err, ErrReconnectDisabled) {
			t.Fatalf("Reconnect() error = %v, want ErrReconnectDisabled", err)
		}
		if m.State() != lifecycle.Failed {
			t.Fatalf("State() = %s, want failed", m.State())
		}
	})

	t.Run("succeeds within attempts", func(t *testing.T) {
		d := &scriptedDialer{failures: 3}
		m := newManager(t, d, WithReconnectPolicy(ReconnectPolicy{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		}))
		_, _ = m.Connect(context.Background())

		if _, err := m.Reconnect(context.Background()); err != nil {
			t.Fatalf("Reconnect() error = %v", err)
		}
		if m.State() != lifecycle.Connected {
			t.Fatalf("State() = %s, want connected", m.State())
		}
		if d.Calls() != 4 {
			t.Errorf("dialer called %d times, want 4", d.Calls())
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		d := &scriptedDialer{failures: 100}
		m := newManager(t, d, WithReconnectPolicy(ReconnectPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		}))

		if _, err := m.Reconnect(context.Background()); err == nil {
			t.Fatal("Reconnect() succeeded against a dead broker")
		}
		if d.Calls() != 3 {
			t.Errorf("dialer called %d times, want 3", d.Calls())
		}
		if m.State() != lifecycle.Failed {
			t.Errorf("State() = %s, want failed", m.State())
		}
	})
}

func TestManager_WatchRecoversFailedConnection(t *testing.T) {
	d := &scriptedDialer{failures: 1}
	m := newManager(t, d, WithReconnectPolicy(ReconnectPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		CheckInterval:   time.Millisecond,
	}))
	_, _ = m.Connect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for m.State() != lifecycle.Connected {
		select {
		case <-deadline:
			t.Fatalf("Watch did not reconnect, state=%s", m.State())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
