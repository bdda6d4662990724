package publisher

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"lifecycle/internal/lifecycle"
)

// fakeConn is a lifecycle.Connection with a fixed handle.
type fakeConn struct {
	handle lifecycle.Handle
	state  atomic.Int32
	failed atomic.Int32
}

func connected(h lifecycle.Handle) *fakeConn {
	c := &fakeConn{handle: h}
	c.state.Store(int32(lifecycle.Connected))
	return c
}

func failedConn() *fakeConn {
	c := &fakeConn{}
	c.state.Store(int32(lifecycle.Failed))
	return c
}

func (c *fakeConn) Handle() (lifecycle.Handle, bool) {
	if c.State() != lifecycle.Connected {
		return nil, false
	}
	return c.handle, true
}

func (c *fakeConn) State() lifecycle.ConnState {
	return lifecycle.ConnState(c.state.Load())
}

func (c *fakeConn) MarkFailed(h lifecycle.Handle, _ error) {
	if h != c.handle {
		return
	}
	c.failed.Add(1)
	c.state.Store(int32(lifecycle.Failed))
}

type record struct {
	key, value []byte
	ack        lifecycle.Ack
}

// logHandle appends every send to an in-memory partitioned log.
type logHandle struct {
	partitions int

	mu      sync.Mutex
	records []record
	offsets map[int]int64
}

func newLogHandle(partitions int) *logHandle {
	return &logHandle{partitions: partitions, offsets: map[int]int64{}}
}

func (h *logHandle) Send(_ context.Context, key, value []byte) (lifecycle.Ack, error) {
	f := fnv.New32a()
	f.Write(key)
	partition := int(f.Sum32() % uint32(h.partitions))

	h.mu.Lock()
	defer h.mu.Unlock()

	ack := lifecycle.Ack{Topic: "user-events", Partition: partition, Offset: h.offsets[partition]}
	h.offsets[partition]++
	h.records = append(h.records, record{key: key, value: value, ack: ack})
	return ack, nil
}

func (h *logHandle) Close() error { return nil }

func (h *logHandle) Records() []record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]record(nil), h.records...)
}

// stuckHandle never acknowledges and ignores ctx.
type stuckHandle struct {
	release chan struct{}
	calls   atomic.Int32
}

func (h *stuckHandle) Send(context.Context, []byte, []byte) (lifecycle.Ack, error) {
	h.calls.Add(1)
	<-h.release
	return lifecycle.Ack{}, errors.New("released")
}

func (h *stuckHandle) Close() error { return nil }

// ctxHandle waits for ctx like a real client would.
type ctxHandle struct{}

func (ctxHandle) Send(ctx context.Context, _, _ []byte) (lifecycle.Ack, error) {
	<-ctx.Done()
	return lifecycle.Ack{}, ctx.Err()
}

func (ctxHandle) Close() error { return nil }

type errHandle struct{ err error }

func (h errHandle) Send(context.Context, []byte, []byte) (lifecycle.Ack, error) {
	return lifecycle.Ack{}, h.err
}

func (errHandle) Close() error { return nil }

type panicHandle struct{}

func (panicHandle) Send(context.Context, []byte, []byte) (lifecycle.Ack, error) {
	panic("nil pointer in client")
}

func (panicHandle) Close() error { return nil }

// countingPublisher records calls and returns a fixed result.
type countingPublisher struct {
	calls atomic.Int32
	ack   lifecycle.Ack
	err   error
	panic bool
}

func (p *countingPublisher) Publish(context.Context, lifecycle.Event, time.Duration) (lifecycle.Ack, error) {
	p.calls.Add(1)
	if p.panic {
		panic("boom")
	}
	return p.ack, p.err
}
