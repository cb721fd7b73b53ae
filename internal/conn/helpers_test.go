package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/plansync/internal/proto"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	inbound chan proto.Envelope
	written chan proto.Inbound
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan proto.Envelope, 16),
		written: make(chan proto.Inbound, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Write(ctx context.Context, msg proto.Inbound) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	select {
	case f.written <- msg:
		return nil
	case <-f.closed:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Read(ctx context.Context) (proto.Envelope, error) {
	select {
	case env := <-f.inbound:
		return env, nil
	case <-f.closed:
		return proto.Envelope{}, errTransportClosed
	case <-ctx.Done():
		return proto.Envelope{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.inbound <- proto.Envelope{Type: proto.OutboundTypeEvent, Event: event, Data: raw}
}

type dialStep func() (Transport, error)

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	steps []dialStep
}

func (d *fakeDialer) Dial(ctx context.Context, credential string) (Transport, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.mu.Unlock()

	if idx < len(d.steps) {
		return d.steps[idx]()
	}
	return nil, errors.New("server unreachable")
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func ok(t Transport) dialStep {
	return func() (Transport, error) { return t, nil }
}

func fail(err error) dialStep {
	return func() (Transport, error) { return nil, err }
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return Event{}
}

func mustWrites(t *testing.T, f *fakeTransport, n int) []proto.Inbound {
	t.Helper()

	out := make([]proto.Inbound, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case msg := <-f.written:
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("expected %d writes, got %d", n, len(out))
		}
	}
	return out
}

func assertNoWrites(t *testing.T, f *fakeTransport) {
	t.Helper()
	select {
	case msg := <-f.written:
		t.Fatalf("unexpected write: %s %s", msg.Type, string(msg.Data))
	case <-time.After(50 * time.Millisecond):
	}
}

func roomOf(t *testing.T, msg proto.Inbound) string {
	t.Helper()
	var data proto.RoomData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal room data: %v", err)
	}
	return data.Room
}

func assertCommand(t *testing.T, msg proto.Inbound, typ, room string) {
	t.Helper()
	if msg.Type != typ || roomOf(t, msg) != room {
		t.Fatalf("expected %s(%s), got %s(%s)", typ, room, msg.Type, string(msg.Data))
	}
}
