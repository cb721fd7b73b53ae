package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/conn"
	"github.com/vovakirdan/plansync/internal/history"
	"github.com/vovakirdan/plansync/internal/proto"
)

type fakeConn struct {
	events chan conn.Event

	mu      sync.Mutex
	state   conn.State
	subs    []string
	emitted []proto.Inbound
	emitErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan conn.Event, 16), state: conn.Connected}
}

func (c *fakeConn) Subscribe(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, "sub:"+roomID)
}

func (c *fakeConn) Unsubscribe(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, "unsub:"+roomID)
}

func (c *fakeConn) Emit(cmd proto.Inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, cmd)
	return nil
}

func (c *fakeConn) Events() <-chan conn.Event { return c.events }

func (c *fakeConn) State() conn.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) setState(state conn.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *fakeConn) setEmitErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

func (c *fakeConn) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subs...)
}

func (c *fakeConn) commands() []proto.Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.Inbound(nil), c.emitted...)
}

type fetchReply struct {
	page history.Page
	err  error
}

type fetchCall struct {
	room   string
	before *proto.Cursor
	limit  int
	reply  chan fetchReply
}

func (c *fetchCall) respond(page history.Page, err error) {
	c.reply <- fetchReply{page: page, err: err}
}

// fakeHistory hands every Fetch to the test and blocks until it is answered.
type fakeHistory struct {
	calls chan *fetchCall
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{calls: make(chan *fetchCall, 8)}
}

func (h *fakeHistory) Fetch(ctx context.Context, roomID string, before *proto.Cursor, limit int) (history.Page, error) {
	call := &fetchCall{room: roomID, before: before, limit: limit, reply: make(chan fetchReply, 1)}
	select {
	case h.calls <- call:
	case <-ctx.Done():
		return history.Page{}, ctx.Err()
	}
	select {
	case r := <-call.reply:
		return r.page, r.err
	case <-ctx.Done():
		return history.Page{}, ctx.Err()
	}
}

func (h *fakeHistory) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-h.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for history fetch")
		return nil
	}
}

func (h *fakeHistory) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case call := <-h.calls:
		t.Fatalf("unexpected history fetch for %s", call.room)
	case <-time.After(50 * time.Millisecond):
	}
}

func startEngine(t *testing.T, opts Options) (*Engine, *fakeConn, *fakeHistory) {
	t.Helper()
	c := newFakeConn()
	h := newFakeHistory()
	if opts.NewID == nil {
		var mu sync.Mutex
		n := 0
		opts.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("c%d", n)
		}
	}
	e := New(c, h, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, c, h
}

// joinLoaded joins room and answers its initial fetch with msgs.
func joinLoaded(t *testing.T, e *Engine, h *fakeHistory, room string, hasMore bool, msgs ...chat.Message) {
	t.Helper()
	if err := e.JoinRoom(context.Background(), room); err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
	call := h.next(t)
	if call.room != room || call.before != nil {
		t.Fatalf("unexpected initial fetch: room=%s before=%v", call.room, call.before)
	}
	call.respond(history.Page{Messages: msgs, HasMore: hasMore}, nil)
	waitFor(t, func() bool { return e.Snapshot().Loaded })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func staleResults(t *testing.T, e *Engine) int {
	t.Helper()
	var n int
	if err := e.do(context.Background(), func() { n = e.staleResults }); err != nil {
		t.Fatalf("read stale counter: %v", err)
	}
	return n
}

func msg(room string, id int64, sec int64) chat.Message {
	return chat.Message{
		ID:         id,
		RoomID:     room,
		SenderID:   "u1",
		SenderName: "alice",
		Content:    fmt.Sprintf("m%d", id),
		Kind:       proto.KindText,
		CreatedAt:  time.Unix(sec, 0).UTC(),
	}
}

func ids(msgs []chat.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func decode[T any](t *testing.T, cmd proto.Inbound) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(cmd.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", cmd.Type, err)
	}
	return v
}
