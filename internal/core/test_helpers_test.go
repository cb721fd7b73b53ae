package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/plansync/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func assertNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func startTestHub(t *testing.T) *Hub {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(st, HubOptions{MaxContentBytes: 64})
	go hub.Run(ctx)
	return hub
}

// joined registers a client and subscribes it to room, waiting until the hub processed it.
func joined(t *testing.T, hub *Hub, id, name, room string) *Client {
	t.Helper()

	before := waitStats(t, hub, func(Stats) bool { return true })
	c := NewClient(id, id, name)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandSubscribe, Room: room}
	waitStats(t, hub, func(s Stats) bool { return s.Subscriptions == before.Subscriptions+1 })
	return c
}

func waitStats(t *testing.T, hub *Hub, cond func(Stats) bool) Stats {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := hub.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub stats condition not met")
	return Stats{}
}
