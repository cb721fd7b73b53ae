package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type expiry struct {
	room  string
	user  string
	token uint64
}

func newTestLedger(t *testing.T) (*Ledger, *clock.Mock, chan expiry) {
	t.Helper()

	mock := clock.NewMock()
	fired := make(chan expiry, 16)
	l := New(mock, DefaultTTL, func(roomID, userID string, token uint64) {
		fired <- expiry{room: roomID, user: userID, token: token}
	})
	l.SetActive("plan-1")
	return l, mock, fired
}

func mustExpire(t *testing.T, fired <-chan expiry) expiry {
	t.Helper()
	select {
	case ev := <-fired:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("expected expiry callback")
		return expiry{}
	}
}

func assertNoExpire(t *testing.T, fired <-chan expiry) {
	t.Helper()
	select {
	case ev := <-fired:
		t.Fatalf("unexpected expiry: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	l, mock, fired := newTestLedger(t)

	if !l.Started("plan-1", "u2", "bob") {
		t.Fatalf("expected started to be accepted")
	}
	if got := l.Snapshot("plan-1"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected snapshot: %v", got)
	}

	mock.Add(2 * time.Second)
	assertNoExpire(t, fired)
	if got := l.Snapshot("plan-1"); len(got) != 1 {
		t.Fatalf("entry expired too early: %v", got)
	}

	mock.Add(time.Second)
	ev := mustExpire(t, fired)
	if ev.room != "plan-1" || ev.user != "u2" {
		t.Fatalf("unexpected expiry: %+v", ev)
	}
	if got := l.Snapshot("plan-1"); len(got) != 0 {
		t.Fatalf("snapshot must hide expired entries: %v", got)
	}
	if !l.Expire(ev.room, ev.user, ev.token) {
		t.Fatalf("expected expire to remove entry")
	}
}

func TestTypingStoppedRemovesImmediately(t *testing.T) {
	l, mock, fired := newTestLedger(t)

	l.Started("plan-1", "u2", "bob")
	if !l.Stopped("plan-1", "u2") {
		t.Fatalf("expected stopped to remove entry")
	}
	if got := l.Snapshot("plan-1"); len(got) != 0 {
		t.Fatalf("unexpected snapshot: %v", got)
	}

	mock.Add(5 * time.Second)
	assertNoExpire(t, fired)
}

func TestTypingRefreshResetsTimer(t *testing.T) {
	l, mock, fired := newTestLedger(t)

	l.Started("plan-1", "u2", "bob")
	mock.Add(2 * time.Second)
	l.Started("plan-1", "u2", "bob")

	mock.Add(2 * time.Second)
	assertNoExpire(t, fired)
	if got := l.Snapshot("plan-1"); len(got) != 1 {
		t.Fatalf("refreshed entry expired early: %v", got)
	}

	mock.Add(time.Second)
	ev := mustExpire(t, fired)
	if !l.Expire(ev.room, ev.user, ev.token) {
		t.Fatalf("expected latest token to expire entry")
	}
	assertNoExpire(t, fired)
}

func TestStaleTokenDoesNotRemoveRefreshedEntry(t *testing.T) {
	l, mock, fired := newTestLedger(t)

	l.Started("plan-1", "u2", "bob")
	mock.Add(3 * time.Second)
	stale := mustExpire(t, fired)

	// A refresh lands before the owner processes the expiry.
	l.Started("plan-1", "u2", "bob")
	if l.Expire(stale.room, stale.user, stale.token) {
		t.Fatalf("stale token must not remove refreshed entry")
	}
	if got := l.Snapshot("plan-1"); len(got) != 1 {
		t.Fatalf("expected refreshed entry, got %v", got)
	}
}

func TestInactiveRoomIgnored(t *testing.T) {
	l, _, _ := newTestLedger(t)

	if l.Started("plan-2", "u2", "bob") {
		t.Fatalf("typing in inactive room must be ignored")
	}
	if got := l.Snapshot("plan-2"); len(got) != 0 {
		t.Fatalf("unexpected snapshot: %v", got)
	}
}

func TestSetActiveClearsPreviousRoom(t *testing.T) {
	l, mock, fired := newTestLedger(t)

	l.Started("plan-1", "u2", "bob")
	l.Started("plan-1", "u3", "carol")
	if got := l.Snapshot("plan-1"); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("unexpected snapshot: %v", got)
	}

	l.SetActive("plan-2")
	if got := l.Snapshot("plan-1"); len(got) != 0 {
		t.Fatalf("expected previous room cleared, got %v", got)
	}

	mock.Add(10 * time.Second)
	assertNoExpire(t, fired)
}
