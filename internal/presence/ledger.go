// Package presence tracks who is typing in the active room.
package presence

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is how long a typing indicator lives without a refresh.
const DefaultTTL = 3 * time.Second

// ExpireFunc is invoked from a timer goroutine when an entry's TTL elapses.
// It must not touch the ledger directly; the owner should call Expire with the
// same arguments from its own goroutine.
type ExpireFunc func(roomID, userID string, token uint64)

type key struct {
	room string
	user string
}

type entry struct {
	username  string
	expiresAt time.Time
	timer     *clock.Timer
	token     uint64
}

// Ledger holds TypingState entries for the active room. It is not safe for
// concurrent use.
type Ledger struct {
	clock    clock.Clock
	ttl      time.Duration
	onExpire ExpireFunc

	active  string
	entries map[key]*entry
	seq     uint64
}

// New creates a ledger. A zero ttl means DefaultTTL; a nil clock means the wall clock.
func New(clk clock.Clock, ttl time.Duration, onExpire ExpireFunc) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if onExpire == nil {
		onExpire = func(string, string, uint64) {}
	}
	return &Ledger{
		clock:    clk,
		ttl:      ttl,
		onExpire: onExpire,
		entries:  make(map[key]*entry),
	}
}

// SetActive switches the active room, dropping entries of the previous one.
func (l *Ledger) SetActive(roomID string) {
	if roomID == l.active {
		return
	}
	l.Clear()
	l.active = roomID
}

// Active returns the room entries are accepted for.
func (l *Ledger) Active() string { return l.active }

// Started inserts or refreshes a typing entry and re-arms its expiry timer.
// Events for rooms other than the active one are ignored.
func (l *Ledger) Started(roomID, userID, username string) bool {
	if roomID == "" || roomID != l.active {
		return false
	}

	k := key{room: roomID, user: userID}
	if e, ok := l.entries[k]; ok {
		e.timer.Stop()
	}

	l.seq++
	token := l.seq
	if username == "" {
		username = userID
	}
	l.entries[k] = &entry{
		username:  username,
		expiresAt: l.clock.Now().Add(l.ttl),
		token:     token,
		timer: l.clock.AfterFunc(l.ttl, func() {
			l.onExpire(roomID, userID, token)
		}),
	}
	return true
}

// Stopped removes an entry immediately.
func (l *Ledger) Stopped(roomID, userID string) bool {
	k := key{room: roomID, user: userID}
	e, ok := l.entries[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(l.entries, k)
	return true
}

// Expire removes the entry armed with token. A refresh after the timer fired
// invalidates the token, so a late expiry does not remove a live entry.
func (l *Ledger) Expire(roomID, userID string, token uint64) bool {
	k := key{room: roomID, user: userID}
	e, ok := l.entries[k]
	if !ok || e.token != token {
		return false
	}
	delete(l.entries, k)
	return true
}

// Clear cancels every timer and drops all entries.
func (l *Ledger) Clear() {
	for k, e := range l.entries {
		e.timer.Stop()
		delete(l.entries, k)
	}
}

// Snapshot returns the sorted usernames currently typing in roomID.
// Entries past their expiry are hidden even if the expiry has not been processed yet.
func (l *Ledger) Snapshot(roomID string) []string {
	now := l.clock.Now()
	names := make([]string, 0, len(l.entries))
	for k, e := range l.entries {
		if k.room != roomID || !e.expiresAt.After(now) {
			continue
		}
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}
