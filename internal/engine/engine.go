// Package engine keeps one room's message list and typing indicators in sync
// with the server. All state is owned by a single loop; public methods post
// closures to it and UI reads are served from a published snapshot.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/conn"
	"github.com/vovakirdan/plansync/internal/history"
	"github.com/vovakirdan/plansync/internal/msgcache"
	"github.com/vovakirdan/plansync/internal/presence"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/utils"
)

const (
	defaultPageSize     = 50
	defaultFetchTimeout = 10 * time.Second
	defaultOpsBuffer    = 64
	defaultChangeBuffer = 64
)

// Connection is the part of conn.Manager the engine drives.
type Connection interface {
	Subscribe(roomID string)
	Unsubscribe(roomID string)
	Emit(cmd proto.Inbound) error
	Events() <-chan conn.Event
	State() conn.State
}

// HistoryFetcher loads pages of messages, newest page first when before is nil.
type HistoryFetcher interface {
	Fetch(ctx context.Context, roomID string, before *proto.Cursor, limit int) (history.Page, error)
}

// Options tunes an Engine. Zero values pick defaults.
type Options struct {
	PageSize     int
	FetchTimeout time.Duration
	TypingTTL    time.Duration
	Clock        clock.Clock
	Logger       *zerolog.Logger

	// NewID generates send correlation ids.
	NewID func() string
}

type pendingSend struct {
	room    string
	content string
	seq     uint64
}

// Engine is the sync engine for a single active room.
type Engine struct {
	conn         Connection
	history      HistoryFetcher
	pageSize     int
	fetchTimeout time.Duration
	newID        func() string
	log          *zerolog.Logger

	ops     chan func()
	done    chan struct{}
	changes chan Change
	started atomic.Bool
	snap    atomic.Pointer[Snapshot]

	// Owned by the loop.
	cache         *msgcache.Cache
	presence      *presence.Ledger
	active        string
	gen           uint64
	loaded        bool
	fetchingOlder bool
	pending       map[string]pendingSend
	sendSeq       uint64
	staleResults  int
	dirty         bool
	queued        []Change
}

// New builds an engine. Call Run to start processing.
func New(c Connection, h HistoryFetcher, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.NewID == nil {
		opts.NewID = utils.NewID
	}

	e := &Engine{
		conn:         c,
		history:      h,
		pageSize:     opts.PageSize,
		fetchTimeout: opts.FetchTimeout,
		newID:        opts.NewID,
		log:          opts.Logger,
		ops:          make(chan func(), defaultOpsBuffer),
		done:         make(chan struct{}),
		changes:      make(chan Change, defaultChangeBuffer),
		cache:        msgcache.New(),
		pending:      make(map[string]pendingSend),
	}
	e.presence = presence.New(opts.Clock, opts.TypingTTL, func(roomID, userID string, token uint64) {
		e.post(func() {
			if e.presence.Expire(roomID, userID, token) {
				e.changed(ChangeTyping)
			}
		})
	})
	e.snap.Store(&Snapshot{})
	return e
}

// Run processes commands and inbound events until ctx is done. It must be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer close(e.done)
	defer e.presence.Clear()

	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-e.ops:
			op()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handle(ev)
		}
		e.flush()
	}
}

// Changes delivers re-render hints. Hints are dropped when the reader falls behind.
func (e *Engine) Changes() <-chan Change {
	return e.changes
}

// Snapshot returns the last published state.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

// CurrentMessages returns the active room's messages, oldest first.
func (e *Engine) CurrentMessages() []chat.Message {
	return e.snap.Load().Messages
}

// TypingUsers returns the sorted usernames typing in the active room.
func (e *Engine) TypingUsers() []string {
	return e.snap.Load().Typing
}

// ConnectionStatus reports the connection manager state.
func (e *Engine) ConnectionStatus() conn.State {
	return e.conn.State()
}

// HasMore reports whether older history may exist for the active room.
func (e *Engine) HasMore() bool {
	return e.snap.Load().HasMore
}

// ActiveRoom returns the active room id or "".
func (e *Engine) ActiveRoom() string {
	return e.snap.Load().Room
}

// PendingSends returns the number of sends awaiting the server's echo.
func (e *Engine) PendingSends() int {
	return e.snap.Load().Pending
}

// do runs fn on the loop and waits until its effects are published.
func (e *Engine) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	op := func() {
		fn()
		e.flush()
		close(ran)
	}
	select {
	case e.ops <- op:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// post queues fn without waiting. Used from timer and fetch goroutines.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

func (e *Engine) changed(kinds ...ChangeKind) {
	e.dirty = true
	for _, k := range kinds {
		e.queued = append(e.queued, Change{Kind: k, Room: e.active})
	}
}

func (e *Engine) report(ch Change) {
	e.dirty = true
	ch.Room = e.active
	e.queued = append(e.queued, ch)
}

// flush publishes a new snapshot before delivering hints so readers never see stale state.
func (e *Engine) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false

	snap := &Snapshot{
		Room:    e.active,
		Pending: len(e.pending),
		Loaded:  e.loaded,
	}
	if e.active != "" {
		snap.Messages = e.cache.Messages()
		snap.HasMore = e.cache.HasMore()
		snap.Typing = e.presence.Snapshot(e.active)
	}
	e.snap.Store(snap)

	for _, ch := range e.queued {
		select {
		case e.changes <- ch:
		default:
			e.log.Debug().Str("change", ch.Kind.String()).Msg("change listener behind, dropping hint")
		}
	}
	e.queued = e.queued[:0]
}
