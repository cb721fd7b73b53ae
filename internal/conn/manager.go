// Package conn owns the single persistent event channel to the server:
// connect, authenticate, reconnect with backoff and resubscribe.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/proto"
)

const (
	defaultEventBuffer = 256
	defaultSendBuffer  = 64
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options tunes a Manager. Zero values pick defaults.
type Options struct {
	Backoff        Backoff
	ConnectTimeout time.Duration
	Clock          clock.Clock
	Logger         *zerolog.Logger
	EventBuffer    int
	SendBuffer     int

	// Sleep overrides the backoff wait; defaults to a Clock timer.
	Sleep SleepFunc
}

// Manager multiplexes room subscriptions over one Transport and keeps it alive.
type Manager struct {
	dialer         Dialer
	backoff        Backoff
	connectTimeout time.Duration
	clock          clock.Clock
	sleep          SleepFunc
	log            *zerolog.Logger
	sendBuffer     int
	events         chan Event

	mu      sync.Mutex
	state   State
	rooms   map[string]struct{}
	out     chan proto.Inbound
	cancel  context.CancelFunc
	session uint64
}

// NewManager builds a Manager around dialer.
func NewManager(dialer Dialer, opts Options) *Manager {
	if opts.Backoff.MaxAttempts <= 0 && opts.Backoff.BaseDelay == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Backoff.MaxDelay <= 0 {
		opts.Backoff.MaxDelay = DefaultBackoff().MaxDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	m := &Manager{
		dialer:         dialer,
		backoff:        opts.Backoff,
		connectTimeout: opts.ConnectTimeout,
		clock:          opts.Clock,
		sleep:          opts.Sleep,
		log:            opts.Logger,
		sendBuffer:     opts.SendBuffer,
		events:         make(chan Event, opts.EventBuffer),
		rooms:          make(map[string]struct{}),
	}
	if m.sleep == nil {
		m.sleep = m.clockSleep
	}
	return m
}

// Events returns the inbound event stream. There must be exactly one reader.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rooms returns the tracked subscription set, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomsLocked()
}

// Connect starts connecting with credential in the background. It is a no-op
// unless the manager is Disconnected.
func (m *Manager) Connect(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Disconnected {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.session++
	m.state = Connecting

	go m.run(ctx, m.session, credential)
}

// Disconnect tears down the transport, forgets subscriptions and moves to
// Disconnected. Safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.session++
	m.state = Disconnected
	m.out = nil
	m.rooms = make(map[string]struct{})
	m.mu.Unlock()

	if prev != Disconnected {
		m.log.Info().Str("from", prev.String()).Msg("disconnected by caller")
		m.emitLifecycle(Event{Kind: EventDisconnected})
	}
}

// Subscribe tracks roomID and sends a subscribe command when Connected.
// Otherwise the room is subscribed on the next successful connect.
func (m *Manager) Subscribe(roomID string) {
	m.mu.Lock()
	m.rooms[roomID] = struct{}{}
	out := m.connectedOutLocked()
	m.mu.Unlock()

	if out != nil {
		m.enqueue(out, proto.InboundTypeSubscribe, proto.RoomData{Room: roomID})
	}
}

// Unsubscribe stops tracking roomID and sends an unsubscribe command when Connected.
func (m *Manager) Unsubscribe(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	out := m.connectedOutLocked()
	m.mu.Unlock()

	if out != nil {
		m.enqueue(out, proto.InboundTypeUnsubscribe, proto.RoomData{Room: roomID})
	}
}

// Emit queues a fire-and-forget command. It fails fast with ErrNotConnected
// instead of buffering commands for a later connection.
func (m *Manager) Emit(cmd proto.Inbound) error {
	m.mu.Lock()
	out := m.connectedOutLocked()
	state := m.state
	m.mu.Unlock()

	if out == nil {
		m.log.Debug().Str("type", cmd.Type).Str("state", state.String()).Msg("dropping command while not connected")
		return ErrNotConnected
	}
	select {
	case out <- cmd:
		return nil
	default:
		m.log.Warn().Str("type", cmd.Type).Msg("send queue full")
		return ErrSendQueueFull
	}
}

func (m *Manager) run(ctx context.Context, session uint64, credential string) {
	t, err := m.dial(ctx, credential)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn().Err(err).Msg("connect failed")
			m.fail(session, err)
		}
		return
	}

	reconnected := false
	for {
		out, rooms, ok := m.attach(session)
		if !ok {
			_ = t.Close()
			return
		}
		m.log.Info().Bool("reconnected", reconnected).Strs("rooms", rooms).Msg("connected")
		m.emitLifecycle(Event{Kind: EventConnected, Rooms: rooms, Reconnected: reconnected})

		err := m.pump(ctx, t, out, rooms)
		_ = t.Close()
		if ctx.Err() != nil {
			return
		}

		if !m.transition(session, Reconnecting) {
			return
		}
		m.log.Warn().Err(err).Msg("transport lost, reconnecting")
		m.emitLifecycle(Event{Kind: EventReconnecting, Err: err})

		t, err = m.reconnect(ctx, credential)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Error().Err(err).Msg("giving up")
				m.fail(session, err)
			}
			return
		}
		reconnected = true
	}
}

func (m *Manager) dial(ctx context.Context, credential string) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	return m.dialer.Dial(dialCtx, credential)
}

func (m *Manager) reconnect(ctx context.Context, credential string) (Transport, error) {
	var lastErr error
	for attempt := 0; attempt < m.backoff.MaxAttempts; attempt++ {
		delay := m.backoff.Delay(attempt)
		m.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnect scheduled")
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}

		t, err := m.dial(ctx, credential)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrHelloRejected) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect attempt failed")
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.backoff.MaxAttempts, lastErr)
}

// pump runs the reader and writer until either fails or ctx is done.
// Tracked rooms are resubscribed before any queued command is written.
func (m *Manager) pump(ctx context.Context, t Transport, out <-chan proto.Inbound, rooms []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- m.readLoop(ctx, t)
	}()
	go func() {
		errCh <- m.writeLoop(ctx, t, out, rooms)
	}()

	err := <-errCh
	cancel()
	_ = t.Close()
	<-errCh
	return err
}

func (m *Manager) readLoop(ctx context.Context, t Transport) error {
	for {
		env, err := t.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, ok, err := eventFromEnvelope(env)
		if err != nil {
			m.log.Warn().Err(err).Msg("failed to map inbound")
			continue
		}
		if !ok {
			continue
		}
		select {
		case m.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, t Transport, out <-chan proto.Inbound, rooms []string) error {
	for _, room := range rooms {
		cmd, err := proto.NewInbound(proto.InboundTypeSubscribe, proto.RoomData{Room: room})
		if err != nil {
			return err
		}
		if err := t.Write(ctx, cmd); err != nil {
			return fmt.Errorf("resubscribe %s: %w", room, err)
		}
	}
	for {
		select {
		case cmd := <-out:
			if err := t.Write(ctx, cmd); err != nil {
				return fmt.Errorf("write %s: %w", cmd.Type, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attach marks the session Connected and hands out a fresh writer queue.
func (m *Manager) attach(session uint64) (chan proto.Inbound, []string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != session {
		return nil, nil, false
	}
	m.state = Connected
	m.out = make(chan proto.Inbound, m.sendBuffer)
	return m.out, m.roomsLocked(), true
}

func (m *Manager) transition(session uint64, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != session {
		return false
	}
	m.state = to
	m.out = nil
	return true
}

// fail ends the session. Tracked rooms survive so a later Connect resubscribes them.
func (m *Manager) fail(session uint64, err error) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = Disconnected
	m.out = nil
	m.mu.Unlock()

	kind := EventDisconnected
	if errors.Is(err, ErrAuthRejected) {
		kind = EventAuthFailed
	}
	m.emitLifecycle(Event{Kind: kind, Err: err})
}

func (m *Manager) connectedOutLocked() chan proto.Inbound {
	if m.state != Connected {
		return nil
	}
	return m.out
}

func (m *Manager) roomsLocked() []string {
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (m *Manager) enqueue(out chan proto.Inbound, typ string, data any) {
	cmd, err := proto.NewInbound(typ, data)
	if err != nil {
		m.log.Error().Err(err).Str("type", typ).Msg("marshal command")
		return
	}
	select {
	case out <- cmd:
	default:
		m.log.Warn().Str("type", typ).Msg("send queue full")
	}
}

// emitLifecycle never blocks: a listener that stopped reading must not wedge
// the connection goroutines.
func (m *Manager) emitLifecycle(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn().Str("event", ev.Kind.String()).Msg("event buffer full, dropping lifecycle event")
	}
}

func (m *Manager) clockSleep(ctx context.Context, d time.Duration) error {
	t := m.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
