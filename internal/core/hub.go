package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/metrics"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/store"
)

const storeTimeout = 5 * time.Second

var errHubStopped = errors.New("hub stopped")

// HubOptions tunes a Hub. Zero values pick defaults.
type HubOptions struct {
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
	Clock   clock.Clock

	// MaxContentBytes rejects larger message bodies; 0 disables the check.
	MaxContentBytes int
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub owns room membership and fans events out to subscribers. All state is
// touched only by the Run goroutine.
type Hub struct {
	store      store.MessageStore
	metrics    *metrics.Metrics
	log        *zerolog.Logger
	clock      clock.Clock
	maxContent int

	register   chan *Client
	unregister chan *Client
	inbox      chan clientCommand
	queries    chan func()
	done       chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]*Room
	lastTS  int64
	seq     int64
}

// NewHub creates a hub persisting messages in st. A nil store keeps messages
// in flight only; ids are then assigned from a counter and deletes fail.
func NewHub(st store.MessageStore, opts HubOptions) *Hub {
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Hub{
		store:      st,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		clock:      opts.Clock,
		maxContent: opts.MaxContentBytes,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan clientCommand, 256),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
	}
}

// Run processes registrations and commands until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.ClientConnected()
			h.log.Debug().Str("client_id", c.ID).Str("user", c.Name).Msg("client registered")
			go h.forward(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case in := <-h.inbox:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			h.handle(in.client, in.cmd)
		case q := <-h.queries:
			q()
		}
	}
}

// Stats is a point-in-time view of hub occupancy.
type Stats struct {
	Clients       int `json:"clients"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
}

// Stats reads occupancy from the hub goroutine.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	q := func() {
		st := Stats{Clients: len(h.clients), Rooms: len(h.rooms)}
		for _, r := range h.rooms {
			st.Subscriptions += r.Len()
		}
		result <- st
	}
	select {
	case h.queries <- q:
	case <-h.done:
		return Stats{}, errHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	return <-result, nil
}

// RegisterClient attaches c to the hub and starts consuming its commands.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.release()
	}
}

// UnregisterClient detaches c, leaves its rooms and closes c.Events.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) forward(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.done:
				return
			}
		case <-c.done:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandSubscribe:
		h.subscribe(c, cmd.Room)
	case CommandUnsubscribe:
		h.unsubscribe(c, cmd.Room)
	case CommandSendMessage:
		h.send(c, cmd)
	case CommandDeleteMessage:
		h.deleteMessage(c, cmd)
	case CommandTypingStart, CommandTypingStop:
		h.typing(c, cmd)
	default:
		h.fail(c, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) subscribe(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
		h.metrics.SetActiveRooms(len(h.rooms))
	}
	if room.AddClient(c) {
		c.Rooms[name] = struct{}{}
		h.log.Debug().Str("client_id", c.ID).Str("room", name).Msg("subscribed")
	}
}

func (h *Hub) unsubscribe(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok || !room.RemoveClient(c) {
		return
	}
	delete(c.Rooms, name)
	h.broadcast(room, &Event{Kind: EventUserStoppedTyping, Room: name, UserID: c.UserID, User: c.Name}, nil)
	if room.Empty() {
		delete(h.rooms, name)
		h.metrics.SetActiveRooms(len(h.rooms))
	}
	h.log.Debug().Str("client_id", c.ID).Str("room", name).Msg("unsubscribed")
}

func (h *Hub) send(c *Client, cmd *Command) {
	msg := cmd.Message
	room, ok := h.rooms[cmd.Room]
	if !ok || !room.Has(c) {
		h.fail(c, &CoreError{Code: ErrCodeNotInRoom, Message: "subscribe before sending", ClientID: msg.ClientID})
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		h.fail(c, &CoreError{Code: ErrCodeBadRequest, Message: "content is required", ClientID: msg.ClientID})
		return
	}
	if h.maxContent > 0 && len(msg.Text) > h.maxContent {
		h.fail(c, &CoreError{Code: ErrCodeBadRequest, Message: "content too large", ClientID: msg.ClientID})
		return
	}
	if msg.Kind == "" {
		msg.Kind = proto.KindText
	}
	if !proto.ValidKind(msg.Kind) {
		h.fail(c, &CoreError{Code: ErrCodeBadRequest, Message: "unknown message kind", ClientID: msg.ClientID})
		return
	}

	msg.Room = cmd.Room
	msg.UserID = c.UserID
	msg.From = c.Name
	msg.CreatedAt = h.nextTimestamp()

	if h.store != nil {
		rec := &store.Message{
			Room:      msg.Room,
			UserID:    msg.UserID,
			Username:  msg.From,
			Body:      msg.Text,
			Kind:      msg.Kind,
			Metadata:  msg.Metadata,
			ClientID:  msg.ClientID,
			CreatedAt: msg.CreatedAt,
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := h.store.SaveMessage(ctx, rec)
		cancel()
		if err != nil {
			h.log.Error().Err(err).Str("room", msg.Room).Msg("failed to save message")
			h.fail(c, &CoreError{Code: ErrCodeInternal, Message: "failed to save message", ClientID: msg.ClientID})
			return
		}
		msg.ID = rec.ID
	} else {
		h.seq++
		msg.ID = h.seq
	}

	h.metrics.MessageStored(msg.Kind)
	h.broadcast(room, &Event{Kind: EventRoomMessage, Room: msg.Room, UserID: msg.UserID, User: msg.From, Message: msg}, nil)
}

func (h *Hub) deleteMessage(c *Client, cmd *Command) {
	if h.store == nil {
		h.fail(c, coreError(ErrCodeMessageNotFound, "message not found"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rec, err := h.store.GetMessage(ctx, cmd.Room, cmd.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.fail(c, coreError(ErrCodeMessageNotFound, "message not found"))
			return
		}
		h.log.Error().Err(err).Int64("message_id", cmd.MessageID).Msg("failed to load message")
		h.fail(c, coreError(ErrCodeInternal, "failed to load message"))
		return
	}
	if rec.UserID != c.UserID {
		h.fail(c, coreError(ErrCodeForbidden, "only the author can delete a message"))
		return
	}
	if !rec.Deleted {
		if err := h.store.DeleteMessage(ctx, cmd.Room, cmd.MessageID); err != nil {
			h.log.Error().Err(err).Int64("message_id", cmd.MessageID).Msg("failed to delete message")
			h.fail(c, coreError(ErrCodeInternal, "failed to delete message"))
			return
		}
		h.metrics.MessageDeleted()
	}

	if room, ok := h.rooms[cmd.Room]; ok {
		h.broadcast(room, &Event{Kind: EventMessageDeleted, Room: cmd.Room, UserID: c.UserID, User: c.Name, MessageID: cmd.MessageID}, nil)
	}
}

func (h *Hub) typing(c *Client, cmd *Command) {
	room, ok := h.rooms[cmd.Room]
	if !ok || !room.Has(c) {
		return
	}
	kind := EventUserTyping
	if cmd.Kind == CommandTypingStop {
		kind = EventUserStoppedTyping
	}
	h.broadcast(room, &Event{Kind: kind, Room: cmd.Room, UserID: c.UserID, User: c.Name}, c)
}

// drop removes c from every room and releases it.
func (h *Hub) drop(c *Client) {
	for name := range c.Rooms {
		h.unsubscribe(c, name)
	}
	delete(h.clients, c)
	h.metrics.ClientDisconnected()
	c.release()
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) broadcast(room *Room, ev *Event, skip *Client) {
	if dropped := room.Broadcast(ev, skip); dropped > 0 {
		h.metrics.EventsDropped(dropped)
		h.log.Warn().Str("room", room.Name).Int("dropped", dropped).Msg("slow subscribers dropped event")
	}
}

func (h *Hub) fail(c *Client, err *CoreError) {
	if !c.deliver(&Event{Kind: EventError, Error: err}) {
		h.metrics.EventsDropped(1)
	}
}

// nextTimestamp returns the current time truncated to milliseconds, strictly
// after the previous one so (created_at, id) order matches arrival order.
func (h *Hub) nextTimestamp() time.Time {
	ts := h.clock.Now().UnixMilli()
	if ts <= h.lastTS {
		ts = h.lastTS + 1
	}
	h.lastTS = ts
	return time.UnixMilli(ts).UTC()
}
