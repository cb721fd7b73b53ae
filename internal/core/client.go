package core

import "sync"

// Client is a connected participant as seen by the core layer.
type Client struct {
	ID       string
	UserID   string
	Name     string
	Commands chan *Command
	Events   chan *Event

	// Rooms is owned by the hub goroutine.
	Rooms map[string]struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id, userID, name string) *Client {
	if userID == "" {
		userID = id
	}
	if name == "" {
		name = userID
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, 32),
		Events:   make(chan *Event, 64),
		Rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has released the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) release() {
	c.doneOnce.Do(func() { close(c.done) })
}

// deliver queues ev without blocking. It reports false when the queue is full.
func (c *Client) deliver(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
