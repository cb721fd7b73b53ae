package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies subscribers about a new message.
	EventRoomMessage EventKind = iota
	// EventMessageDeleted notifies subscribers that a message was deleted.
	EventMessageDeleted
	// EventUserTyping notifies subscribers that someone is typing.
	EventUserTyping
	// EventUserStoppedTyping notifies subscribers that someone stopped typing.
	EventUserStoppedTyping
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Room      string
	UserID    string
	User      string
	Message   Message
	MessageID int64
	Error     *CoreError
}
