package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSubscribe starts receiving a room's events.
	CommandSubscribe CommandKind = iota
	// CommandUnsubscribe stops receiving a room's events.
	CommandUnsubscribe
	// CommandSendMessage persists and broadcasts a chat message.
	CommandSendMessage
	// CommandDeleteMessage soft-deletes a message authored by the client.
	CommandDeleteMessage
	// CommandTypingStart relays a typing indicator to other subscribers.
	CommandTypingStart
	// CommandTypingStop clears the typing indicator.
	CommandTypingStop
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	Room      string
	Message   Message
	MessageID int64
}
