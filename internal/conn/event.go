package conn

import (
	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/proto"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventMessage delivers a new message.
	EventMessage EventKind = iota
	// EventMessageDeleted reports a soft-deleted message.
	EventMessageDeleted
	// EventUserTyping reports a participant started typing.
	EventUserTyping
	// EventUserStoppedTyping reports a participant stopped typing.
	EventUserStoppedTyping
	// EventServerError relays a protocol error returned by the server.
	EventServerError

	// EventConnected fires on every successful (re)connect, after resubscribing.
	EventConnected
	// EventReconnecting fires when the transport dropped and backoff started.
	EventReconnecting
	// EventDisconnected fires on manual disconnect, failed connect or exhausted retries.
	EventDisconnected
	// EventAuthFailed fires when the server rejected the credential.
	EventAuthFailed
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventMessageDeleted:
		return "message_deleted"
	case EventUserTyping:
		return "user_typing"
	case EventUserStoppedTyping:
		return "user_stopped_typing"
	case EventServerError:
		return "server_error"
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventDisconnected:
		return "disconnected"
	case EventAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the single registered listener.
type Event struct {
	Kind EventKind

	Room      string
	UserID    string
	Username  string
	MessageID int64
	Message   chat.Message

	// Rooms is the tracked subscription set at the time of EventConnected.
	Rooms       []string
	Reconnected bool

	ServerError *proto.Error
	Err         error
}
