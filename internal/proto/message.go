package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello       = "hello"
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"
	InboundTypeSend        = "send"
	InboundTypeDelete      = "delete"
	InboundTypeTypingStart = "typing_start"
	InboundTypeTypingStop  = "typing_stop"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady             = "ready"
	EventMessage           = "message"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
)

// Message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindLocation = "location"
	KindSystem   = "system"
)

// ValidKind reports whether kind is one of the known message kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindVideo, KindLocation, KindSystem:
		return true
	default:
		return false
	}
}

// HelloData is sent by the client to authenticate the channel.
type HelloData struct {
	User     string `json:"user,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// RoomData names a room for subscribe/unsubscribe/typing commands.
type RoomData struct {
	Room string `json:"room"`
}

// SendData is a chat message from the client.
type SendData struct {
	Room     string            `json:"room"`
	Content  string            `json:"content"`
	Kind     string            `json:"kind,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
}

// DeleteData asks the server to soft-delete a message.
type DeleteData struct {
	Room      string `json:"room"`
	MessageID int64  `json:"message_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Envelope is the receive-side view of Outbound with the payload left undecoded.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// EventReadyData acknowledges a successful hello.
type EventReadyData struct {
	UserID   string `json:"user_id"`
	User     string `json:"user"`
	Protocol int    `json:"protocol"`
}

// EventMessageData is a message as seen on the wire. TS is unix milliseconds.
type EventMessageData struct {
	ID       int64             `json:"id"`
	Room     string            `json:"room"`
	UserID   string            `json:"user_id"`
	User     string            `json:"user"`
	Content  string            `json:"content"`
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
	TS       int64             `json:"ts"`
}

// EventMessageDeletedData notifies that a message was soft-deleted.
type EventMessageDeletedData struct {
	Room      string `json:"room"`
	MessageID int64  `json:"message_id"`
}

// EventTypingData notifies typing start/stop.
type EventTypingData struct {
	Room   string `json:"room"`
	UserID string `json:"user_id"`
	User   string `json:"user,omitempty"`
}

// HistoryResponse is the body of the paginated history endpoint, oldest first.
type HistoryResponse struct {
	Messages []EventMessageData `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code     string `json:"code"`
	Msg      string `json:"msg"`
	ClientID string `json:"client_id,omitempty"`
}

// NewInbound marshals data into an inbound envelope of the given type.
func NewInbound(typ string, data any) (Inbound, error) {
	if data == nil {
		return Inbound{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: typ, Data: raw}, nil
}
