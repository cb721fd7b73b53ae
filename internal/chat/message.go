// Package chat holds the client-side domain model shared by the sync engine
// and its collaborators.
package chat

import (
	"time"

	"github.com/vovakirdan/plansync/internal/proto"
)

// Message is a server-acknowledged chat message in a room.
type Message struct {
	ID         int64
	RoomID     string
	SenderID   string
	SenderName string
	Content    string
	Kind       string
	Metadata   map[string]string
	ClientID   string
	IsDeleted  bool
	CreatedAt  time.Time
}

// Less orders messages by (CreatedAt, ID) ascending.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Cursor returns the pagination boundary that selects messages older than m.
func (m Message) Cursor() proto.Cursor {
	return proto.Cursor{TS: m.CreatedAt.UnixMilli(), ID: m.ID}
}

// FromWire converts a wire message into the domain model.
func FromWire(data proto.EventMessageData) Message {
	kind := data.Kind
	if kind == "" {
		kind = proto.KindText
	}
	msg := Message{
		ID:         data.ID,
		RoomID:     data.Room,
		SenderID:   data.UserID,
		SenderName: data.User,
		Content:    data.Content,
		Kind:       kind,
		Metadata:   data.Metadata,
		ClientID:   data.ClientID,
		IsDeleted:  data.Deleted,
		CreatedAt:  time.UnixMilli(data.TS),
	}
	if msg.IsDeleted {
		msg.Content = ""
	}
	return msg
}
