package core

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID        int64
	Room      string
	UserID    string
	From      string
	Text      string
	Kind      string
	Metadata  map[string]string
	ClientID  string
	Deleted   bool
	CreatedAt time.Time
}
