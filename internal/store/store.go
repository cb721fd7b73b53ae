package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	Room      string
	UserID    string
	Username  string
	Body      string
	Kind      string
	Metadata  map[string]string
	ClientID  string
	Deleted   bool
	CreatedAt time.Time
}

// Cursor selects messages strictly older than (TS, ID). TS is unix milliseconds.
type Cursor struct {
	TS int64
	ID int64
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserBySessionID retrieves a guest user by session ID.
	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message of a room by ID.
	GetMessage(ctx context.Context, room string, id int64) (*Message, error)

	// DeleteMessage soft-deletes a message and blanks its body.
	DeleteMessage(ctx context.Context, room string, id int64) error

	// ListMessages returns up to limit messages of a room older than before
	// (newest page when before is nil), oldest first, and whether older
	// messages remain.
	ListMessages(ctx context.Context, room string, limit int, before *Cursor) ([]*Message, bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
