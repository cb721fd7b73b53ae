package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveRoom is returned by room-scoped commands before JoinRoom.
	ErrNoActiveRoom = errors.New("no active room")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("engine stopped")
	// ErrSendUnconfirmed is reported for sends the server never acknowledged across a reconnect.
	ErrSendUnconfirmed = errors.New("send not confirmed by server")
)

// ServerError is a protocol error the server returned for one of our commands.
type ServerError struct {
	Code     string
	Message  string
	ClientID string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UnconfirmedSendError carries the correlation id of a send that was lost.
type UnconfirmedSendError struct {
	ClientID string
	Content  string
}

func (e *UnconfirmedSendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.ClientID, ErrSendUnconfirmed)
}

func (e *UnconfirmedSendError) Unwrap() error { return ErrSendUnconfirmed }
