package conn

import "errors"

var (
	// ErrNotConnected is returned by Emit when the channel is not Connected.
	ErrNotConnected = errors.New("not connected")
	// ErrSendQueueFull is returned by Emit when the writer is backed up.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrAuthRejected means the server refused the credential. It is never retried.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrHelloRejected means the server refused the handshake for a reason other
	// than the credential, such as a protocol version mismatch. It is never retried.
	ErrHelloRejected = errors.New("hello rejected")
	// ErrReconnectExhausted is the terminal error after the last reconnect attempt failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
