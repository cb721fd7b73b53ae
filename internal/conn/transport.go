package conn

import (
	"context"

	"github.com/vovakirdan/plansync/internal/proto"
)

// Transport is one authenticated bidirectional channel to the server.
type Transport interface {
	Write(ctx context.Context, msg proto.Inbound) error
	Read(ctx context.Context) (proto.Envelope, error)
	Close() error
}

// Dialer opens and authenticates a Transport. It must return an error wrapping
// ErrAuthRejected when the server refuses the credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, credential string) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, credential string) (Transport, error) {
	return f(ctx, credential)
}
