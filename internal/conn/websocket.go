package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/plansync/internal/proto"
)

// WSDialer dials the server's websocket endpoint and performs the hello handshake.
type WSDialer struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
	ReadLimit  int64
	Protocol   int

	// User is the display name sent with an empty credential, for servers
	// that accept anonymous clients.
	User string
}

// Dial connects to URL and authenticates with credential.
func (d *WSDialer) Dial(ctx context.Context, credential string) (Transport, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}

	protocol := d.Protocol
	if protocol == 0 {
		protocol = proto.ProtocolVersion
	}
	hello, err := proto.NewInbound(proto.InboundTypeHello, proto.HelloData{Token: credential, User: d.User, Protocol: protocol})
	if err != nil {
		c.Close(websocket.StatusInternalError, "marshal hello")
		return nil, fmt.Errorf("marshal hello: %w", err)
	}
	if err := wsjson.Write(ctx, c, hello); err != nil {
		c.Close(websocket.StatusInternalError, "write hello")
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var reply proto.Envelope
	if err := wsjson.Read(ctx, c, &reply); err != nil {
		c.Close(websocket.StatusInternalError, "read ready")
		switch websocket.CloseStatus(err) {
		case websocket.StatusPolicyViolation:
			return nil, fmt.Errorf("%w: connection closed during hello", ErrAuthRejected)
		case websocket.StatusProtocolError:
			return nil, fmt.Errorf("%w: connection closed during hello", ErrHelloRejected)
		}
		return nil, fmt.Errorf("read ready: %w", err)
	}

	if reply.Type == proto.OutboundTypeError {
		c.Close(websocket.StatusNormalClosure, "hello rejected")
		if reply.Error != nil && reply.Error.Code == "unauthorized" {
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, reply.Error.Msg)
		}
		if reply.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrHelloRejected, reply.Error.Code, reply.Error.Msg)
		}
		return nil, ErrHelloRejected
	}
	if reply.Type != proto.OutboundTypeEvent || reply.Event != proto.EventReady {
		c.Close(websocket.StatusProtocolError, "expected ready")
		return nil, fmt.Errorf("unexpected hello reply: type=%s event=%s", reply.Type, reply.Event)
	}

	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, msg proto.Inbound) error {
	return wsjson.Write(ctx, t.conn, msg)
}

func (t *wsTransport) Read(ctx context.Context) (proto.Envelope, error) {
	var env proto.Envelope
	err := wsjson.Read(ctx, t.conn, &env)
	return env, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
