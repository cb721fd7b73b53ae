package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/auth"
	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/core"
	"github.com/vovakirdan/plansync/internal/metrics"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/store/sqlite"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	hub     *core.Hub
	auth    *auth.Service
	store   *sqlite.SQLiteStore
	metrics *metrics.Metrics
}

// startTestServer wires an in-memory store, a running hub and the HTTP
// router. mutate may adjust the default config before the server starts.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	m := metrics.New()
	hub := core.NewHub(st, core.HubOptions{Metrics: m, MaxContentBytes: int(cfg.MaxMessageBytes)})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	disabledLogger := zerolog.New(io.Discard)
	server := NewServer(hub, authService, st, m, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, hub: hub, auth: authService, store: st, metrics: m}
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.URL, "http", "ws", 1) + "/ws"
}

// waitSubscriptions polls hub stats until n room subscriptions exist.
func (s *testServer) waitSubscriptions(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := s.hub.Stats(context.Background())
		if err == nil && stats.Subscriptions == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscriptions", n)
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func writeInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	inbound, err := proto.NewInbound(typ, data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, inbound); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Envelope {
	t.Helper()

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return env
}

// helloAs dials and completes the handshake as an anonymous user.
func helloAs(t *testing.T, ctx context.Context, s *testServer, user string) *websocket.Conn {
	t.Helper()

	conn := dial(t, ctx, s.wsURL())
	writeInbound(t, ctx, conn, proto.InboundTypeHello, proto.HelloData{User: user, Protocol: proto.ProtocolVersion})
	env := readEnvelope(t, ctx, conn)
	if env.Type != proto.OutboundTypeEvent || env.Event != proto.EventReady {
		t.Fatalf("expected ready, got %+v", env)
	}
	return conn
}

// nextEvent skips frames until an event named name arrives.
func nextEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, name string) proto.Envelope {
	t.Helper()

	for {
		env := readEnvelope(t, ctx, conn)
		if env.Type == proto.OutboundTypeEvent && env.Event == name {
			return env
		}
	}
}

// nextError skips frames until an error envelope arrives.
func nextError(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		env := readEnvelope(t, ctx, conn)
		if env.Type == proto.OutboundTypeError {
			if env.Error == nil {
				t.Fatalf("error envelope without payload")
			}
			return env.Error
		}
	}
}

func decodeData[T any](t *testing.T, env proto.Envelope) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("unmarshal %s data: %v", env.Event, err)
	}
	return v
}
