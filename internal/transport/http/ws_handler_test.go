package http

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/core"
	"github.com/vovakirdan/plansync/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body struct {
		Status string     `json:"status"`
		Hub    core.Stats `json:"hub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestWebSocketHelloAndMessage(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	connA := helloAs(t, ctx, ts, "alice")
	connB := helloAs(t, ctx, ts, "bob")

	writeInbound(t, ctx, connA, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	writeInbound(t, ctx, connB, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 2)

	writeInbound(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: "general", Content: "hi there", ClientID: "c1"})

	got := decodeData[proto.EventMessageData](t, nextEvent(t, ctx, connB, proto.EventMessage))
	if got.User != "alice" || got.UserID != "anon:alice" || got.Content != "hi there" || got.Room != "general" {
		t.Fatalf("unexpected event payload: %+v", got)
	}
	if got.ID <= 0 || got.TS <= 0 || got.Kind != proto.KindText {
		t.Fatalf("server fields not assigned: %+v", got)
	}

	echo := decodeData[proto.EventMessageData](t, nextEvent(t, ctx, connA, proto.EventMessage))
	if echo.ClientID != "c1" || echo.ID != got.ID {
		t.Fatalf("sender echo mismatch: %+v", echo)
	}
}

func TestSendWithoutSubscribe(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := helloAs(t, ctx, ts, "alice")
	writeInbound(t, ctx, conn, proto.InboundTypeSend, proto.SendData{Room: "general", Content: "hello", ClientID: "c9"})

	perr := nextError(t, ctx, conn)
	if perr.Code != core.ErrCodeNotInRoom || perr.ClientID != "c9" {
		t.Fatalf("expected not_in_room for c9, got %+v", perr)
	}
}

func TestTypingRelayedToOthers(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	connA := helloAs(t, ctx, ts, "alice")
	connB := helloAs(t, ctx, ts, "bob")
	writeInbound(t, ctx, connA, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	writeInbound(t, ctx, connB, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 2)

	writeInbound(t, ctx, connA, proto.InboundTypeTypingStart, proto.RoomData{Room: "general"})
	started := decodeData[proto.EventTypingData](t, nextEvent(t, ctx, connB, proto.EventUserTyping))
	if started.User != "alice" || started.Room != "general" {
		t.Fatalf("unexpected typing payload: %+v", started)
	}

	writeInbound(t, ctx, connA, proto.InboundTypeTypingStop, proto.RoomData{Room: "general"})
	stopped := decodeData[proto.EventTypingData](t, nextEvent(t, ctx, connB, proto.EventUserStoppedTyping))
	if stopped.UserID != "anon:alice" {
		t.Fatalf("unexpected stop payload: %+v", stopped)
	}
}

func TestDeleteMessageOverWebSocket(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	connA := helloAs(t, ctx, ts, "alice")
	connB := helloAs(t, ctx, ts, "bob")
	writeInbound(t, ctx, connA, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	writeInbound(t, ctx, connB, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 2)

	writeInbound(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: "general", Content: "oops"})
	msg := decodeData[proto.EventMessageData](t, nextEvent(t, ctx, connB, proto.EventMessage))

	writeInbound(t, ctx, connB, proto.InboundTypeDelete, proto.DeleteData{Room: "general", MessageID: msg.ID})
	if perr := nextError(t, ctx, connB); perr.Code != core.ErrCodeForbidden {
		t.Fatalf("expected forbidden, got %+v", perr)
	}

	writeInbound(t, ctx, connA, proto.InboundTypeDelete, proto.DeleteData{Room: "general", MessageID: msg.ID})
	deleted := decodeData[proto.EventMessageDeletedData](t, nextEvent(t, ctx, connB, proto.EventMessageDeleted))
	if deleted.MessageID != msg.ID || deleted.Room != "general" {
		t.Fatalf("unexpected delete payload: %+v", deleted)
	}

	writeInbound(t, ctx, connA, proto.InboundTypeDelete, proto.DeleteData{Room: "general", MessageID: 9999})
	if perr := nextError(t, ctx, connA); perr.Code != core.ErrCodeMessageNotFound {
		t.Fatalf("expected message_not_found, got %+v", perr)
	}
}

func TestRateLimitedSend(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) {
		cfg.RateLimitPerMinute = 1
	})

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := helloAs(t, ctx, ts, "alice")
	writeInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 1)

	writeInbound(t, ctx, conn, proto.InboundTypeSend, proto.SendData{Room: "general", Content: "one", ClientID: "c1"})
	nextEvent(t, ctx, conn, proto.EventMessage)

	writeInbound(t, ctx, conn, proto.InboundTypeSend, proto.SendData{Room: "general", Content: "two", ClientID: "c2"})
	perr := nextError(t, ctx, conn)
	if perr.Code != core.ErrCodeRateLimited || perr.ClientID != "c2" {
		t.Fatalf("expected rate_limited for c2, got %+v", perr)
	}

	// Subscription management is not throttled.
	writeInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.RoomData{Room: "random"})
	ts.waitSubscriptions(t, 2)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "plansync_commands_rate_limited_total 1") {
		t.Fatalf("rate limit not counted:\n%s", body)
	}
}

func TestUnknownMessageTypeKeepsConnection(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := helloAs(t, ctx, ts, "alice")
	writeInbound(t, ctx, conn, "shout", proto.RoomData{Room: "general"})
	if perr := nextError(t, ctx, conn); perr.Code != errCodeInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", perr)
	}

	writeInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.RoomData{Room: ""})
	if perr := nextError(t, ctx, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", perr)
	}

	writeInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 1)
}

func TestHelloRequiredFirst(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	conn := dial(t, ctx, ts.wsURL())
	writeInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})

	env := readEnvelope(t, ctx, conn)
	if env.Type != proto.OutboundTypeError || env.Error == nil || env.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", env)
	}
}

func TestDisconnectLeavesRooms(t *testing.T) {
	ts := startTestServer(t, nil)

	ctx, closeCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCtx()

	connA := helloAs(t, ctx, ts, "alice")
	connB := helloAs(t, ctx, ts, "bob")
	writeInbound(t, ctx, connA, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	writeInbound(t, ctx, connB, proto.InboundTypeSubscribe, proto.RoomData{Room: "general"})
	ts.waitSubscriptions(t, 2)

	connA.CloseNow()

	stopped := decodeData[proto.EventTypingData](t, nextEvent(t, ctx, connB, proto.EventUserStoppedTyping))
	if stopped.User != "alice" {
		t.Fatalf("unexpected stop payload: %+v", stopped)
	}
	ts.waitSubscriptions(t, 1)
}
