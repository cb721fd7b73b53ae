package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/auth"
	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/core"
	"github.com/vovakirdan/plansync/internal/metrics"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/utils"
)

const (
	helloTimeout = 10 * time.Second

	errCodeUnsupportedVersion = "unsupported_version"
)

var errHelloRejected = errors.New("hello rejected")

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub         *core.Hub
	auth        *auth.Service
	metrics     *metrics.Metrics
	jwtRequired bool
	readLimit   int64
	ratePerMin  int
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:         hub,
		auth:        authService,
		metrics:     m,
		jwtRequired: cfg.JWTRequired,
		readLimit:   cfg.MaxMessageBytes,
		ratePerMin:  cfg.RateLimitPerMinute,
		log:         logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	identity, err := h.handshake(ctx, conn)
	if err != nil {
		if !errors.Is(err, errHelloRejected) {
			h.log.Debug().Err(err).Msg("ws handshake failed")
		}
		return
	}

	client := core.NewClient(utils.NewID(), identity.UserID, identity.Username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	h.log.Info().Str("client_id", client.ID).Str("user", client.Name).Msg("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake reads the hello frame, authenticates it and answers ready.
// Rejections are reported to the peer before the connection is closed.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (auth.Identity, error) {
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(hctx, conn, &inbound); err != nil {
		return auth.Identity{}, err
	}
	if inbound.Type != proto.InboundTypeHello {
		return auth.Identity{}, h.reject(hctx, conn, websocket.StatusPolicyViolation,
			&proto.Error{Code: core.ErrCodeBadRequest, Msg: "hello required"})
	}

	var hello proto.HelloData
	if len(inbound.Data) > 0 {
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return auth.Identity{}, h.reject(hctx, conn, websocket.StatusPolicyViolation,
				&proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid hello payload"})
		}
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return auth.Identity{}, h.reject(hctx, conn, websocket.StatusProtocolError,
			&proto.Error{Code: errCodeUnsupportedVersion, Msg: "unsupported protocol version"})
	}

	identity, err := h.authenticate(hello)
	if err != nil {
		h.log.Debug().Err(err).Msg("hello authentication failed")
		return auth.Identity{}, h.reject(hctx, conn, websocket.StatusPolicyViolation,
			&proto.Error{Code: core.ErrCodeUnauthorized, Msg: "unauthorized"})
	}

	ready := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventReady,
		Data: proto.EventReadyData{
			UserID:   identity.UserID,
			User:     identity.Username,
			Protocol: proto.ProtocolVersion,
		},
	}
	if err := wsjson.Write(hctx, conn, ready); err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

func (h *WSHandler) authenticate(hello proto.HelloData) (auth.Identity, error) {
	if hello.Token != "" {
		if h.auth == nil {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return h.auth.Authenticate(hello.Token)
	}
	if h.jwtRequired {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Anonymous(hello.User), nil
}

func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, status websocket.StatusCode, perr *proto.Error) error {
	if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr}); err != nil {
		return err
	}
	conn.Close(status, perr.Msg)
	return errHelloRejected
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.ratePerMin)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if rateLimited(inbound.Type) && !allow(limiter) {
			h.metrics.CommandRateLimited()
			h.log.Debug().Str("client_id", client.ID).Str("type", inbound.Type).Msg("rate limited")
			if err := h.writeError(ctx, conn, &proto.Error{
				Code:     core.ErrCodeRateLimited,
				Msg:      "too many messages",
				ClientID: clientIDOf(inbound),
			}); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			if err := h.writeError(ctx, conn, protoErr); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, perr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
}
