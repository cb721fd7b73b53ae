package http

import (
	"encoding/json"
	"strings"

	"github.com/vovakirdan/plansync/internal/core"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/store"
)

const errCodeInvalidMessage = "invalid_message"

func badRequest(msg, clientID string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg, ClientID: clientID}
}

// inboundToCommand maps a client frame to a hub command. A non-nil proto.Error
// is reported back to the client and the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeSubscribe, proto.InboundTypeUnsubscribe,
		proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		var data proto.RoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload", "")
		}
		if strings.TrimSpace(data.Room) == "" {
			return nil, badRequest("room is required", "")
		}
		return &core.Command{Kind: roomCommandKind(inbound.Type), Room: data.Room}, nil
	case proto.InboundTypeSend:
		var data proto.SendData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload", "")
		}
		if strings.TrimSpace(data.Room) == "" {
			return nil, badRequest("room is required", data.ClientID)
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			Room: data.Room,
			Message: core.Message{
				// ID and CreatedAt are assigned by the hub.
				Room:     data.Room,
				Text:     data.Content,
				Kind:     data.Kind,
				Metadata: data.Metadata,
				ClientID: data.ClientID,
			},
		}, nil
	case proto.InboundTypeDelete:
		var data proto.DeleteData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload", "")
		}
		if strings.TrimSpace(data.Room) == "" || data.MessageID <= 0 {
			return nil, badRequest("room and message_id are required", "")
		}
		return &core.Command{Kind: core.CommandDeleteMessage, Room: data.Room, MessageID: data.MessageID}, nil
	case proto.InboundTypeHello:
		return nil, badRequest("already authenticated", "")
	default:
		return nil, &proto.Error{Code: errCodeInvalidMessage, Msg: "unknown message type"}
	}
}

func roomCommandKind(typ string) core.CommandKind {
	switch typ {
	case proto.InboundTypeUnsubscribe:
		return core.CommandUnsubscribe
	case proto.InboundTypeTypingStart:
		return core.CommandTypingStart
	case proto.InboundTypeTypingStop:
		return core.CommandTypingStop
	default:
		return core.CommandSubscribe
	}
}

// rateLimited reports whether the frame counts against the per-connection
// limiter. Subscription management is never throttled.
func rateLimited(typ string) bool {
	switch typ {
	case proto.InboundTypeSend, proto.InboundTypeDelete, proto.InboundTypeTypingStart:
		return true
	default:
		return false
	}
}

func clientIDOf(inbound proto.Inbound) string {
	if inbound.Type != proto.InboundTypeSend {
		return ""
	}
	var data proto.SendData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return ""
	}
	return data.ClientID
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventRoomMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessage,
			Data:  messageToWire(event.Message),
		}
	case core.EventMessageDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageDeleted,
			Data:  proto.EventMessageDeletedData{Room: event.Room, MessageID: event.MessageID},
		}
	case core.EventUserTyping, core.EventUserStoppedTyping:
		name := proto.EventUserTyping
		if event.Kind == core.EventUserStoppedTyping {
			name = proto.EventUserStoppedTyping
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data:  proto.EventTypingData{Room: event.Room, UserID: event.UserID, User: event.User},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message, ClientID: event.Error.ClientID},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func messageToWire(msg core.Message) proto.EventMessageData {
	return proto.EventMessageData{
		ID:       msg.ID,
		Room:     msg.Room,
		UserID:   msg.UserID,
		User:     msg.From,
		Content:  msg.Text,
		Kind:     msg.Kind,
		Metadata: msg.Metadata,
		ClientID: msg.ClientID,
		Deleted:  msg.Deleted,
		TS:       msg.CreatedAt.UnixMilli(),
	}
}

func storedToWire(msg *store.Message) proto.EventMessageData {
	return proto.EventMessageData{
		ID:       msg.ID,
		Room:     msg.Room,
		UserID:   msg.UserID,
		User:     msg.Username,
		Content:  msg.Body,
		Kind:     msg.Kind,
		Metadata: msg.Metadata,
		ClientID: msg.ClientID,
		Deleted:  msg.Deleted,
		TS:       msg.CreatedAt.UnixMilli(),
	}
}
