package conn

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/proto"
)

// eventFromEnvelope maps a server envelope to an Event. ok is false for
// envelopes the listener does not care about.
func eventFromEnvelope(env proto.Envelope) (ev Event, ok bool, err error) {
	if env.Type == proto.OutboundTypeError {
		if env.Error == nil {
			return Event{}, false, nil
		}
		return Event{Kind: EventServerError, ServerError: env.Error}, true, nil
	}
	if env.Type != proto.OutboundTypeEvent {
		return Event{}, false, nil
	}

	switch env.Event {
	case proto.EventMessage:
		var data proto.EventMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, false, fmt.Errorf("unmarshal message: %w", err)
		}
		msg := chat.FromWire(data)
		return Event{Kind: EventMessage, Room: msg.RoomID, Message: msg}, true, nil
	case proto.EventMessageDeleted:
		var data proto.EventMessageDeletedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, false, fmt.Errorf("unmarshal message_deleted: %w", err)
		}
		return Event{Kind: EventMessageDeleted, Room: data.Room, MessageID: data.MessageID}, true, nil
	case proto.EventUserTyping, proto.EventUserStoppedTyping:
		var data proto.EventTypingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, false, fmt.Errorf("unmarshal %s: %w", env.Event, err)
		}
		kind := EventUserTyping
		if env.Event == proto.EventUserStoppedTyping {
			kind = EventUserStoppedTyping
		}
		return Event{Kind: kind, Room: data.Room, UserID: data.UserID, Username: data.User}, true, nil
	default:
		return Event{}, false, nil
	}
}
