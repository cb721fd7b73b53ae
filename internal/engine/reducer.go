package engine

import (
	"github.com/vovakirdan/plansync/internal/conn"
)

// handle applies one inbound event. Runs on the loop.
func (e *Engine) handle(ev conn.Event) {
	switch ev.Kind {
	case conn.EventMessage:
		if ev.Message.ClientID != "" {
			if _, ok := e.pending[ev.Message.ClientID]; ok {
				delete(e.pending, ev.Message.ClientID)
				e.dirty = true
			}
		}
		if ev.Room != e.active || e.active == "" {
			return
		}
		if e.cache.MergeNewer(ev.Message) {
			e.changed(ChangeMessages)
		}

	case conn.EventMessageDeleted:
		if ev.Room != e.active || e.active == "" {
			return
		}
		if e.cache.MarkDeleted(ev.MessageID) {
			e.changed(ChangeMessages)
		}

	case conn.EventUserTyping:
		if e.presence.Started(ev.Room, ev.UserID, ev.Username) {
			e.changed(ChangeTyping)
		}

	case conn.EventUserStoppedTyping:
		if e.presence.Stopped(ev.Room, ev.UserID) {
			e.changed(ChangeTyping)
		}

	case conn.EventServerError:
		serr := &ServerError{}
		if ev.ServerError != nil {
			serr.Code = ev.ServerError.Code
			serr.Message = ev.ServerError.Msg
			serr.ClientID = ev.ServerError.ClientID
		}
		if serr.ClientID != "" {
			delete(e.pending, serr.ClientID)
		}
		e.log.Warn().Str("code", serr.Code).Str("client_id", serr.ClientID).Msg(serr.Message)
		e.report(Change{Kind: ChangeError, Err: serr})

	case conn.EventConnected:
		e.presence.Clear()
		e.report(Change{Kind: ChangeStatus, Status: conn.Connected})
		e.changed(ChangeTyping)
		// A page held or in flight may predate the live subscription.
		if e.active != "" {
			e.log.Info().Str("room", e.active).Bool("reconnected", ev.Reconnected).Msg("connected, refetching latest page")
			e.fetchLatest(true)
		}

	case conn.EventReconnecting:
		e.presence.Clear()
		e.report(Change{Kind: ChangeStatus, Status: conn.Reconnecting, Err: ev.Err})
		e.changed(ChangeTyping)

	case conn.EventDisconnected, conn.EventAuthFailed:
		e.presence.Clear()
		e.report(Change{Kind: ChangeStatus, Status: conn.Disconnected, Err: ev.Err})
		e.changed(ChangeTyping)
		if ev.Err != nil {
			e.report(Change{Kind: ChangeError, Err: ev.Err})
		}
	}
}
