package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/history"
	"github.com/vovakirdan/plansync/internal/proto"
)

// JoinRoom makes roomID the active room, subscribes to it and loads its latest page.
// Joining the active room again is a no-op.
func (e *Engine) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}
	return e.do(ctx, func() {
		if e.active == roomID {
			return
		}
		if e.active != "" {
			e.conn.Unsubscribe(e.active)
		}
		e.reset(roomID)
		e.cache.Replace(roomID, nil)
		e.conn.Subscribe(roomID)
		e.log.Info().Str("room", roomID).Uint64("gen", e.gen).Msg("joined room")
		e.fetchLatest(false)
		e.changed(ChangeMessages, ChangeTyping)
	})
}

// LeaveRoom drops roomID if it is the active room.
func (e *Engine) LeaveRoom(ctx context.Context, roomID string) error {
	return e.do(ctx, func() {
		if e.active == "" || e.active != roomID {
			return
		}
		e.conn.Unsubscribe(roomID)
		e.reset("")
		e.cache.Clear()
		e.log.Info().Str("room", roomID).Msg("left room")
		e.changed(ChangeMessages, ChangeTyping)
	})
}

// Refresh reloads the newest page of the active room, e.g. after the initial load failed.
func (e *Engine) Refresh(ctx context.Context) error {
	var (
		room string
		gen  uint64
	)
	if err := e.do(ctx, func() {
		room, gen = e.active, e.gen
	}); err != nil {
		return err
	}
	if room == "" {
		return ErrNoActiveRoom
	}

	page, err := e.fetch(ctx, room, nil)
	if applyErr := e.do(context.Background(), func() {
		e.applyLatest(room, gen, page, err, false, 0)
	}); applyErr != nil {
		return applyErr
	}
	return err
}

// FetchOlder loads the page before the oldest cached message and blocks until it
// is merged. It does nothing when no room is active, the first page has not
// arrived, a fetch is already running or the server reported no more history.
func (e *Engine) FetchOlder(ctx context.Context) error {
	var (
		room   string
		gen    uint64
		cursor proto.Cursor
		start  bool
	)
	if err := e.do(ctx, func() {
		if e.active == "" || !e.loaded || e.fetchingOlder || !e.cache.HasMore() {
			return
		}
		oldest, ok := e.cache.Oldest()
		if !ok {
			return
		}
		e.fetchingOlder = true
		room, gen, cursor, start = e.active, e.gen, oldest.Cursor(), true
	}); err != nil || !start {
		return err
	}

	page, err := e.fetch(ctx, room, &cursor)
	stale := false
	if applyErr := e.do(context.Background(), func() {
		if e.active != room || e.gen != gen {
			stale = true
			e.staleResults++
			return
		}
		e.fetchingOlder = false
		if err != nil {
			e.log.Warn().Err(err).Str("room", room).Msg("fetch older failed")
			return
		}
		if added := e.cache.MergeOlder(page.Messages, page.HasMore); added > 0 || !page.HasMore {
			e.changed(ChangeMessages)
		}
	}); applyErr != nil {
		return applyErr
	}
	if stale {
		return nil
	}
	return err
}

// Send posts a text message to the active room.
func (e *Engine) Send(ctx context.Context, content string) error {
	return e.SendKind(ctx, proto.KindText, content, nil)
}

// SendKind posts a message of the given kind. Blank content sends nothing.
// The message shows up only once the server broadcasts it back.
func (e *Engine) SendKind(ctx context.Context, kind, content string, metadata map[string]string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if kind == "" {
		kind = proto.KindText
	}
	if !proto.ValidKind(kind) {
		return fmt.Errorf("unknown message kind %q", kind)
	}

	var sendErr error
	if err := e.do(ctx, func() {
		if e.active == "" {
			sendErr = ErrNoActiveRoom
			return
		}
		clientID := e.newID()
		cmd, err := proto.NewInbound(proto.InboundTypeSend, proto.SendData{
			Room:     e.active,
			Content:  content,
			Kind:     kind,
			Metadata: metadata,
			ClientID: clientID,
		})
		if err != nil {
			sendErr = err
			return
		}
		if err := e.conn.Emit(cmd); err != nil {
			sendErr = fmt.Errorf("send: %w", err)
			return
		}
		e.sendSeq++
		e.pending[clientID] = pendingSend{room: e.active, content: content, seq: e.sendSeq}
		e.dirty = true
	}); err != nil {
		return err
	}
	return sendErr
}

// Delete asks the server to delete a message in the active room.
func (e *Engine) Delete(ctx context.Context, messageID int64) error {
	return e.emitRoom(ctx, proto.InboundTypeDelete, func(room string) any {
		return proto.DeleteData{Room: room, MessageID: messageID}
	})
}

// StartTyping tells the active room we are typing.
func (e *Engine) StartTyping(ctx context.Context) error {
	return e.emitRoom(ctx, proto.InboundTypeTypingStart, func(room string) any {
		return proto.RoomData{Room: room}
	})
}

// StopTyping tells the active room we stopped typing.
func (e *Engine) StopTyping(ctx context.Context) error {
	return e.emitRoom(ctx, proto.InboundTypeTypingStop, func(room string) any {
		return proto.RoomData{Room: room}
	})
}

func (e *Engine) emitRoom(ctx context.Context, typ string, payload func(room string) any) error {
	var emitErr error
	if err := e.do(ctx, func() {
		if e.active == "" {
			emitErr = ErrNoActiveRoom
			return
		}
		cmd, err := proto.NewInbound(typ, payload(e.active))
		if err != nil {
			emitErr = err
			return
		}
		if err := e.conn.Emit(cmd); err != nil {
			emitErr = fmt.Errorf("%s: %w", typ, err)
		}
	}); err != nil {
		return err
	}
	return emitErr
}

// reset moves the engine to a new generation for roomID ("" for none).
func (e *Engine) reset(roomID string) {
	e.active = roomID
	e.gen++
	e.loaded = false
	e.fetchingOlder = false
	e.pending = make(map[string]pendingSend)
	e.presence.SetActive(roomID)
}

func (e *Engine) fetch(ctx context.Context, room string, before *proto.Cursor) (history.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	return e.history.Fetch(ctx, room, before, e.pageSize)
}

// fetchLatest loads the newest page in the background. heal marks a refetch
// after a connect; sends issued up to now are settled against the result.
func (e *Engine) fetchLatest(heal bool) {
	room, gen, mark := e.active, e.gen, e.sendSeq
	go func() {
		page, err := e.fetch(context.Background(), room, nil)
		e.post(func() {
			e.applyLatest(room, gen, page, err, heal, mark)
		})
	}()
}

func (e *Engine) applyLatest(room string, gen uint64, page history.Page, err error, heal bool, mark uint64) {
	if e.active != room || e.gen != gen {
		e.staleResults++
		e.log.Debug().Str("room", room).Uint64("gen", gen).Msg("discarding stale history page")
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Str("room", room).Msg("history fetch failed")
		e.report(Change{Kind: ChangeError, Err: fmt.Errorf("load history: %w", err)})
		return
	}

	switch {
	case !e.loaded:
		e.cache.MergeOlder(page.Messages, page.HasMore)
		e.loaded = true
	case page.HasMore && e.detached(page.Messages):
		// The gap is wider than a page; older cached messages can no longer be
		// shown contiguously.
		e.cache.Replace(room, page.Messages)
	default:
		e.cache.MergeLatest(page.Messages)
	}
	if heal {
		e.settlePending(page.Messages, mark)
	}
	e.changed(ChangeMessages)
}

// detached reports whether page starts after the newest cached message.
func (e *Engine) detached(page []chat.Message) bool {
	newest, ok := e.cache.Newest()
	if !ok || len(page) == 0 {
		return false
	}
	return chat.Less(newest, page[0])
}

// settlePending resolves sends that made it into page and reports the rest
// issued before mark as unconfirmed.
func (e *Engine) settlePending(page []chat.Message, mark uint64) {
	for _, m := range page {
		if m.ClientID != "" {
			delete(e.pending, m.ClientID)
		}
	}
	for id, p := range e.pending {
		if p.seq > mark {
			continue
		}
		delete(e.pending, id)
		e.log.Warn().Str("client_id", id).Str("room", p.room).Msg("send lost across reconnect")
		e.report(Change{Kind: ChangeError, Err: &UnconfirmedSendError{ClientID: id, Content: p.content}})
	}
}
