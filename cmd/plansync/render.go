package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/engine"
)

// renderer prints engine changes as lines. Messages are printed once; later
// deletions print a notice.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	room    string
	printed map[int64]bool
	deleted map[int64]bool
	typing  string

	newest    chat.Message
	hasNewest bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:     out,
		printed: make(map[int64]bool),
		deleted: make(map[int64]bool),
	}
}

func (r *renderer) render(snap engine.Snapshot, ch engine.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Room != r.room {
		r.room = snap.Room
		r.printed = make(map[int64]bool)
		r.deleted = make(map[int64]bool)
		r.typing = ""
		r.hasNewest = false
		if snap.Room != "" {
			fmt.Fprintf(r.out, "== %s ==\n", snap.Room)
		}
	}

	switch ch.Kind {
	case engine.ChangeMessages:
		r.messages(snap)
	case engine.ChangeTyping:
		typing := strings.Join(snap.Typing, ", ")
		if typing != r.typing {
			r.typing = typing
			if typing != "" {
				fmt.Fprintf(r.out, "... %s typing\n", typing)
			}
		}
	case engine.ChangeStatus:
		fmt.Fprintf(r.out, "[%s]\n", ch.Status)
	case engine.ChangeError:
		fmt.Fprintf(r.out, "! %s\n", describeError(ch.Err))
	}
}

func (r *renderer) messages(snap engine.Snapshot) {
	var older, newer []chat.Message
	for _, msg := range snap.Messages {
		if !r.printed[msg.ID] {
			r.printed[msg.ID] = true
			r.deleted[msg.ID] = msg.IsDeleted
			if r.hasNewest && chat.Less(msg, r.newest) {
				older = append(older, msg)
			} else {
				newer = append(newer, msg)
			}
			continue
		}
		if msg.IsDeleted && !r.deleted[msg.ID] {
			r.deleted[msg.ID] = true
			fmt.Fprintf(r.out, "  (message %d deleted)\n", msg.ID)
		}
	}

	if len(older) > 0 {
		fmt.Fprintf(r.out, "-- %d earlier --\n", len(older))
		r.print(older)
		if !snap.HasMore {
			fmt.Fprintln(r.out, "-- start of history --")
		}
	}
	r.print(newer)
	if n := len(snap.Messages); n > 0 {
		r.newest = snap.Messages[n-1]
		r.hasNewest = true
	}
}

func (r *renderer) print(msgs []chat.Message) {
	for _, msg := range msgs {
		fmt.Fprintln(r.out, formatMessage(msg))
	}
}

func formatMessage(msg chat.Message) string {
	ts := msg.CreatedAt.Local().Format("15:04:05")
	if msg.IsDeleted {
		return fmt.Sprintf("%s #%d %s: (deleted)", ts, msg.ID, msg.SenderName)
	}
	if msg.Kind != "" && msg.Kind != "text" {
		return fmt.Sprintf("%s #%d %s [%s]: %s", ts, msg.ID, msg.SenderName, msg.Kind, msg.Content)
	}
	return fmt.Sprintf("%s #%d %s: %s", ts, msg.ID, msg.SenderName, msg.Content)
}

func describeError(err error) string {
	var serverErr *engine.ServerError
	var lost *engine.UnconfirmedSendError
	switch {
	case err == nil:
		return "unknown error"
	case errors.As(err, &lost):
		return fmt.Sprintf("message not delivered: %q", lost.Content)
	case errors.As(err, &serverErr):
		return fmt.Sprintf("server rejected command (%s): %s", serverErr.Code, serverErr.Message)
	default:
		return err.Error()
	}
}
