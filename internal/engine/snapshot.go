package engine

import (
	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/conn"
)

// ChangeKind tells the UI which part of the snapshot to re-render.
type ChangeKind int

const (
	ChangeMessages ChangeKind = iota
	ChangeTyping
	ChangeStatus
	ChangeError
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessages:
		return "messages"
	case ChangeTyping:
		return "typing"
	case ChangeStatus:
		return "status"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Change is a re-render hint. The snapshot is already published when it is delivered.
type Change struct {
	Kind ChangeKind
	Room string
	// Status is set for ChangeStatus.
	Status conn.State
	// Err is set for ChangeError.
	Err error
}

// Snapshot is an immutable view of the engine state. Callers must not modify its slices.
type Snapshot struct {
	Room     string
	Messages []chat.Message
	HasMore  bool
	Loaded   bool
	Typing   []string
	Pending  int
}
