package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/plansync/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMessages(t *testing.T, s *SQLiteStore, room string, stamps ...int64) []*store.Message {
	t.Helper()

	out := make([]*store.Message, 0, len(stamps))
	for _, ts := range stamps {
		msg := &store.Message{
			Room:      room,
			UserID:    "1",
			Username:  "alice",
			Body:      "hello",
			Kind:      "text",
			CreatedAt: time.UnixMilli(ts),
		}
		if err := s.SaveMessage(context.Background(), msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != alice.ID || got.IsGuest {
		t.Fatalf("unexpected user %+v err=%v", got, err)
	}

	guest, err := s.CreateGuestUser(ctx, "0123456789abcdef")
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	if guest.Username != "guest_01234567" || !guest.IsGuest {
		t.Fatalf("unexpected guest %+v", guest)
	}
	if _, err := s.GetUserByUsername(ctx, guest.Username); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("guests must not be found by username, got %v", err)
	}
	bySession, err := s.GetUserBySessionID(ctx, "0123456789abcdef")
	if err != nil || bySession.ID != guest.ID {
		t.Fatalf("unexpected guest lookup %+v err=%v", bySession, err)
	}

	if _, err := s.GetUserByID(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessagesPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two messages share a timestamp to exercise the id tie-break.
	seeded := seedMessages(t, s, "plan-1", 1000, 2000, 2000, 3000, 4000)
	seedMessages(t, s, "plan-2", 1500)

	page, hasMore, err := s.ListMessages(ctx, "plan-1", 2, nil)
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if !hasMore || len(page) != 2 || page[0].ID != seeded[3].ID || page[1].ID != seeded[4].ID {
		t.Fatalf("unexpected newest page: hasMore=%v %v", hasMore, messageIDs(page))
	}

	cursor := &store.Cursor{TS: page[0].CreatedAt.UnixMilli(), ID: page[0].ID}
	page, hasMore, err = s.ListMessages(ctx, "plan-1", 2, cursor)
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if !hasMore || len(page) != 2 || page[0].ID != seeded[1].ID || page[1].ID != seeded[2].ID {
		t.Fatalf("unexpected second page: hasMore=%v %v", hasMore, messageIDs(page))
	}

	cursor = &store.Cursor{TS: page[0].CreatedAt.UnixMilli(), ID: page[0].ID}
	page, hasMore, err = s.ListMessages(ctx, "plan-1", 2, cursor)
	if err != nil {
		t.Fatalf("list oldest: %v", err)
	}
	if hasMore || len(page) != 1 || page[0].ID != seeded[0].ID {
		t.Fatalf("unexpected last page: hasMore=%v %v", hasMore, messageIDs(page))
	}

	if _, _, err := s.ListMessages(ctx, "plan-1", 0, nil); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestMessageRoundTripAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &store.Message{
		Room:      "plan-1",
		UserID:    "7",
		Username:  "bob",
		Body:      "meet here",
		Kind:      "location",
		Metadata:  map[string]string{"lat": "52.1", "lng": "4.3"},
		ClientID:  "c-1",
		CreatedAt: time.UnixMilli(1234),
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetMessage(ctx, "plan-1", msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["lat"] != "52.1" || got.ClientID != "c-1" || got.Kind != "location" || got.CreatedAt.UnixMilli() != 1234 {
		t.Fatalf("unexpected message: %+v", got)
	}
	if _, err := s.GetMessage(ctx, "plan-2", msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("message must be scoped to its room, got %v", err)
	}

	if err := s.DeleteMessage(ctx, "plan-1", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.GetMessage(ctx, "plan-1", msg.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	if !got.Deleted || got.Body != "" {
		t.Fatalf("expected soft delete, got %+v", got)
	}
	if err := s.DeleteMessage(ctx, "plan-1", 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func messageIDs(msgs []*store.Message) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
