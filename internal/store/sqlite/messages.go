package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/plansync/internal/store"
)

const messageColumns = `id, room, user_id, username, body, kind, COALESCE(metadata, ''), COALESCE(client_id, ''), deleted, created_at`

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	var metadata any
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	var clientID any
	if msg.ClientID != "" {
		clientID = msg.ClientID
	}

	query := `
		INSERT INTO messages (room, user_id, username, body, kind, metadata, client_id, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.Room, msg.UserID, msg.Username, msg.Body, msg.Kind, metadata, clientID, msg.Deleted, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves a message of room by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, room string, id int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room = ? AND id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, room, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. Deleting twice is not an error.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, room string, id int64) error {
	query := `UPDATE messages SET deleted = 1, body = '' WHERE room = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, room, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListMessages retrieves a page of messages of room, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, room string, limit int, before *store.Cursor) ([]*store.Message, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be positive")
	}

	var query string
	var args []any

	// One extra row tells whether older messages remain.
	if before != nil {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room = ? AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		args = []any{room, before.TS, before.TS, before.ID, limit + 1}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		args = []any{room, limit + 1}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, hasMore, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		metadata  string
		createdAt int64
	)
	if err := row.Scan(
		&msg.ID,
		&msg.Room,
		&msg.UserID,
		&msg.Username,
		&msg.Body,
		&msg.Kind,
		&metadata,
		&msg.ClientID,
		&msg.Deleted,
		&createdAt,
	); err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}
