package proto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor marks the oldest message a client already holds. History pages
// return messages strictly older than (TS, ID).
type Cursor struct {
	TS int64 `json:"ts"`
	ID int64 `json:"id"`
}

// EncodeCursor returns the opaque query form of c.
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c, nil
}
