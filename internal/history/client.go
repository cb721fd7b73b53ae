// Package history fetches pages of older messages from the REST API.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/vovakirdan/plansync/internal/chat"
	"github.com/vovakirdan/plansync/internal/proto"
)

// ErrUnauthorized is returned when the API rejects the bearer token.
var ErrUnauthorized = errors.New("history: unauthorized")

// StatusError is returned for any other non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("history: unexpected status %d: %s", e.Code, e.Body)
}

// Page is one slice of history, oldest first.
type Page struct {
	Messages []chat.Message
	HasMore  bool
}

// Client calls GET /api/rooms/:room/messages.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient builds a client for the API rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Fetch returns up to limit messages of roomID older than before. A nil
// cursor selects the most recent page.
func (c *Client) Fetch(ctx context.Context, roomID string, before *proto.Cursor, limit int) (Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != nil {
		cursor, err := proto.EncodeCursor(*before)
		if err != nil {
			return Page{}, fmt.Errorf("encode cursor: %w", err)
		}
		q.Set("before", cursor)
	}

	endpoint := c.baseURL + "/api/rooms/" + url.PathEscape(roomID) + "/messages"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Page{}, ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload proto.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Page{}, fmt.Errorf("decode history: %w", err)
	}

	page := Page{
		Messages: make([]chat.Message, 0, len(payload.Messages)),
		HasMore:  payload.HasMore,
	}
	for _, data := range payload.Messages {
		msg := chat.FromWire(data)
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		page.Messages = append(page.Messages, msg)
	}
	return page, nil
}
