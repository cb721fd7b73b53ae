package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/metrics"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/store"
)

const defaultHistoryLimit = 50

// HistoryHandler serves paginated room history.
type HistoryHandler struct {
	messages store.MessageStore
	metrics  *metrics.Metrics
	maxLimit int
	log      *zerolog.Logger
}

// NewHistoryHandler creates a history handler. maxLimit caps the page size.
func NewHistoryHandler(messages store.MessageStore, m *metrics.Metrics, maxLimit int, logger *zerolog.Logger) *HistoryHandler {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &HistoryHandler{messages: messages, metrics: m, maxLimit: maxLimit, log: logger}
}

// List returns messages older than the optional cursor, oldest first.
// GET /api/rooms/:room/messages?limit=&before=
func (h *HistoryHandler) List(c *gin.Context) {
	room := strings.TrimSpace(c.Param("room"))
	if room == "" {
		h.reject(c, http.StatusBadRequest, "room is required")
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.reject(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	var before *store.Cursor
	if raw := c.Query("before"); raw != "" {
		cursor, err := proto.DecodeCursor(raw)
		if err != nil {
			h.log.Debug().Err(err).Str("room", room).Msg("invalid history cursor")
			h.reject(c, http.StatusBadRequest, "invalid cursor")
			return
		}
		before = &store.Cursor{TS: cursor.TS, ID: cursor.ID}
	}

	msgs, hasMore, err := h.messages.ListMessages(c.Request.Context(), room, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list messages")
		h.reject(c, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := proto.HistoryResponse{
		Messages: make([]proto.EventMessageData, 0, len(msgs)),
		HasMore:  hasMore,
	}
	for _, msg := range msgs {
		resp.Messages = append(resp.Messages, storedToWire(msg))
	}
	h.metrics.HistoryServed(strconv.Itoa(http.StatusOK))
	c.JSON(http.StatusOK, resp)
}

func (h *HistoryHandler) reject(c *gin.Context, status int, msg string) {
	h.metrics.HistoryServed(strconv.Itoa(status))
	c.JSON(status, ErrorResponse{Error: msg})
}
