// Package msgcache keeps the ordered, deduplicated message list of the active room.
package msgcache

import (
	"sort"

	"github.com/vovakirdan/plansync/internal/chat"
)

// Cache stores messages of a single room sorted by (CreatedAt, ID).
// It is not safe for concurrent use; the sync engine owns all mutation.
type Cache struct {
	room       string
	messages   []chat.Message
	ids        map[int64]struct{}
	tombstones map[int64]struct{}
	hasMore    bool
}

// New returns an empty cache bound to no room.
func New() *Cache {
	return &Cache{
		ids:        make(map[int64]struct{}),
		tombstones: make(map[int64]struct{}),
		hasMore:    true,
	}
}

// Replace discards the current contents and installs msgs for roomID.
// The pagination flag is reset to "more available".
func (c *Cache) Replace(roomID string, msgs []chat.Message) {
	c.room = roomID
	c.messages = nil
	c.ids = make(map[int64]struct{}, len(msgs))
	c.tombstones = make(map[int64]struct{})
	c.hasMore = true
	c.merge(msgs, false)
}

// Clear drops the contents and unbinds the cache from its room.
func (c *Cache) Clear() {
	c.Replace("", nil)
}

// MergeNewer inserts a live message. Messages for other rooms and known ids are
// ignored. Returns true if the cache changed.
func (c *Cache) MergeNewer(msg chat.Message) bool {
	if c.room == "" || msg.RoomID != c.room {
		return false
	}
	if _, ok := c.ids[msg.ID]; ok {
		return false
	}
	msg = c.applyTombstone(msg)
	c.ids[msg.ID] = struct{}{}

	n := len(c.messages)
	if n == 0 || !chat.Less(msg, c.messages[n-1]) {
		c.messages = append(c.messages, msg)
		return true
	}

	// Out of order arrival: keep the invariant anyway.
	i := sort.Search(n, func(i int) bool { return chat.Less(msg, c.messages[i]) })
	c.messages = append(c.messages, chat.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg
	return true
}

// MergeOlder merges a page of history and records whether more pages exist.
// Returns the number of messages added.
func (c *Cache) MergeOlder(msgs []chat.Message, hasMore bool) int {
	added := c.merge(msgs, false)
	c.hasMore = hasMore
	return added
}

// MergeLatest merges the most recent page after a reconnect. Known ids adopt the
// server's deletion state; the pagination flag is left untouched.
func (c *Cache) MergeLatest(msgs []chat.Message) int {
	return c.merge(msgs, true)
}

// MarkDeleted flips the deleted flag and blanks the content. An unknown id is
// remembered so that a later merge of it arrives already deleted.
// Returns true if the id was present.
func (c *Cache) MarkDeleted(id int64) bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			c.messages[i].IsDeleted = true
			c.messages[i].Content = ""
			return true
		}
	}
	if c.room != "" {
		c.tombstones[id] = struct{}{}
	}
	return false
}

// Room returns the room the cache is bound to.
func (c *Cache) Room() string { return c.room }

// HasMore reports whether older history may exist on the server.
func (c *Cache) HasMore() bool { return c.hasMore }

// Len returns the number of cached messages.
func (c *Cache) Len() int { return len(c.messages) }

// Oldest returns the first cached message.
func (c *Cache) Oldest() (chat.Message, bool) {
	if len(c.messages) == 0 {
		return chat.Message{}, false
	}
	return c.messages[0], true
}

// Newest returns the last cached message.
func (c *Cache) Newest() (chat.Message, bool) {
	if len(c.messages) == 0 {
		return chat.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of the cached messages in order.
func (c *Cache) Messages() []chat.Message {
	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Cache) merge(msgs []chat.Message, adoptDeletes bool) int {
	if c.room == "" {
		return 0
	}

	added := 0
	for _, m := range msgs {
		if m.RoomID == "" {
			m.RoomID = c.room
		}
		if m.RoomID != c.room {
			continue
		}
		if _, ok := c.ids[m.ID]; ok {
			if adoptDeletes && m.IsDeleted {
				c.MarkDeleted(m.ID)
			}
			continue
		}
		m = c.applyTombstone(m)
		c.ids[m.ID] = struct{}{}
		c.messages = append(c.messages, m)
		added++
	}
	if added > 0 {
		sort.SliceStable(c.messages, func(i, j int) bool {
			return chat.Less(c.messages[i], c.messages[j])
		})
	}
	return added
}

func (c *Cache) applyTombstone(m chat.Message) chat.Message {
	if _, ok := c.tombstones[m.ID]; ok {
		delete(c.tombstones, m.ID)
		m.IsDeleted = true
	}
	if m.IsDeleted {
		m.Content = ""
	}
	return m
}
