// Package cache holds a session's in-memory conversation state keyed by UI
// conversation key: ordered message buckets, last-message summaries and
// unread counters. All state is guarded by one mutex, so batch loads, user
// fetches and live events can update it from different goroutines.
package cache

import (
	"maps"
	"slices"
	"sync"

	"github.com/matheus3301/gram/internal/store"
	"github.com/samber/lo"
)

type bucket struct {
	conversationID string
	messages       []store.Message
	// loaded is set by Put. Buckets created lazily by live events stay
	// unloaded until the first full fetch.
	loaded bool
}

// Cache is the per-session conversation cache.
type Cache struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	summaries map[string]store.Summary
	unread    map[string]int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		buckets:   make(map[string]*bucket),
		summaries: make(map[string]store.Summary),
		unread:    make(map[string]int),
	}
}

// Get returns a copy of the bucket for key. ok is false on a miss, including
// for buckets that only hold live events and were never fully loaded.
func (c *Cache) Get(key string) (msgs []store.Message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, found := c.buckets[key]
	if !found || !b.loaded {
		return nil, false
	}
	return slices.Clone(b.messages), true
}

// Put stores a full load for key. Messages already appended by live events
// are kept after the loaded ones, deduplicated by id.
func (c *Cache) Put(key, conversationID string, msgs []store.Message) []store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := slices.Clone(msgs)
	if b, ok := c.buckets[key]; ok {
		merged = append(merged, b.messages...)
		if conversationID == "" {
			conversationID = b.conversationID
		}
	}
	merged = dedup(merged)
	c.buckets[key] = &bucket{conversationID: conversationID, messages: merged, loaded: true}
	return slices.Clone(merged)
}

// Append adds msg to the bucket for key, creating an unloaded bucket if none
// exists. It reports whether msg was new to the bucket.
func (c *Cache) Append(key string, msg store.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{conversationID: msg.ConversationID}
		c.buckets[key] = b
	}
	if b.conversationID == "" {
		b.conversationID = msg.ConversationID
	}
	before := len(b.messages)
	b.messages = dedup(append(b.messages, msg))
	return len(b.messages) > before
}

// FindKey returns the key of a bucket holding conversationID, either as its
// recorded conversation or through one of its messages.
func (c *Cache) FindKey(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buckets {
		if b.conversationID == conversationID {
			return key, true
		}
		if slices.ContainsFunc(b.messages, func(m store.Message) bool {
			return m.ConversationID == conversationID
		}) {
			return key, true
		}
	}
	return "", false
}

// Has reports whether any bucket, loaded or not, exists for key.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.buckets[key]
	return ok
}

// MarkStale flags every bucket as unloaded so the next switch re-fetches.
// Messages stay in place for the bucket scan and for merging on reload.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buckets {
		b.loaded = false
	}
}

// Summary returns the last-message summary of key.
func (c *Cache) Summary(key string) (store.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.summaries[key]
	return s, ok
}

// Summaries returns a snapshot of all summaries.
func (c *Cache) Summaries() map[string]store.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.summaries)
}

// SetSummary records s for key unless a newer summary is already stored.
// It reports whether s was applied.
func (c *Cache) SetSummary(key string, s store.Summary) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSummaryLocked(key, s)
}

// MergeSummaries applies a batch load; per key the newest timestamp wins.
func (c *Cache) MergeSummaries(batch map[string]store.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, s := range batch {
		c.setSummaryLocked(key, s)
	}
}

func (c *Cache) setSummaryLocked(key string, s store.Summary) bool {
	if prev, ok := c.summaries[key]; ok && prev.CreatedAt > s.CreatedAt {
		return false
	}
	c.summaries[key] = s
	return true
}

// Unread returns the unread counter of key.
func (c *Cache) Unread(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[key]
}

// IncUnread increments the counter of key unless key is the open
// conversation as reported by open. open is read under the cache lock so a
// concurrent ResetUnread cannot be overtaken. Returns the new count and
// whether it was incremented.
func (c *Cache) IncUnread(key string, open func() string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if open != nil && open() == key {
		return c.unread[key], false
	}
	c.unread[key]++
	return c.unread[key], true
}

// ResetUnread zeroes the counter of key.
func (c *Cache) ResetUnread(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unread, key)
}

func dedup(msgs []store.Message) []store.Message {
	return lo.UniqBy(msgs, func(m store.Message) int64 { return m.ID })
}
