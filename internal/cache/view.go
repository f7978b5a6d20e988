package cache

import (
	"slices"
	"sync"

	"github.com/matheus3301/gram/internal/store"
)

// View is the message list currently rendered for the open conversation.
type View struct {
	mu       sync.Mutex
	key      string
	messages []store.Message
}

// Reset replaces the view with msgs for key.
func (v *View) Reset(key string, msgs []store.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.messages = dedup(slices.Clone(msgs))
}

// Merge places msgs ahead of what key already shows, so live messages that
// landed while msgs were loading are kept. Ignored unless key is rendered.
func (v *View) Merge(key string, msgs []store.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key == "" || key != v.key {
		return false
	}
	v.messages = dedup(append(slices.Clone(msgs), v.messages...))
	return true
}

// Append adds msg if key is the rendered conversation and msg is not shown yet.
func (v *View) Append(key string, msg store.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key == "" || key != v.key {
		return false
	}
	if slices.ContainsFunc(v.messages, func(m store.Message) bool { return m.ID == msg.ID }) {
		return false
	}
	v.messages = append(v.messages, msg)
	return true
}

// Key returns the rendered conversation key.
func (v *View) Key() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

// Messages returns a copy of the rendered list.
func (v *View) Messages() []store.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.messages)
}
