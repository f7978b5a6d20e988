package sync

import "sync/atomic"

// Selection is the currently open conversation key. It is written only by
// the UI selection action and read by the dispatcher.
type Selection struct {
	key atomic.Pointer[string]
}

// Set marks key as the open conversation. An empty key closes it.
func (s *Selection) Set(key string) {
	s.key.Store(&key)
}

// Get returns the open key, or "" when nothing is open.
func (s *Selection) Get() string {
	if p := s.key.Load(); p != nil {
		return *p
	}
	return ""
}
