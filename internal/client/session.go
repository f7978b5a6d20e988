// Package client runs one logged-in user's session: the conversation list,
// cache-first conversation switching, sending and the live dispatcher.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/cache"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/notify"
	"github.com/matheus3301/gram/internal/status"
	"github.com/matheus3301/gram/internal/store"
	intsync "github.com/matheus3301/gram/internal/sync"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const reconcileTimeout = 30 * time.Second

// Backend is the daemon surface a session talks to.
type Backend interface {
	BatchLastMessages(ctx context.Context, userID string) (map[string]store.Summary, error)
	ResolvePrivate(ctx context.Context, a, b string) (string, bool, error)
	ResolveGroup(ctx context.Context, groupID string) (string, bool, error)
	CreatePrivate(ctx context.Context, a, b string) (string, error)
	FetchMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*store.Message, error)
	InsertMessage(ctx context.Context, nm *store.NewMessage) (*store.Message, error)
	ListConversationsOf(ctx context.Context, userID string) ([]store.Conversation, error)
	ListContacts(ctx context.Context, userID string) ([]string, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Options tunes a Session. Zero values select defaults.
type Options struct {
	FetchLimit         int
	PreviewLength      int
	ResubscribeBackoff time.Duration
	Notifier           notify.Notifier
	// Bus receives subscription state changes. May be nil.
	Bus *bus.Bus
}

// Media describes the attachment of a non-text message.
type Media struct {
	URL      string
	FileName string
	FileSize int64
}

// Session is the client state of one logged-in user.
type Session struct {
	userID     string
	backend    Backend
	cache      *cache.Cache
	view       *cache.View
	selection  *intsync.Selection
	dispatcher *intsync.Dispatcher
	loads      singleflight.Group
	fetchLimit int
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates a session for userID. Live updates start with Start.
func New(userID string, b Backend, f feed.Feed, opts Options, logger *zap.Logger) (*Session, error) {
	if userID == "" {
		return nil, errs.Invalid("user id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = store.DefaultFetchLimit
	}
	s := &Session{
		userID:     userID,
		backend:    b,
		cache:      cache.New(),
		view:       &cache.View{},
		selection:  &intsync.Selection{},
		fetchLimit: opts.FetchLimit,
		logger:     logger.With(zap.String("user", userID)),
	}
	s.dispatcher = intsync.NewDispatcher(userID, f, s.cache, s.view, s.selection, b, intsync.Options{
		PreviewLength: opts.PreviewLength,
		Backoff:       opts.ResubscribeBackoff,
		Notifier:      opts.Notifier,
		Bus:           opts.Bus,
	}, logger)
	s.dispatcher.OnResubscribe(s.reconcile)
	return s, nil
}

// UserID returns the local user.
func (s *Session) UserID() string { return s.userID }

// State returns the live subscription state.
func (s *Session) State() status.State { return s.dispatcher.State() }

// Start subscribes to the live feed. The conversation membership used by
// the relevance filter is loaded best effort.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.dispatcher.Start(s.ctx); err != nil {
		return err
	}
	s.refreshMemberships(s.ctx)
	return nil
}

// Close ends the session. Live updates stop before Close returns and
// results of operations still in flight are discarded.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.dispatcher.Stop()
	s.selection.Set("")
}

// OnNewMessage registers a hook fired after each applied live event.
func (s *Session) OnNewMessage(fn func(intsync.Update)) {
	s.dispatcher.OnNewMessage(fn)
}

// GetLastMessages loads the last-message summaries of every conversation.
// When the batch fails it falls back to one lookup per contact.
func (s *Session) GetLastMessages(ctx context.Context) (map[string]store.Summary, error) {
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	batch, err := s.backend.BatchLastMessages(ctx, s.userID)
	if err != nil {
		if !errs.Retryable(err) {
			return nil, fmt.Errorf("last messages: %w", err)
		}
		s.logger.Warn("batch last messages failed, falling back per contact", zap.Error(err))
		batch, err = s.lastMessagesPerContact(ctx)
		if err != nil {
			return nil, fmt.Errorf("last messages: %w", err)
		}
	}
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	s.cache.MergeSummaries(batch)
	return s.cache.Summaries(), nil
}

func (s *Session) lastMessagesPerContact(ctx context.Context) (map[string]store.Summary, error) {
	contacts, err := s.backend.ListContacts(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Summary, len(contacts))
	for _, contact := range contacts {
		id, found, err := s.backend.ResolvePrivate(ctx, s.userID, contact)
		if err != nil {
			s.logger.Warn("resolve contact", zap.String("contact", contact), zap.Error(err))
			continue
		}
		if !found {
			continue
		}
		msg, err := s.backend.LastMessage(ctx, id)
		if err != nil {
			s.logger.Warn("last message", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		if msg != nil {
			out[contact] = msg.Summary()
		}
	}
	return out, nil
}

// SwitchConversation opens key and returns its messages. A loaded
// conversation is served from the cache without a round trip; concurrent
// misses for the same key share one fetch.
func (s *Session) SwitchConversation(ctx context.Context, key string) ([]store.Message, error) {
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	if key == "" {
		return nil, errs.Invalid("conversation key is required")
	}
	s.selection.Set(key)
	s.cache.ResetUnread(key)
	s.view.Reset(key, nil)

	if msgs, ok := s.cache.Get(key); ok {
		s.view.Merge(key, msgs)
		return s.view.Messages(), nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		return s.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	s.view.Merge(key, v.([]store.Message))
	if s.selection.Get() != key {
		return v.([]store.Message), nil
	}
	return s.view.Messages(), nil
}

// load resolves key to a conversation, fetches it and fills the cache. A key
// with no conversation yet is cached as empty.
func (s *Session) load(ctx context.Context, key string) ([]store.Message, error) {
	convID, found, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	var msgs []store.Message
	if found {
		msgs, err = s.backend.FetchMessages(ctx, convID, s.fetchLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		s.dispatcher.AddMembership(convID)
	}
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	return s.cache.Put(key, convID, msgs), nil
}

// resolve maps a UI key to a conversation: a private chat with that user
// first, then a group with that id.
func (s *Session) resolve(ctx context.Context, key string) (string, bool, error) {
	id, found, err := s.backend.ResolvePrivate(ctx, s.userID, key)
	if err != nil && !errors.Is(err, errs.ErrInvalidArgument) {
		return "", false, fmt.Errorf("resolve %s: %w", key, err)
	}
	if found {
		return id, true, nil
	}
	id, found, err = s.backend.ResolveGroup(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", key, err)
	}
	return id, found, nil
}

// SendMessage sends content to key, creating the private conversation on
// first contact. The message reaches the local cache through the live
// feed's echo. Failures are transient; nothing is queued for retry.
func (s *Session) SendMessage(ctx context.Context, key, content string, kind store.MessageKind, media *Media) (*store.Message, error) {
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	if key == "" {
		return nil, errs.Invalid("conversation key is required")
	}
	if kind == "" {
		kind = store.KindText
	}
	convID, found, err := s.resolve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if !found {
		convID, err = s.backend.CreatePrivate(ctx, s.userID, key)
		if err != nil {
			return nil, fmt.Errorf("send message: %w", err)
		}
	}
	s.dispatcher.Expect(convID, key)

	nm := &store.NewMessage{
		ConversationID: convID,
		SenderID:       s.userID,
		Kind:           kind,
	}
	if content != "" {
		nm.Content = &content
	}
	if media != nil {
		nm.MediaURL, nm.FileName, nm.FileSize = media.URL, media.FileName, media.FileSize
	}
	msg, err := s.backend.InsertMessage(ctx, nm)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// GetUnreadCount returns the unread counter of key.
func (s *Session) GetUnreadCount(key string) int {
	return s.cache.Unread(key)
}

// OpenKey returns the open conversation key, or "".
func (s *Session) OpenKey() string {
	return s.selection.Get()
}

// Messages returns the rendered messages of the open conversation.
func (s *Session) Messages() []store.Message {
	return s.view.Messages()
}

// LastMessages returns a snapshot of the known summaries.
func (s *Session) LastMessages() map[string]store.Summary {
	return s.cache.Summaries()
}

// reconcile runs after the live feed was lost and re-established. Events
// of the gap are recovered by a fresh batch, every bucket is marked stale,
// and the open conversation is fetched again.
func (s *Session) reconcile() {
	if s.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, reconcileTimeout)
	defer cancel()

	s.cache.MarkStale()
	if batch, err := s.backend.BatchLastMessages(ctx, s.userID); err != nil {
		s.logger.Warn("reconcile batch failed", zap.Error(err))
	} else if !s.closed.Load() {
		s.cache.MergeSummaries(batch)
	}
	s.refreshMemberships(ctx)

	key := s.selection.Get()
	if key == "" {
		return
	}
	v, err, _ := s.loads.Do(key, func() (any, error) {
		return s.load(ctx, key)
	})
	if err != nil {
		s.logger.Warn("reconcile open conversation", zap.String("key", key), zap.Error(err))
		return
	}
	s.view.Merge(key, v.([]store.Message))
	s.logger.Info("session reconciled", zap.Int("summaries", len(s.cache.Summaries())))
}

func (s *Session) refreshMemberships(ctx context.Context) {
	convs, err := s.backend.ListConversationsOf(ctx, s.userID)
	if err != nil {
		s.logger.Warn("load memberships", zap.Error(err))
		return
	}
	s.dispatcher.SetMemberships(lo.Map(convs, func(c store.Conversation, _ int) string { return c.ID }))
}
