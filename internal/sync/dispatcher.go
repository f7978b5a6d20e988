// Package sync applies the live message feed to a client session's local
// state.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/cache"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/notify"
	"github.com/matheus3301/gram/internal/status"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/zap"
)

const (
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	lookupTimeout  = 2 * time.Second
)

// Directory looks up sender profiles for notifications.
type Directory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Update describes one applied live event, passed to OnNewMessage hooks.
type Update struct {
	Key     string
	Message store.Message
	// Own is set for messages sent by the local user.
	Own bool
	// Unread is the counter of Key after the event.
	Unread int
}

// Options tunes a Dispatcher. Zero values select defaults.
type Options struct {
	PreviewLength int
	Backoff       time.Duration
	Notifier      notify.Notifier
	// Bus receives subscription state changes. May be nil.
	Bus *bus.Bus
}

// Dispatcher consumes the live feed for one logged-in user and keeps the
// session's cache, summaries, unread counters and open view current.
type Dispatcher struct {
	userID     string
	feed       feed.Feed
	cache      *cache.Cache
	view       *cache.View
	selection  *Selection
	directory  Directory
	notifier   notify.Notifier
	machine    *status.Machine
	logger     *zap.Logger
	previewLen int
	backoff    time.Duration

	mu            gosync.Mutex
	members       map[string]struct{}
	expected      map[string]string
	hooks         []func(Update)
	onResubscribe []func()

	cancel   context.CancelFunc
	done     chan struct{}
	wg       gosync.WaitGroup
	stopOnce gosync.Once
}

// NewDispatcher creates a dispatcher for userID. It does nothing until Start.
func NewDispatcher(userID string, f feed.Feed, c *cache.Cache, v *cache.View, sel *Selection, dir Directory, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = notify.DefaultPreviewLength
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	return &Dispatcher{
		userID:     userID,
		feed:       f,
		cache:      c,
		view:       v,
		selection:  sel,
		directory:  dir,
		notifier:   opts.Notifier,
		machine:    status.NewMachine(opts.Bus, userID),
		logger:     logger.With(zap.String("user", userID)),
		previewLen: opts.PreviewLength,
		backoff:    opts.Backoff,
		members:    make(map[string]struct{}),
		expected:   make(map[string]string),
	}
}

// State returns the subscription state.
func (d *Dispatcher) State() status.State {
	return d.machine.Current()
}

// Start opens the live subscription and begins applying events.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.feed.Subscribe(ctx, d.userID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := d.machine.Transition(status.Subscribed); err != nil {
		sub.Cancel()
		return err
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx, sub)
	d.logger.Info("live feed subscribed")
	return nil
}

// Stop tears the subscription down. When it returns no further hook or
// cache write happens. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}
		d.wg.Wait()
		if err := d.machine.Transition(status.Unsubscribed); err != nil {
			d.logger.Debug("stop", zap.Error(err))
		}
		d.logger.Info("live feed unsubscribed")
	})
}

// OnNewMessage registers a hook called after each applied event.
func (d *Dispatcher) OnNewMessage(fn func(Update)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// OnResubscribe registers a hook fired after the feed was lost and
// re-established. Events published during the gap are not replayed; the
// hook is where callers reconcile.
func (d *Dispatcher) OnResubscribe(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResubscribe = append(d.onResubscribe, fn)
}

// Expect records the UI key a locally sent message to conversationID maps
// to, so its echo is routed without scanning the cache.
func (d *Dispatcher) Expect(conversationID, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected[conversationID] = key
	d.members[conversationID] = struct{}{}
}

// AddMembership marks conversationID as one the user participates in.
func (d *Dispatcher) AddMembership(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[conversationID] = struct{}{}
}

// SetMemberships replaces the known conversation set.
func (d *Dispatcher) SetMemberships(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.expected {
		m[id] = struct{}{}
	}
	d.members = m
}

func (d *Dispatcher) run(ctx context.Context, sub feed.Subscription) {
	defer close(d.done)
	defer func() {
		if sub != nil {
			sub.Cancel()
		}
	}()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				sub.Cancel()
				sub = d.resubscribe(ctx)
				if sub == nil {
					return
				}
				continue
			}
			d.handle(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

// resubscribe re-opens the feed with backoff. Returns nil when ctx ends first.
func (d *Dispatcher) resubscribe(ctx context.Context) feed.Subscription {
	if ctx.Err() != nil {
		return nil
	}
	d.logger.Warn("live feed lost, resubscribing", zap.Error(errs.ErrSubscriptionLost))
	if err := d.machine.Transition(status.Resubscribing); err != nil {
		d.logger.Error("resubscribe", zap.Error(err))
	}
	wait := d.backoff
	for {
		sub, err := d.feed.Subscribe(ctx, d.userID)
		if err == nil {
			if err := d.machine.Transition(status.Subscribed); err != nil {
				d.logger.Error("resubscribe", zap.Error(err))
			}
			d.logger.Info("live feed resubscribed")
			d.fireResubscribe(ctx)
			return sub
		}
		d.logger.Warn("resubscribe failed", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
		wait = min(wait*2, maxBackoff)
	}
}

func (d *Dispatcher) fireResubscribe(ctx context.Context) {
	d.mu.Lock()
	hooks := append([]func(){}, d.onResubscribe...)
	d.mu.Unlock()
	for _, fn := range hooks {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if ctx.Err() != nil {
				return
			}
			fn()
		}()
	}
}

func (d *Dispatcher) handle(ctx context.Context, evt feed.Inserted) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic",
				zap.Any("panic", r),
				zap.String("conversation_id", evt.Message.ConversationID),
				zap.Int64("message_id", evt.Message.ID))
		}
	}()
	if err := d.dispatch(ctx, evt); err != nil {
		d.logger.Error("dispatch failed",
			zap.Error(err),
			zap.String("conversation_id", evt.Message.ConversationID),
			zap.Int64("message_id", evt.Message.ID))
	}
}

// errDropped marks an event skipped on purpose.
var errDropped = errors.New("dropped")

func (d *Dispatcher) dispatch(ctx context.Context, evt feed.Inserted) error {
	msg := evt.Message
	if msg.ID == 0 || msg.ConversationID == "" || msg.SenderID == "" {
		return fmt.Errorf("%w: incomplete message event", errs.ErrCorrupt)
	}
	own := msg.SenderID == d.userID

	if !own && !d.relevant(&evt) {
		d.logger.Debug("event not relevant", zap.String("conversation_id", msg.ConversationID))
		return nil
	}

	key, err := d.keyFor(&evt, own)
	if errors.Is(err, errDropped) {
		d.logger.Debug("self echo without bucket dropped", zap.String("conversation_id", msg.ConversationID))
		return nil
	}
	if err != nil {
		return err
	}
	d.AddMembership(msg.ConversationID)

	d.cache.SetSummary(key, msg.Summary())

	// A redelivered message is already in the bucket and must not count or
	// notify twice.
	if !d.cache.Append(key, msg) {
		d.logger.Debug("duplicate delivery", zap.Int64("message_id", msg.ID))
		return nil
	}

	unread := d.cache.Unread(key)
	if !own {
		var inc bool
		unread, inc = d.cache.IncUnread(key, d.selection.Get)
		if inc {
			d.notify(ctx, msg)
		}
	}

	d.view.Append(key, msg)

	d.mu.Lock()
	hooks := append([]func(Update){}, d.hooks...)
	d.mu.Unlock()
	upd := Update{Key: key, Message: msg, Own: own, Unread: unread}
	for _, fn := range hooks {
		fn(upd)
	}
	return nil
}

func (d *Dispatcher) relevant(evt *feed.Inserted) bool {
	if evt.Involves(d.userID) {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.members[evt.Message.ConversationID]
	return ok
}

// keyFor maps an event to its UI conversation key. Own messages use the key
// recorded at send time, then any cached bucket holding the conversation.
// Others are keyed by group id for groups and by sender otherwise.
func (d *Dispatcher) keyFor(evt *feed.Inserted, own bool) (string, error) {
	convID := evt.Message.ConversationID
	if own {
		d.mu.Lock()
		key, ok := d.expected[convID]
		d.mu.Unlock()
		if ok {
			return key, nil
		}
		if key, ok := d.cache.FindKey(convID); ok {
			return key, nil
		}
		return "", errDropped
	}
	if evt.Conversation.Kind == store.ChatGroup {
		if evt.Conversation.GroupID == "" {
			return "", fmt.Errorf("%w: group conversation %s without group id", errs.ErrCorrupt, convID)
		}
		return evt.Conversation.GroupID, nil
	}
	return evt.Message.SenderID, nil
}

func (d *Dispatcher) notify(ctx context.Context, msg store.Message) {
	name, avatar := msg.SenderName, msg.SenderAvatar
	if name == "" && d.directory != nil {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		u, err := d.directory.GetUser(lctx, msg.SenderID)
		cancel()
		if err != nil {
			d.logger.Warn("sender lookup failed", zap.Error(err), zap.String("sender_id", msg.SenderID))
		} else if u != nil {
			name, avatar = u.Name, u.Avatar
		}
	}
	d.notifier.Notify(notify.New(name, avatar, msg.Text(), d.previewLen))
}
