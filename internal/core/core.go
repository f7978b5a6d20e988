// Package core is the daemon-side facade over the store: identity
// resolution, last-message batches and the send path that feeds live
// subscribers.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/gram/internal/aggregate"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/resolve"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/zap"
)

// Publisher receives every stored message.
type Publisher interface {
	Publish(evt feed.Inserted)
}

// Options tunes a Core. Zero values select defaults.
type Options struct {
	FetchLimit   int
	BatchTimeout time.Duration
}

// Core serves the query and send contracts used by client sessions.
type Core struct {
	db         *store.DB
	resolver   *resolve.Resolver
	aggregator *aggregate.Aggregator
	publisher  Publisher
	validate   *validator.Validate
	fetchLimit int
	logger     *zap.Logger
}

// New creates a Core over db. Stored messages are published to pub.
func New(db *store.DB, pub Publisher, opts Options, logger *zap.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = store.DefaultFetchLimit
	}
	return &Core{
		db:         db,
		resolver:   resolve.New(db),
		aggregator: aggregate.New(db, opts.BatchTimeout, logger.Named("aggregate")),
		publisher:  pub,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		fetchLimit: opts.FetchLimit,
		logger:     logger,
	}
}

// BatchLastMessages returns the last-message summary of every conversation
// of userID keyed by UI conversation key.
func (c *Core) BatchLastMessages(ctx context.Context, userID string) (map[string]store.Summary, error) {
	return c.aggregator.LastMessages(ctx, userID)
}

// ResolvePrivate looks up the private conversation of a and b.
func (c *Core) ResolvePrivate(ctx context.Context, a, b string) (string, bool, error) {
	return c.resolver.Private(ctx, a, b)
}

// ResolveGroup looks up the conversation backing groupID.
func (c *Core) ResolveGroup(ctx context.Context, groupID string) (string, bool, error) {
	return c.resolver.Group(ctx, groupID)
}

// CreatePrivate returns the private conversation of a and b, creating it if
// needed. Concurrent calls for the same pair return the same id.
func (c *Core) CreatePrivate(ctx context.Context, a, b string) (string, error) {
	if a == "" || b == "" || a == b {
		return "", errs.Invalid("private conversation needs two distinct users")
	}
	id, err := c.db.CreatePrivateConversation(ctx, a, b)
	if err != nil {
		return "", errs.Unavailable("create private conversation", err)
	}
	c.logger.Debug("private conversation ready", zap.String("conversation_id", id))
	return id, nil
}

// CreateGroup creates the conversation backing groupID with members.
func (c *Core) CreateGroup(ctx context.Context, groupID string, members []string) (string, error) {
	if groupID == "" || len(members) == 0 {
		return "", errs.Invalid("group conversation needs a group id and members")
	}
	id, err := c.db.CreateGroupConversation(ctx, groupID, members)
	if err != nil {
		return "", errs.Unavailable("create group conversation", err)
	}
	return id, nil
}

// FetchMessages returns up to limit messages of conversationID oldest first.
// A non-positive limit selects the configured default.
func (c *Core) FetchMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	if conversationID == "" {
		return nil, errs.Invalid("conversation id is required")
	}
	if limit <= 0 || limit > c.fetchLimit {
		limit = c.fetchLimit
	}
	msgs, err := c.db.FetchMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, errs.Unavailable("fetch messages", err)
	}
	return msgs, nil
}

// LastMessage returns the newest message of conversationID, or nil.
func (c *Core) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if conversationID == "" {
		return nil, errs.Invalid("conversation id is required")
	}
	msg, err := c.db.LastMessage(ctx, conversationID)
	if err != nil {
		return nil, errs.Unavailable("last message", err)
	}
	return msg, nil
}

// InsertMessage validates, stores and publishes a message.
func (c *Core) InsertMessage(ctx context.Context, nm *store.NewMessage) (*store.Message, error) {
	if err := c.validate.Struct(nm); err != nil {
		return nil, errs.Invalid("%v", err)
	}
	if nm.Kind == store.KindText && (nm.Content == nil || *nm.Content == "") {
		return nil, errs.Invalid("text message needs content")
	}
	conv, err := c.db.GetConversation(ctx, nm.ConversationID)
	if err != nil {
		return nil, errs.Unavailable("get conversation", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", nm.ConversationID, errs.ErrNotFound)
	}
	participants, err := c.db.Participants(ctx, conv.ID)
	if err != nil {
		return nil, errs.Unavailable("participants", err)
	}
	msg, err := c.db.InsertMessage(ctx, nm)
	if err != nil {
		return nil, errs.Unavailable("insert message", err)
	}
	c.logger.Debug("message stored",
		zap.Int64("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID))
	if c.publisher != nil {
		c.publisher.Publish(feed.Inserted{
			Message:      *msg,
			Conversation: *conv,
			Participants: participants,
		})
	}
	return msg, nil
}

// ListConversationsOf returns the conversations userID participates in.
func (c *Core) ListConversationsOf(ctx context.Context, userID string) ([]store.Conversation, error) {
	if userID == "" {
		return nil, errs.Invalid("user id is required")
	}
	convs, err := c.db.ListConversationsOf(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable("list conversations", err)
	}
	return convs, nil
}

// ListContacts returns the contact ids of userID.
func (c *Core) ListContacts(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errs.Invalid("user id is required")
	}
	ids, err := c.db.ListContacts(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable("list contacts", err)
	}
	return ids, nil
}

// AddContact records contactID in userID's contact list.
func (c *Core) AddContact(ctx context.Context, userID, contactID string) error {
	if userID == "" || contactID == "" {
		return errs.Invalid("user and contact ids are required")
	}
	return errs.Unavailable("add contact", c.db.AddContact(ctx, userID, contactID))
}

// GetUser returns the profile of id, or nil.
func (c *Core) GetUser(ctx context.Context, id string) (*store.User, error) {
	u, err := c.db.GetUser(ctx, id)
	if err != nil {
		return nil, errs.Unavailable("get user", err)
	}
	return u, nil
}

// UpsertUser stores a profile.
func (c *Core) UpsertUser(ctx context.Context, u *store.User) error {
	if u == nil || u.ID == "" {
		return errs.Invalid("user id is required")
	}
	return errs.Unavailable("upsert user", c.db.UpsertUser(ctx, u))
}
