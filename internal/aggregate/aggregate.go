// Package aggregate builds the last-message preview of every conversation a
// user participates in, in a fixed number of store round trips.
package aggregate

import (
	"context"
	"time"

	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store is the subset of the store the aggregator reads.
type Store interface {
	ListConversationsOf(ctx context.Context, userID string) ([]store.Conversation, error)
	ListMessagesForConversations(ctx context.Context, conversationIDs []string, perConversation int) ([]store.Message, error)
	ListOtherParticipants(ctx context.Context, conversationIDs []string, excluding string) ([]store.Participant, error)
}

// Aggregator computes last-message summaries keyed by UI conversation key.
type Aggregator struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an aggregator. timeout is the single deadline shared by all
// queries of one batch; zero means the caller's context alone.
func New(s Store, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: s, timeout: timeout, logger: logger}
}

// LastMessages returns, for every conversation of userID that has at least
// one message, the newest message summary keyed by group id (group chats) or
// by the other participant's id (private chats). Any query failure aborts the
// whole batch.
func (a *Aggregator) LastMessages(ctx context.Context, userID string) (map[string]store.Summary, error) {
	if userID == "" {
		return nil, errs.Invalid("user id is required")
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	convs, err := a.store.ListConversationsOf(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable("list conversations", err)
	}
	result := make(map[string]store.Summary, len(convs))
	if len(convs) == 0 {
		return result, nil
	}
	ids := lo.Map(convs, func(c store.Conversation, _ int) string { return c.ID })

	msgs, err := a.store.ListMessagesForConversations(ctx, ids, 1)
	if err != nil {
		return nil, errs.Unavailable("list last messages", err)
	}
	// Rows are newest first within a conversation: first seen wins.
	latest := make(map[string]store.Message, len(convs))
	for _, m := range msgs {
		if _, seen := latest[m.ConversationID]; !seen {
			latest[m.ConversationID] = m
		}
	}

	others, err := a.store.ListOtherParticipants(ctx, ids, userID)
	if err != nil {
		return nil, errs.Unavailable("list other participants", err)
	}
	otherOf := make(map[string]string, len(others))
	for _, p := range others {
		if _, seen := otherOf[p.ConversationID]; !seen {
			otherOf[p.ConversationID] = p.UserID
		}
	}

	for _, c := range convs {
		m, ok := latest[c.ID]
		if !ok {
			continue
		}
		key, err := uiKey(c, otherOf)
		if err != nil {
			a.logger.Warn("skipping conversation without ui key",
				zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		if prev, ok := result[key]; ok && prev.CreatedAt > m.CreatedAt {
			continue
		}
		result[key] = m.Summary()
	}
	return result, nil
}

func uiKey(c store.Conversation, otherOf map[string]string) (string, error) {
	switch c.Kind {
	case store.ChatGroup:
		if c.GroupID == "" {
			return "", errs.ErrCorrupt
		}
		return c.GroupID, nil
	case store.ChatPrivate:
		other, ok := otherOf[c.ID]
		if !ok {
			return "", errs.ErrCorrupt
		}
		return other, nil
	}
	return "", errs.ErrCorrupt
}
