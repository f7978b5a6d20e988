package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCore(t *testing.T) (*Core, *store.DB, *feed.Hub) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	hub := feed.NewHub(bus.New(), 16, nil)
	return New(db, hub, Options{}, nil), db, hub
}

func text(s string) *string { return &s }

func TestSendCreatesOneConversationAndPublishes(t *testing.T) {
	c, db, hub := testCore(t)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "u2")
	require.NoError(t, err)
	defer sub.Cancel()

	_, found, err := c.ResolvePrivate(ctx, "u1", "u2")
	require.NoError(t, err)
	require.False(t, found)

	id, err := c.CreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)
	again, err := c.CreatePrivate(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	msg, err := c.InsertMessage(ctx, &store.NewMessage{
		ConversationID: id, SenderID: "u1", Content: text("hi bob"), Kind: store.KindText,
	})
	require.NoError(t, err)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, msg.ID, evt.Message.ID)
		assert.Equal(t, store.ChatPrivate, evt.Conversation.Kind)
		assert.ElementsMatch(t, []string{"u1", "u2"}, evt.Participants)
	case <-time.After(2 * time.Second):
		t.Fatal("no live event")
	}

	convs, err := db.ListConversationsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	got, err := c.FetchMessages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi bob", got[0].Text())
}

func TestInsertMessageValidation(t *testing.T) {
	c, _, _ := testCore(t)
	ctx := context.Background()
	id, err := c.CreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)

	tests := []struct {
		name string
		nm   store.NewMessage
	}{
		{"text without content", store.NewMessage{ConversationID: id, SenderID: "u1", Kind: store.KindText}},
		{"empty text", store.NewMessage{ConversationID: id, SenderID: "u1", Kind: store.KindText, Content: text("")}},
		{"unknown kind", store.NewMessage{ConversationID: id, SenderID: "u1", Kind: "sticker", Content: text("x")}},
		{"image without media", store.NewMessage{ConversationID: id, SenderID: "u1", Kind: store.KindImage}},
		{"no sender", store.NewMessage{ConversationID: id, Kind: store.KindText, Content: text("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.InsertMessage(ctx, &tt.nm)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestInsertMediaMessage(t *testing.T) {
	c, _, _ := testCore(t)
	ctx := context.Background()
	id, err := c.CreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := c.InsertMessage(ctx, &store.NewMessage{
		ConversationID: id, SenderID: "u1", Kind: store.KindFile,
		MediaURL: "https://cdn/x.pdf", FileName: "x.pdf", FileSize: 42,
	})
	require.NoError(t, err)
	assert.Nil(t, msg.Content)

	last, err := c.LastMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "x.pdf", last.FileName)
}

func TestInsertIntoMissingConversation(t *testing.T) {
	c, _, _ := testCore(t)
	_, err := c.InsertMessage(context.Background(), &store.NewMessage{
		ConversationID: "nope", SenderID: "u1", Kind: store.KindText, Content: text("x"),
	})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	c, db, _ := testCore(t)
	require.NoError(t, db.Close())

	_, err := c.BatchLastMessages(context.Background(), "u1")
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	_, _, err = c.ResolveGroup(context.Background(), "g1")
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.True(t, errs.Retryable(err))
}

func TestGroupAndContacts(t *testing.T) {
	c, _, _ := testCore(t)
	ctx := context.Background()

	id, err := c.CreateGroup(ctx, "g1", []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	got, found, err := c.ResolveGroup(ctx, "g1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, got)

	require.NoError(t, c.UpsertUser(ctx, &store.User{ID: "u2", Name: "Bob"}))
	require.NoError(t, c.AddContact(ctx, "u1", "u2"))
	contacts, err := c.ListContacts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, contacts)

	u, err := c.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)
}
