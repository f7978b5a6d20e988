package api

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/client"
	"github.com/matheus3301/gram/internal/core"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/store"
	intsync "github.com/matheus3301/gram/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type daemon struct {
	core   *core.Core
	db     *store.DB
	server *grpc.Server
	socket string
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	// Short path for the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "gram-api-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "gram.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := feed.NewHub(bus.New(), 16, nil)
	c := core.New(db, hub, core.Options{}, nil)

	srv := grpc.NewServer()
	RegisterChatServer(srv, NewChatService(c, hub, nil))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	socket := filepath.Join(tmpDir, "d.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &daemon{core: c, db: db, server: srv, socket: socket}
}

func dial(t *testing.T, d *daemon) *Client {
	t.Helper()
	c, err := Dial(d.socket, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUnaryRoundTrip(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)
	ctx := context.Background()

	state, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SERVING", state)

	require.NoError(t, c.UpsertUser(ctx, &store.User{ID: "u2", Name: "Bob"}))
	u, err := c.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)

	missing, err := c.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, found, err := c.ResolvePrivate(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := c.CreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)
	got, found, err := c.ResolvePrivate(ctx, "u2", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, got)

	body := "over the wire"
	msg, err := c.InsertMessage(ctx, &store.NewMessage{ConversationID: id, SenderID: "u1", Content: &body, Kind: store.KindText})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	msgs, err := c.FetchMessages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, body, msgs[0].Text())

	last, err := c.LastMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, last.ID)

	sums, err := c.BatchLastMessages(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, body, sums["u1"].Text)

	gid, err := c.CreateGroup(ctx, "g1", []string{"u1", "u2"})
	require.NoError(t, err)
	got, found, err = c.ResolveGroup(ctx, "g1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, gid, got)

	convs, err := c.ListConversationsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	require.NoError(t, c.AddContact(ctx, "u1", "u2"))
	contacts, err := c.ListContacts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, contacts)
}

func TestErrorKindsSurviveTheWire(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)
	ctx := context.Background()

	_, _, err := c.ResolvePrivate(ctx, "u1", "u1")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	body := "x"
	_, err = c.InsertMessage(ctx, &store.NewMessage{ConversationID: "missing", SenderID: "u1", Content: &body, Kind: store.KindText})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, d.db.Close())
	_, err = c.BatchLastMessages(ctx, "u1")
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.True(t, errs.Retryable(err))
}

func TestWatchInsertsFiltersByUser(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "u2")
	require.NoError(t, err)
	defer sub.Cancel()

	other, err := d.core.CreatePrivate(ctx, "u3", "u4")
	require.NoError(t, err)
	mine, err := d.core.CreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)

	// The stream is established lazily; keep publishing until it delivers.
	body := "ping"
	deadline := time.After(3 * time.Second)
	for {
		_, err := d.core.InsertMessage(ctx, &store.NewMessage{ConversationID: other, SenderID: "u3", Content: &body, Kind: store.KindText})
		require.NoError(t, err)
		_, err = d.core.InsertMessage(ctx, &store.NewMessage{ConversationID: mine, SenderID: "u1", Content: &body, Kind: store.KindText})
		require.NoError(t, err)
		select {
		case evt := <-sub.Events():
			assert.Equal(t, mine, evt.Message.ConversationID)
			assert.ElementsMatch(t, []string{"u1", "u2"}, evt.Participants)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event over the stream")
		}
	}
}

func TestSessionOverGRPC(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	aliceConn, bobConn := dial(t, d), dial(t, d)
	alice, err := client.New("u1", aliceConn, aliceConn, client.Options{}, nil)
	require.NoError(t, err)
	bob, err := client.New("u2", bobConn, bobConn, client.Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, alice.Start(ctx))
	require.NoError(t, bob.Start(ctx))
	t.Cleanup(alice.Close)
	t.Cleanup(bob.Close)

	got := make(chan intsync.Update, 16)
	bob.OnNewMessage(func(u intsync.Update) { got <- u })

	// Give both watch streams time to reach the daemon.
	time.Sleep(100 * time.Millisecond)
	_, err = alice.SendMessage(ctx, "u2", "hi over grpc", store.KindText, nil)
	require.NoError(t, err)

	select {
	case u := <-got:
		assert.Equal(t, "u1", u.Key)
		assert.Equal(t, 1, bob.GetUnreadCount("u1"))
	case <-time.After(3 * time.Second):
		t.Fatal("bob never saw the message")
	}

	msgs, err := bob.SwitchConversation(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, bob.GetUnreadCount("u1"))
}
