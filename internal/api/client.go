package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
)

// Client talks to the daemon over its Unix domain socket. It serves both
// as a session backend and as the session's live feed.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Health reports the daemon's serving status for the chat service.
func (c *Client) Health(ctx context.Context) (string, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return "", fromStatus("health", err)
	}
	return resp.GetStatus().String(), nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

func (c *Client) BatchLastMessages(ctx context.Context, userID string) (map[string]store.Summary, error) {
	var out SummariesResponse
	if err := c.invoke(ctx, "BatchLastMessages", &UserRequest{UserID: userID}, &out); err != nil {
		return nil, err
	}
	if out.Summaries == nil {
		out.Summaries = map[string]store.Summary{}
	}
	return out.Summaries, nil
}

func (c *Client) ResolvePrivate(ctx context.Context, a, b string) (string, bool, error) {
	var out ResolveResponse
	if err := c.invoke(ctx, "ResolvePrivate", &PairRequest{A: a, B: b}, &out); err != nil {
		return "", false, err
	}
	return out.ConversationID, out.Found, nil
}

func (c *Client) ResolveGroup(ctx context.Context, groupID string) (string, bool, error) {
	var out ResolveResponse
	if err := c.invoke(ctx, "ResolveGroup", &GroupRequest{GroupID: groupID}, &out); err != nil {
		return "", false, err
	}
	return out.ConversationID, out.Found, nil
}

func (c *Client) CreatePrivate(ctx context.Context, a, b string) (string, error) {
	var out ResolveResponse
	if err := c.invoke(ctx, "CreatePrivate", &PairRequest{A: a, B: b}, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (c *Client) CreateGroup(ctx context.Context, groupID string, members []string) (string, error) {
	var out ResolveResponse
	if err := c.invoke(ctx, "CreateGroup", &GroupRequest{GroupID: groupID, Members: members}, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	var out MessagesResponse
	if err := c.invoke(ctx, "FetchMessages", &ConversationRequest{ConversationID: conversationID, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	var out MessageResponse
	if err := c.invoke(ctx, "LastMessage", &ConversationRequest{ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

func (c *Client) InsertMessage(ctx context.Context, nm *store.NewMessage) (*store.Message, error) {
	var out MessageResponse
	if err := c.invoke(ctx, "InsertMessage", nm, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

func (c *Client) ListConversationsOf(ctx context.Context, userID string) ([]store.Conversation, error) {
	var out ConversationsResponse
	if err := c.invoke(ctx, "ListConversations", &UserRequest{UserID: userID}, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) ListContacts(ctx context.Context, userID string) ([]string, error) {
	var out ContactsResponse
	if err := c.invoke(ctx, "ListContacts", &UserRequest{UserID: userID}, &out); err != nil {
		return nil, err
	}
	return out.ContactIDs, nil
}

func (c *Client) AddContact(ctx context.Context, userID, contactID string) error {
	return c.invoke(ctx, "AddContact", &ContactRequest{UserID: userID, ContactID: contactID}, &Empty{})
}

func (c *Client) GetUser(ctx context.Context, id string) (*store.User, error) {
	var out UserResponse
	if err := c.invoke(ctx, "GetUser", &UserRequest{UserID: id}, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) UpsertUser(ctx context.Context, u *store.User) error {
	return c.invoke(ctx, "UpsertUser", u, &Empty{})
}

// Subscribe implements feed.Feed over the WatchInserts stream. The
// subscription's channel closes when the stream breaks.
func (c *Client) Subscribe(ctx context.Context, userID string) (feed.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchInserts"))
	if err != nil {
		cancel()
		return nil, fromStatus("WatchInserts", err)
	}
	if err := stream.SendMsg(&WatchRequest{UserID: userID}); err != nil {
		cancel()
		return nil, fromStatus("WatchInserts", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus("WatchInserts", err)
	}
	s := &streamSubscription{
		out:    make(chan feed.Inserted),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.receive(ctx, stream, c.logger)
	return s, nil
}

type streamSubscription struct {
	out    chan feed.Inserted
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func (s *streamSubscription) receive(ctx context.Context, stream grpc.ClientStream, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.out)
	for {
		var env InsertEnvelope
		if err := stream.RecvMsg(&env); err != nil {
			if ctx.Err() == nil {
				logger.Warn("watch stream ended", zap.Error(err))
			}
			return
		}
		select {
		case s.out <- env.Event:
		case <-ctx.Done():
			return
		}
	}
}

func (s *streamSubscription) Events() <-chan feed.Inserted { return s.out }

// Cancel closes the stream and waits for the receiver to exit.
func (s *streamSubscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// fromStatus maps gRPC codes back to error kinds.
func fromStatus(method string, err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", method, errs.ErrInvalidArgument, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, errs.ErrNotFound, st.Message())
	case codes.Unavailable:
		return errs.Unavailable(method, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", method, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", method, context.Canceled)
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}
