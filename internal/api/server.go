// Package api exposes the daemon's chat core over gRPC and provides the
// matching client used by client sessions.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/gram/internal/core"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ChatService implements ChatServer over the core and the live feed hub.
type ChatService struct {
	core   *core.Core
	feed   feed.Feed
	logger *zap.Logger
}

// NewChatService creates the chat service.
func NewChatService(c *core.Core, f feed.Feed, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{core: c, feed: f, logger: logger}
}

func (s *ChatService) BatchLastMessages(ctx context.Context, req *UserRequest) (*SummariesResponse, error) {
	m, err := s.core.BatchLastMessages(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SummariesResponse{Summaries: m}, nil
}

func (s *ChatService) ResolvePrivate(ctx context.Context, req *PairRequest) (*ResolveResponse, error) {
	id, found, err := s.core.ResolvePrivate(ctx, req.A, req.B)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{ConversationID: id, Found: found}, nil
}

func (s *ChatService) ResolveGroup(ctx context.Context, req *GroupRequest) (*ResolveResponse, error) {
	id, found, err := s.core.ResolveGroup(ctx, req.GroupID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{ConversationID: id, Found: found}, nil
}

func (s *ChatService) CreatePrivate(ctx context.Context, req *PairRequest) (*ResolveResponse, error) {
	id, err := s.core.CreatePrivate(ctx, req.A, req.B)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{ConversationID: id, Found: true}, nil
}

func (s *ChatService) CreateGroup(ctx context.Context, req *GroupRequest) (*ResolveResponse, error) {
	id, err := s.core.CreateGroup(ctx, req.GroupID, req.Members)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{ConversationID: id, Found: true}, nil
}

func (s *ChatService) FetchMessages(ctx context.Context, req *ConversationRequest) (*MessagesResponse, error) {
	msgs, err := s.core.FetchMessages(ctx, req.ConversationID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (s *ChatService) LastMessage(ctx context.Context, req *ConversationRequest) (*MessageResponse, error) {
	msg, err := s.core.LastMessage(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *ChatService) InsertMessage(ctx context.Context, req *store.NewMessage) (*MessageResponse, error) {
	msg, err := s.core.InsertMessage(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *ChatService) ListConversations(ctx context.Context, req *UserRequest) (*ConversationsResponse, error) {
	convs, err := s.core.ListConversationsOf(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationsResponse{Conversations: convs}, nil
}

func (s *ChatService) ListContacts(ctx context.Context, req *UserRequest) (*ContactsResponse, error) {
	ids, err := s.core.ListContacts(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ContactsResponse{ContactIDs: ids}, nil
}

func (s *ChatService) AddContact(ctx context.Context, req *ContactRequest) (*Empty, error) {
	if err := s.core.AddContact(ctx, req.UserID, req.ContactID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) GetUser(ctx context.Context, req *UserRequest) (*UserResponse, error) {
	u, err := s.core.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UserResponse{User: u}, nil
}

func (s *ChatService) UpsertUser(ctx context.Context, req *store.User) (*Empty, error) {
	if err := s.core.UpsertUser(ctx, req); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// WatchInserts streams live inserts involving req.UserID until the client
// goes away. A subscriber dropped by the hub ends the stream with
// Unavailable so the client resubscribes.
func (s *ChatService) WatchInserts(req *WatchRequest, stream InsertStream) error {
	ctx := stream.Context()
	sub, err := s.feed.Subscribe(ctx, req.UserID)
	if err != nil {
		return toStatus(err)
	}
	defer sub.Cancel()

	s.logger.Debug("watch opened", zap.String("user", req.UserID))
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				s.logger.Warn("watch dropped", zap.String("user", req.UserID))
				return grpcstatus.Error(codes.Unavailable, errs.ErrSubscriptionLost.Error())
			}
			if err := stream.Send(&InsertEnvelope{
				EventID:          uuid.NewString(),
				OccurredAtUnixMs: time.Now().UnixMilli(),
				Event:            evt,
			}); err != nil {
				return err
			}
		case <-ctx.Done():
			s.logger.Debug("watch closed", zap.String("user", req.UserID))
			return nil
		}
	}
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrInvalidArgument):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrStoreUnavailable), errors.Is(err, errs.ErrSubscriptionLost):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
