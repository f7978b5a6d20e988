package api

import (
	"context"

	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/store"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gram.v1.ChatService"

type UserRequest struct {
	UserID string `json:"user_id"`
}

type PairRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type GroupRequest struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members,omitempty"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
}

type ContactRequest struct {
	UserID    string `json:"user_id"`
	ContactID string `json:"contact_id"`
}

type ResolveResponse struct {
	ConversationID string `json:"conversation_id"`
	Found          bool   `json:"found"`
}

type SummariesResponse struct {
	Summaries map[string]store.Summary `json:"summaries"`
}

type MessagesResponse struct {
	Messages []store.Message `json:"messages"`
}

type MessageResponse struct {
	Message *store.Message `json:"message,omitempty"`
}

type ConversationsResponse struct {
	Conversations []store.Conversation `json:"conversations"`
}

type ContactsResponse struct {
	ContactIDs []string `json:"contact_ids"`
}

type UserResponse struct {
	User *store.User `json:"user,omitempty"`
}

type Empty struct{}

// WatchRequest opens a live stream of inserts involving UserID. An empty
// UserID watches every insert.
type WatchRequest struct {
	UserID string `json:"user_id"`
}

// InsertEnvelope is one streamed live event.
type InsertEnvelope struct {
	EventID          string        `json:"event_id"`
	OccurredAtUnixMs int64         `json:"occurred_at_unix_ms"`
	Event            feed.Inserted `json:"event"`
}

// ChatServer is the server API of the chat service.
type ChatServer interface {
	BatchLastMessages(context.Context, *UserRequest) (*SummariesResponse, error)
	ResolvePrivate(context.Context, *PairRequest) (*ResolveResponse, error)
	ResolveGroup(context.Context, *GroupRequest) (*ResolveResponse, error)
	CreatePrivate(context.Context, *PairRequest) (*ResolveResponse, error)
	CreateGroup(context.Context, *GroupRequest) (*ResolveResponse, error)
	FetchMessages(context.Context, *ConversationRequest) (*MessagesResponse, error)
	LastMessage(context.Context, *ConversationRequest) (*MessageResponse, error)
	InsertMessage(context.Context, *store.NewMessage) (*MessageResponse, error)
	ListConversations(context.Context, *UserRequest) (*ConversationsResponse, error)
	ListContacts(context.Context, *UserRequest) (*ContactsResponse, error)
	AddContact(context.Context, *ContactRequest) (*Empty, error)
	GetUser(context.Context, *UserRequest) (*UserResponse, error)
	UpsertUser(context.Context, *store.User) (*Empty, error)
	WatchInserts(*WatchRequest, InsertStream) error
}

// InsertStream is the server side of WatchInserts.
type InsertStream interface {
	Send(*InsertEnvelope) error
	Context() context.Context
}

type insertStream struct {
	grpc.ServerStream
}

func (s *insertStream) Send(env *InsertEnvelope) error {
	return s.SendMsg(env)
}

func unary[Req, Resp any](name string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			})
		},
	}
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc describes the chat service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("BatchLastMessages", ChatServer.BatchLastMessages),
		unary("ResolvePrivate", ChatServer.ResolvePrivate),
		unary("ResolveGroup", ChatServer.ResolveGroup),
		unary("CreatePrivate", ChatServer.CreatePrivate),
		unary("CreateGroup", ChatServer.CreateGroup),
		unary("FetchMessages", ChatServer.FetchMessages),
		unary("LastMessage", ChatServer.LastMessage),
		unary("InsertMessage", ChatServer.InsertMessage),
		unary("ListConversations", ChatServer.ListConversations),
		unary("ListContacts", ChatServer.ListContacts),
		unary("AddContact", ChatServer.AddContact),
		unary("GetUser", ChatServer.GetUser),
		unary("UpsertUser", ChatServer.UpsertUser),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchInserts",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServer).WatchInserts(in, &insertStream{stream})
			},
		},
	},
	Metadata: "gram/v1/chat",
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}
