// Package api exposes the store's query surface over gRPC on the daemon's
// Unix socket.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatfeed/internal/hub"
	"github.com/matheus3301/chatfeed/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const serviceName = "chatfeed.v1.QueryService"

const (
	methodListChats      = "/" + serviceName + "/ListChats"
	methodListMessages   = "/" + serviceName + "/ListMessages"
	methodSearchMessages = "/" + serviceName + "/SearchMessages"
	methodMarkChatRead   = "/" + serviceName + "/MarkChatRead"
	methodGetChat        = "/" + serviceName + "/GetChat"
	methodGetStatus      = "/" + serviceName + "/GetStatus"
)

// QueryServer is the server side of chatfeed.v1.QueryService.
type QueryServer interface {
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SearchMessages(context.Context, *SearchMessagesRequest) (*SearchMessagesResponse, error)
	MarkChatRead(context.Context, *MarkChatReadRequest) (*MarkChatReadResponse, error)
	GetChat(context.Context, *GetChatRequest) (*GetChatResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
}

// StatsSource reports live feed counters.
type StatsSource interface {
	Stats() hub.Stats
}

// QueryService implements QueryServer against the store.
type QueryService struct {
	db        *store.DB
	stats     StatsSource
	profile   string
	startedAt time.Time
	logger    *zap.Logger
}

// NewQueryService creates the query service. stats may be nil.
func NewQueryService(db *store.DB, stats StatsSource, profile string, logger *zap.Logger) *QueryService {
	return &QueryService{
		db:        db,
		stats:     stats,
		profile:   profile,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// Register attaches the service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv QueryServer) {
	s.RegisterService(&queryServiceDesc, srv)
}

func (s *QueryService) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	limit := pageLimit(req.Limit)
	chats, err := s.db.ListChats(ctx, req.Offset, limit)
	if err != nil {
		return nil, s.toStatus("list chats", err)
	}
	return &ListChatsResponse{Chats: chats, HasMore: len(chats) == limit}, nil
}

func (s *QueryService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	limit := pageLimit(req.Limit)
	msgs, err := s.db.ListMessages(ctx, req.ChatID, req.Offset, limit)
	if err != nil {
		return nil, s.toStatus("list messages", err)
	}
	return &ListMessagesResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *QueryService) SearchMessages(ctx context.Context, req *SearchMessagesRequest) (*SearchMessagesResponse, error) {
	msgs, err := s.db.SearchMessages(ctx, req.ChatID, req.Query, req.Limit)
	if err != nil {
		return nil, s.toStatus("search messages", err)
	}
	return &SearchMessagesResponse{Messages: msgs}, nil
}

func (s *QueryService) MarkChatRead(ctx context.Context, req *MarkChatReadRequest) (*MarkChatReadResponse, error) {
	if err := s.db.MarkChatRead(ctx, req.ChatID); err != nil {
		return nil, s.toStatus("mark chat read", err)
	}
	return &MarkChatReadResponse{}, nil
}

func (s *QueryService) GetChat(ctx context.Context, req *GetChatRequest) (*GetChatResponse, error) {
	c, err := s.db.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, s.toStatus("get chat", err)
	}
	if c == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %d not found", req.ChatID)
	}
	return &GetChatResponse{Chat: *c}, nil
}

func (s *QueryService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		Profile:   s.profile,
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
		Mutations: s.db.Mutations(),
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Subscribers = st.Subscribers
		resp.Generated = st.Generated
		resp.LastGeneratedAt = st.LastGeneratedAt
	}
	if n, err := s.db.ChatCount(); err == nil {
		resp.ChatCount = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp.MessageCount = n
	}
	return resp, nil
}

func (s *QueryService) toStatus(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	}
	s.logger.Error("query failed", zap.String("op", op), zap.Error(err))
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return store.DefaultPageSize
	}
	return limit
}

// unary builds a method handler that decodes Req and calls fn.
func unary[Req any, Resp any](method string, fn func(QueryServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(QueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(QueryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListChats", Handler: unary(methodListChats, QueryServer.ListChats)},
		{MethodName: "ListMessages", Handler: unary(methodListMessages, QueryServer.ListMessages)},
		{MethodName: "SearchMessages", Handler: unary(methodSearchMessages, QueryServer.SearchMessages)},
		{MethodName: "MarkChatRead", Handler: unary(methodMarkChatRead, QueryServer.MarkChatRead)},
		{MethodName: "GetChat", Handler: unary(methodGetChat, QueryServer.GetChat)},
		{MethodName: "GetStatus", Handler: unary(methodGetStatus, QueryServer.GetStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatfeed/v1/query.proto",
}
