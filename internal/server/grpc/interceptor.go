package grpc

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/common"
	pb "github.com/dmitrijs2005/notesync/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	userIDKey    ctxKey = "userID"
	channelIDKey ctxKey = "channelID"
)

// publicMethods are served without a token.
var publicMethods = map[string]struct{}{
	pb.NoteSync_Ping_FullMethodName: {},
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// authenticate resolves the caller from the access_token metadata and
// returns a context carrying the user id and the optional channel id.
func (s *GRPCServer) authenticate(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	accessToken := firstValue(md, common.AccessTokenHeaderName)
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := s.verifier.UserID(accessToken)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = context.WithValue(ctx, userIDKey, userID)
	if ch := firstValue(md, common.ChannelIDHeaderName); ch != "" {
		ctx = context.WithValue(ctx, channelIDKey, ch)
	}
	return ctx, nil
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if _, ok := publicMethods[info.FullMethod]; ok {
		return handler(ctx, req)
	}

	ctx, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

// authStream overrides Context so handlers see the authenticated values.
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (a *authStream) Context() context.Context {
	return a.ctx
}

func (s *GRPCServer) streamAccessTokenInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if _, ok := publicMethods[info.FullMethod]; ok {
		return handler(srv, ss)
	}

	ctx, err := s.authenticate(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
}

func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func channelIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(channelIDKey).(string)
	return id
}
