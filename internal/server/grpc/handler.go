package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/notesync/internal/common"
	pb "github.com/dmitrijs2005/notesync/internal/proto"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service sentinels onto gRPC codes. Anything unknown is
// Internal and its text is not leaked.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrVersionConflict):
		return status.Error(codes.Aborted, "version conflict")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) Ping(ctx context.Context, req *pb.PingRequest) (*pb.PingResponse, error) {
	return &pb.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Apply(ctx context.Context, req *pb.ApplyRequest) (*pb.ApplyResponse, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	channelID := req.ChannelID
	if channelID == "" {
		channelID = channelIDFromContext(ctx)
	}

	m := models.Mutation{OpID: req.OpID, Kind: models.MutationKind(req.Kind), Title: req.Title, Body: req.Body}
	res, err := s.notes.Apply(ctx, userID, broadcast.Origin{ChannelID: channelID}, req.NoteID, req.ExpectedVersion, m)
	if err != nil {
		st := toStatus(err)
		if status.Code(st) == codes.Internal {
			s.logger.Error(ctx, "apply failed", "note_id", req.NoteID, "error", err)
		}
		return nil, st
	}

	if !res.Applied {
		s.logger.Info(ctx, "stale mutation rejected", "note_id", req.NoteID, "expected", req.ExpectedVersion, "current", res.Note.Version)
	}
	return &pb.ApplyResponse{Applied: res.Applied, Note: res.Note.ToProto()}, nil
}

func (s *GRPCServer) Since(ctx context.Context, req *pb.SinceRequest) (*pb.SinceResponse, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	notes, syncTime, err := s.notes.Since(ctx, userID, req.Since)
	if err != nil {
		s.logger.Error(ctx, "delta query failed", "error", err)
		return nil, toStatus(err)
	}

	return &pb.SinceResponse{Notes: models.NotesToProto(notes), SyncTime: syncTime}, nil
}

// streamConn adapts the gRPC stream to channel.Conn.
type streamConn struct {
	stream grpc.BidiStreamingServer[pb.ClientMessage, pb.ServerMessage]
}

func (c streamConn) Recv(context.Context) (*pb.ClientMessage, error) {
	return c.stream.Recv()
}

func (c streamConn) Send(_ context.Context, m *pb.ServerMessage) error {
	return c.stream.Send(m)
}

func (s *GRPCServer) Channel(stream grpc.BidiStreamingServer[pb.ClientMessage, pb.ServerMessage]) error {
	ctx := stream.Context()

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthorized")
	}

	if err := s.channels.Serve(ctx, userID, streamConn{stream: stream}); err != nil {
		s.logger.Warn(ctx, "channel closed with error", "user_id", userID, "error", err)
		return toStatus(err)
	}
	return nil
}
