// Package grpc exposes the note service and the device channel over gRPC.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
	pb "github.com/dmitrijs2005/notesync/internal/proto"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/channel"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

const gracePeriod = 5 * time.Second

type NoteService interface {
	Apply(ctx context.Context, userID string, origin broadcast.Origin, noteID string, expectedVersion int64, m models.Mutation) (*services.ApplyResult, error)
	Since(ctx context.Context, userID string, ts time.Time) ([]*models.Note, time.Time, error)
}

type ChannelService interface {
	Serve(ctx context.Context, userID string, conn channel.Conn) error
}

type TokenVerifier interface {
	UserID(token string) (string, error)
}

type GRPCServer struct {
	pb.UnimplementedNoteSyncServer
	address  string
	notes    NoteService
	channels ChannelService
	verifier TokenVerifier
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, notes NoteService, channels ChannelService, verifier TokenVerifier) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		notes:    notes,
		channels: channels,
		verifier: verifier,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	pb.RegisterNoteSyncServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")

		// open channel streams never finish on their own
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracePeriod):
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
