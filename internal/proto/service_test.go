package proto

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	UnimplementedNoteSyncServer
}

func (echoServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (echoServer) Apply(_ context.Context, in *ApplyRequest) (*ApplyResponse, error) {
	return &ApplyResponse{Applied: true, Note: &Note{ID: in.NoteID, Title: in.Title, Version: in.ExpectedVersion + 1}}, nil
}

func (echoServer) Channel(stream grpc.BidiStreamingServer[ClientMessage, ServerMessage]) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Send(&ServerMessage{Type: TypeRegistered, Registered: &Registered{ChannelID: "ch-" + msg.Register.DeviceID}}); err != nil {
			return err
		}
	}
}

func dial(t *testing.T, srv NoteSyncServer, opts ...grpc.ServerOption) NoteSyncClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	RegisterNoteSyncServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewNoteSyncClient(conn)
}

func TestNoteSync_UnaryOverJSONCodec(t *testing.T) {
	c := dial(t, echoServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pong, err := c.Ping(ctx, &PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OK", pong.Status)

	res, err := c.Apply(ctx, &ApplyRequest{NoteID: "n1", Title: "X", ExpectedVersion: 2, Kind: KindUpdate})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.EqualValues(t, 3, res.Note.Version)
	assert.Equal(t, "X", res.Note.Title)
}

func TestNoteSync_UnimplementedMethod(t *testing.T) {
	c := dial(t, echoServer{})

	_, err := c.Since(context.Background(), &SinceRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestNoteSync_InterceptorSeesFullMethod(t *testing.T) {
	var seen string
	ic := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return handler(ctx, req)
	}
	c := dial(t, echoServer{}, grpc.UnaryInterceptor(ic))

	_, err := c.Ping(context.Background(), &PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, NoteSync_Ping_FullMethodName, seen)
}

func TestNoteSync_ChannelStream(t *testing.T) {
	c := dial(t, echoServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Channel(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&ClientMessage{Type: TypeRegister, Register: &Register{DeviceID: "phone"}}))
	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, TypeRegistered, msg.Type)
	assert.Equal(t, "ch-phone", msg.Registered.ChannelID)

	require.NoError(t, stream.CloseSend())
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCodec_RoundTrip(t *testing.T) {
	del := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &Note{ID: "n1", Version: 7, UpdatedAt: del, DeletedAt: &del}

	b, err := Codec{}.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"deletedAt":"2025-01-01T00:00:00Z"`)

	var out Note
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.Equal(t, *in.DeletedAt, *out.DeletedAt)
	assert.Equal(t, CodecName, Codec{}.Name())
}
