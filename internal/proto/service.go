// Package proto holds the notesync wire contract: JSON message types and
// the NoteSync gRPC service, shared by client and server.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	NoteSync_ServiceName = "notesync.v1.NoteSync"

	NoteSync_Ping_FullMethodName    = "/notesync.v1.NoteSync/Ping"
	NoteSync_Apply_FullMethodName   = "/notesync.v1.NoteSync/Apply"
	NoteSync_Since_FullMethodName   = "/notesync.v1.NoteSync/Since"
	NoteSync_Channel_FullMethodName = "/notesync.v1.NoteSync/Channel"
)

// NoteSyncClient is the client API for the NoteSync service.
type NoteSyncClient interface {
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error)
	Since(ctx context.Context, in *SinceRequest, opts ...grpc.CallOption) (*SinceResponse, error)
	Channel(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientMessage, ServerMessage], error)
}

type noteSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewNoteSyncClient(cc grpc.ClientConnInterface) NoteSyncClient {
	return &noteSyncClient{cc}
}

// jsonCall forces the JSON codec regardless of dial options.
func jsonCall(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *noteSyncClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	if err := c.cc.Invoke(ctx, NoteSync_Ping_FullMethodName, in, out, jsonCall(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *noteSyncClient) Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	out := new(ApplyResponse)
	if err := c.cc.Invoke(ctx, NoteSync_Apply_FullMethodName, in, out, jsonCall(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *noteSyncClient) Since(ctx context.Context, in *SinceRequest, opts ...grpc.CallOption) (*SinceResponse, error) {
	out := new(SinceResponse)
	if err := c.cc.Invoke(ctx, NoteSync_Since_FullMethodName, in, out, jsonCall(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *noteSyncClient) Channel(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientMessage, ServerMessage], error) {
	stream, err := c.cc.NewStream(ctx, &NoteSync_ServiceDesc.Streams[0], NoteSync_Channel_FullMethodName, jsonCall(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ClientMessage, ServerMessage]{ClientStream: stream}, nil
}

// NoteSyncServer is the server API for the NoteSync service.
type NoteSyncServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Apply(context.Context, *ApplyRequest) (*ApplyResponse, error)
	Since(context.Context, *SinceRequest) (*SinceResponse, error)
	Channel(grpc.BidiStreamingServer[ClientMessage, ServerMessage]) error
}

// UnimplementedNoteSyncServer can be embedded for forward compatibility.
type UnimplementedNoteSyncServer struct{}

func (UnimplementedNoteSyncServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedNoteSyncServer) Apply(context.Context, *ApplyRequest) (*ApplyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Apply not implemented")
}
func (UnimplementedNoteSyncServer) Since(context.Context, *SinceRequest) (*SinceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Since not implemented")
}
func (UnimplementedNoteSyncServer) Channel(grpc.BidiStreamingServer[ClientMessage, ServerMessage]) error {
	return status.Error(codes.Unimplemented, "method Channel not implemented")
}

func RegisterNoteSyncServer(s grpc.ServiceRegistrar, srv NoteSyncServer) {
	s.RegisterService(&NoteSync_ServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(NoteSyncServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NoteSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(NoteSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(NoteSyncServer).Channel(&grpc.GenericServerStream[ClientMessage, ServerMessage]{ServerStream: stream})
}

// NoteSync_ServiceDesc is the grpc.ServiceDesc for the NoteSync service.
var NoteSync_ServiceDesc = grpc.ServiceDesc{
	ServiceName: NoteSync_ServiceName,
	HandlerType: (*NoteSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ping",
			Handler: unaryHandler(NoteSync_Ping_FullMethodName, func(s NoteSyncServer, ctx context.Context, in *PingRequest) (any, error) {
				return s.Ping(ctx, in)
			}),
		},
		{
			MethodName: "Apply",
			Handler: unaryHandler(NoteSync_Apply_FullMethodName, func(s NoteSyncServer, ctx context.Context, in *ApplyRequest) (any, error) {
				return s.Apply(ctx, in)
			}),
		},
		{
			MethodName: "Since",
			Handler: unaryHandler(NoteSync_Since_FullMethodName, func(s NoteSyncServer, ctx context.Context, in *SinceRequest) (any, error) {
				return s.Since(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "notesync.v1",
}
