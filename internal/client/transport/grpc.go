package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/proto"
	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const defaultHeartbeat = 30 * time.Second

type GRPCTransport struct {
	address   string
	token     string
	clock     clockwork.Clock
	heartbeat time.Duration
	dialOpts  []grpc.DialOption
	logger    logging.Logger

	mu        sync.Mutex
	conn      *grpc.ClientConn
	client    proto.NoteSyncClient
	channelID string
}

type GRPCOption func(*GRPCTransport)

// WithDialOptions appends dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(t *GRPCTransport) { t.dialOpts = append(t.dialOpts, opts...) }
}

func WithClock(c clockwork.Clock) GRPCOption {
	return func(t *GRPCTransport) { t.clock = c }
}

func WithHeartbeat(d time.Duration) GRPCOption {
	return func(t *GRPCTransport) { t.heartbeat = d }
}

func WithLogger(l logging.Logger) GRPCOption {
	return func(t *GRPCTransport) { t.logger = l }
}

func NewGRPCTransport(address, token string, opts ...GRPCOption) *GRPCTransport {
	t := &GRPCTransport{
		address:   address,
		token:     token,
		clock:     clockwork.NewRealClock(),
		heartbeat: defaultHeartbeat,
		logger:    logging.NopLogger{},
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = t.logger.With("module", "grpc_transport")
	return t
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (t *GRPCTransport) accessTokenInterceptor(ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(withAccessToken(ctx, t.token), method, req, reply, cc, opts...)
}

func (t *GRPCTransport) streamAccessTokenInterceptor(ctx context.Context, desc *grpc.StreamDesc,
	cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, t.token), desc, cc, method, opts...)
}

// ensureClient creates the connection on first use. grpc.NewClient does not
// dial, so this never blocks.
func (t *GRPCTransport) ensureClient() (proto.NoteSyncClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(t.accessTokenInterceptor),
		grpc.WithStreamInterceptor(t.streamAccessTokenInterceptor),
	}, t.dialOpts...)

	conn, err := grpc.NewClient(t.address, opts...)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	t.client = proto.NewNoteSyncClient(conn)
	return t.client, nil
}

func (t *GRPCTransport) currentChannel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

func (t *GRPCTransport) setChannel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channelID = id
}

func (t *GRPCTransport) clearChannel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channelID == id {
		t.channelID = ""
	}
}

type recvResult struct {
	msg *proto.ServerMessage
	err error
}

// Connect pings the server, opens the channel stream and registers the
// device. ctx bounds the handshake only; the stream lives until the session
// ends.
func (t *GRPCTransport) Connect(ctx context.Context, reg Registration) (*Session, error) {
	client, err := t.ensureClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.Ping(ctx, &proto.PingRequest{})
	if err != nil {
		return nil, mapError(err)
	}
	if resp.Status != "OK" {
		return nil, common.ErrUnavailable
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := client.Channel(streamCtx)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}

	err = stream.Send(&proto.ClientMessage{
		Type:     proto.TypeRegister,
		Register: &proto.Register{DeviceID: reg.DeviceID, DeviceMeta: reg.Meta},
	})
	if errors.Is(err, io.EOF) {
		// the server already ended the stream; the status comes with Recv
		_, err = stream.Recv()
	}
	if err != nil {
		cancel()
		return nil, mapError(err)
	}

	first := make(chan recvResult, 1)
	go func() {
		m, err := stream.Recv()
		first <- recvResult{m, err}
	}()

	var r recvResult
	select {
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("%w: register: %v", common.ErrUnavailable, ctx.Err())
	case r = <-first:
	}

	if r.err != nil {
		cancel()
		return nil, mapError(r.err)
	}
	if r.msg.Type == proto.TypeError {
		cancel()
		return nil, fmt.Errorf("%w: %s", common.ErrValidation, r.msg.Error)
	}
	if r.msg.Type != proto.TypeRegistered || r.msg.Registered == nil {
		cancel()
		return nil, fmt.Errorf("unexpected %q instead of registered", r.msg.Type)
	}

	sess := NewSession(r.msg.Registered.ChannelID, devicesFromProto(r.msg.Registered.Devices), cancel)
	t.setChannel(sess.ChannelID)

	go t.readLoop(stream, sess)
	go t.heartbeatLoop(stream, sess)

	t.logger.Info(ctx, "channel registered", "channel_id", sess.ChannelID, "devices", len(sess.Devices))
	return sess, nil
}

func (t *GRPCTransport) readLoop(stream grpc.BidiStreamingClient[proto.ClientMessage, proto.ServerMessage], sess *Session) {
	defer t.clearChannel(sess.ChannelID)

	for {
		m, err := stream.Recv()
		if err != nil {
			sess.End(mapError(err))
			return
		}

		if kind, ok := pushKind(m.Type); ok {
			if m.Push == nil || m.Push.Note == nil {
				continue
			}
			p := Push{Kind: kind, Note: noteFromProto(m.Push.Note), Timestamp: m.Push.Timestamp}
			if !sess.Deliver(p) {
				return
			}
			continue
		}

		switch m.Type {
		case proto.TypeError:
			t.logger.Warn(context.Background(), "channel error", "error", m.Error)
		default:
			t.logger.Debug(context.Background(), "ignored channel message", "type", m.Type)
		}
	}
}

func (t *GRPCTransport) heartbeatLoop(stream grpc.BidiStreamingClient[proto.ClientMessage, proto.ServerMessage], sess *Session) {
	ticker := t.clock.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.Chan():
			// a send failure also surfaces in readLoop
			if err := stream.Send(&proto.ClientMessage{Type: proto.TypeHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (t *GRPCTransport) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	client, err := t.ensureClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.Apply(ctx, &proto.ApplyRequest{
		OpID:            req.OpID,
		NoteID:          req.NoteID,
		Kind:            kindToProto(req.Kind),
		Title:           req.Payload.Title,
		Body:            req.Payload.Body,
		ExpectedVersion: req.ExpectedVersion,
		ChannelID:       t.currentChannel(),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if resp.Note == nil {
		return nil, errors.New("apply response without note")
	}
	return &ApplyResult{Applied: resp.Applied, Note: noteFromProto(resp.Note)}, nil
}

func (t *GRPCTransport) Since(ctx context.Context, ts time.Time) (*Delta, error) {
	client, err := t.ensureClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.Since(ctx, &proto.SinceRequest{Since: ts})
	if err != nil {
		return nil, mapError(err)
	}
	return &Delta{Notes: notesFromProto(resp.Notes), SyncTime: resp.SyncTime.UTC()}, nil
}

func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.client = nil
	return err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
		}
		return err
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	}
	return fmt.Errorf("rpc error: %w", err)
}
