// Package channel runs the long-lived device session: registration,
// heartbeats, delta requests and pushed changes. It is independent of the
// carrier; gRPC streams and WebSockets both adapt to Conn.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/proto"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

// Conn is one bidirectional message stream. Recv returns io.EOF when the
// peer closes cleanly.
type Conn interface {
	Recv(ctx context.Context) (*proto.ClientMessage, error)
	Send(ctx context.Context, msg *proto.ServerMessage) error
}

type SessionRegistry interface {
	Register(ctx context.Context, userID, deviceID string, meta map[string]string) (*models.DeviceSession, []*models.DeviceSession, error)
	Touch(ctx context.Context, channelID string) error
	Deregister(ctx context.Context, channelID string) error
}

type DeltaSource interface {
	Since(ctx context.Context, userID string, ts time.Time) ([]*models.Note, time.Time, error)
}

type Handler struct {
	sessions SessionRegistry
	notes    DeltaSource
	hub      *broadcast.Hub
	logger   logging.Logger
}

func NewHandler(sessions SessionRegistry, notes DeltaSource, hub *broadcast.Hub, logger logging.Logger) *Handler {
	return &Handler{sessions: sessions, notes: notes, hub: hub, logger: logger.With("module", "channel")}
}

// Serve runs the session until the peer disconnects or ctx is done. The
// first message must be a register.
func (h *Handler) Serve(ctx context.Context, userID string, conn Conn) error {
	first, err := conn.Recv(ctx)
	if err != nil {
		return err
	}
	if first.Type != proto.TypeRegister || first.Register == nil {
		_ = conn.Send(ctx, errorMessage("first message must be register"))
		return fmt.Errorf("%w: expected register, got %q", common.ErrValidation, first.Type)
	}

	sess, devices, err := h.sessions.Register(ctx, userID, first.Register.DeviceID, first.Register.DeviceMeta)
	if err != nil {
		_ = conn.Send(ctx, errorMessage(err.Error()))
		return err
	}

	logger := h.logger.With("user_id", userID, "channel_id", sess.ChannelID)

	sub := h.hub.Join(userID, sess.DeviceID, sess.ChannelID)
	defer func() {
		h.hub.Leave(sub)
		if err := h.sessions.Deregister(context.WithoutCancel(ctx), sess.ChannelID); err != nil {
			logger.Warn(ctx, "deregister failed", "error", err)
		}
	}()

	reg := &proto.Registered{ChannelID: sess.ChannelID, Devices: make([]proto.Device, 0, len(devices))}
	for _, d := range devices {
		reg.Devices = append(reg.Devices, d.ToProto())
	}
	if err := conn.Send(ctx, &proto.ServerMessage{Type: proto.TypeRegistered, Registered: reg}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan *proto.ServerMessage, 8)
	writerDone := make(chan error, 1)
	go func() {
		err := h.writeLoop(ctx, conn, sub, out)
		cancel()
		writerDone <- err
	}()

	err = h.readLoop(ctx, userID, sess.ChannelID, conn, out, logger)
	cancel()
	if werr := <-writerDone; err == nil {
		err = werr
	}
	return err
}

func (h *Handler) readLoop(ctx context.Context, userID, channelID string, conn Conn, out chan<- *proto.ServerMessage, logger logging.Logger) error {
	reply := func(m *proto.ServerMessage) bool {
		select {
		case out <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch msg.Type {
		case proto.TypeHeartbeat:
			if err := h.sessions.Touch(ctx, channelID); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					reply(errorMessage("session expired"))
					return err
				}
				logger.Warn(ctx, "heartbeat touch failed", "error", err)
			}

		case proto.TypeSyncRequest:
			var since time.Time
			if msg.SyncRequest != nil {
				since = msg.SyncRequest.Since
			}
			notes, syncTime, err := h.notes.Since(ctx, userID, since)
			if err != nil {
				logger.Error(ctx, "delta query failed", "error", err)
				if !reply(errorMessage("delta query failed")) {
					return nil
				}
				continue
			}
			if !reply(&proto.ServerMessage{
				Type:         proto.TypeSyncResponse,
				SyncResponse: &proto.SinceResponse{Notes: models.NotesToProto(notes), SyncTime: syncTime},
			}) {
				return nil
			}

		case proto.TypeRegister:
			if !reply(errorMessage("already registered")) {
				return nil
			}

		default:
			if !reply(errorMessage(fmt.Sprintf("unknown message type %q", msg.Type))) {
				return nil
			}
		}
	}
}

// writeLoop is the only goroutine that sends after registration.
func (h *Handler) writeLoop(ctx context.Context, conn Conn, sub *broadcast.Subscriber, out <-chan *proto.ServerMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-out:
			if err := conn.Send(ctx, m); err != nil {
				return err
			}
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := conn.Send(ctx, pushMessage(ev)); err != nil {
				return err
			}
		}
	}
}

func pushMessage(ev broadcast.Event) *proto.ServerMessage {
	t := proto.TypeNoteUpdated
	switch ev.Kind {
	case broadcast.EventCreated:
		t = proto.TypeNoteCreated
	case broadcast.EventDeleted:
		t = proto.TypeNoteDeleted
	}
	return &proto.ServerMessage{Type: t, Push: &proto.Push{Note: ev.Note.ToProto(), Timestamp: ev.Timestamp}}
}

func errorMessage(msg string) *proto.ServerMessage {
	return &proto.ServerMessage{Type: proto.TypeError, Error: msg}
}
