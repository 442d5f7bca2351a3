// Package transport carries the client's traffic to the server: operation
// applies, delta queries, and the live push channel.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/proto"
)

type Registration struct {
	DeviceID string
	Meta     map[string]string
}

type Device struct {
	DeviceID  string
	ChannelID string
	Meta      map[string]string
	LastSeen  time.Time
}

type PushKind string

const (
	PushCreated PushKind = "created"
	PushUpdated PushKind = "updated"
	PushDeleted PushKind = "deleted"
)

// Push is a server-initiated notice of another device's committed change.
type Push struct {
	Kind      PushKind
	Note      *models.Note
	Timestamp time.Time
}

type ApplyRequest struct {
	OpID            string
	NoteID          string
	Kind            models.OpKind
	Payload         models.NoteData
	ExpectedVersion int64
}

// ApplyResult holds the server's copy: the new version when Applied, the
// unchanged authoritative copy otherwise.
type ApplyResult struct {
	Applied bool
	Note    *models.Note
}

type Delta struct {
	Notes    []*models.Note
	SyncTime time.Time
}

// Transport errors are the common sentinels: ErrUnauthorized,
// ErrUnavailable, ErrNotFound and ErrValidation. A version conflict is a
// result (Applied=false), not an error.
type Transport interface {
	Connect(ctx context.Context, reg Registration) (*Session, error)
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
	Since(ctx context.Context, ts time.Time) (*Delta, error)
	Close() error
}

// Session is one live registration with the server. Done closes when the
// channel drops or Close is called; Err tells which.
type Session struct {
	ChannelID string
	Devices   []Device

	pushes chan Push
	done   chan struct{}
	cancel context.CancelFunc

	once sync.Once
	err  error
}

func NewSession(channelID string, devices []Device, cancel context.CancelFunc) *Session {
	if cancel == nil {
		cancel = func() {}
	}
	return &Session{
		ChannelID: channelID,
		Devices:   devices,
		pushes:    make(chan Push, 64),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

func (s *Session) Pushes() <-chan Push { return s.pushes }

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is nil after a deliberate Close, the cause of the drop otherwise.
// Valid once Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

func (s *Session) Close() {
	s.End(nil)
}

// End closes the session with err as the cause; nil means deliberate.
func (s *Session) End(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		s.cancel()
	})
}

// Deliver hands p to the consumer unless the session ends first.
func (s *Session) Deliver(p Push) bool {
	select {
	case s.pushes <- p:
		return true
	case <-s.done:
		return false
	}
}

func noteFromProto(p *proto.Note) *models.Note {
	if p == nil {
		return nil
	}
	n := &models.Note{
		ID:         p.ID,
		Title:      p.Title,
		Body:       p.Body,
		Version:    p.Version,
		UpdatedAt:  p.UpdatedAt.UTC(),
		SyncStatus: models.StatusSynced,
	}
	if p.DeletedAt != nil {
		t := p.DeletedAt.UTC()
		n.DeletedAt = &t
	}
	return n
}

func notesFromProto(ps []*proto.Note) []*models.Note {
	out := make([]*models.Note, 0, len(ps))
	for _, p := range ps {
		if n := noteFromProto(p); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func devicesFromProto(ds []proto.Device) []Device {
	out := make([]Device, 0, len(ds))
	for _, d := range ds {
		out = append(out, Device{DeviceID: d.DeviceID, ChannelID: d.ChannelID, Meta: d.Meta, LastSeen: d.LastSeen})
	}
	return out
}

func pushKind(msgType string) (PushKind, bool) {
	switch msgType {
	case proto.TypeNoteCreated:
		return PushCreated, true
	case proto.TypeNoteUpdated:
		return PushUpdated, true
	case proto.TypeNoteDeleted:
		return PushDeleted, true
	}
	return "", false
}

func kindToProto(k models.OpKind) string {
	switch k {
	case models.OpCreate:
		return proto.KindCreate
	case models.OpUpdate:
		return proto.KindUpdate
	case models.OpDelete:
		return proto.KindDelete
	}
	return string(k)
}
