// Package broadcast fans committed note changes out to the other live
// channels of the owning user.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

type Event struct {
	Kind      EventKind
	Note      *models.Note
	Timestamp time.Time
}

// Origin identifies the channel a mutation arrived on.
type Origin struct {
	UserID    string
	DeviceID  string
	ChannelID string
}

// EchoSuppression selects which of the user's channels an event skips.
type EchoSuppression string

const (
	// SuppressChannel skips only the originating channel.
	SuppressChannel EchoSuppression = "channel"
	// SuppressDevice skips every channel of the originating device.
	SuppressDevice EchoSuppression = "device"
	// SuppressNone delivers to every channel, the originator included.
	SuppressNone EchoSuppression = "none"
)

func ParseEchoSuppression(s string) (EchoSuppression, error) {
	switch EchoSuppression(s) {
	case SuppressChannel, SuppressDevice, SuppressNone:
		return EchoSuppression(s), nil
	case "":
		return SuppressChannel, nil
	}
	return "", fmt.Errorf("unknown echo suppression mode %q", s)
}

// Relay forwards events to hubs on other server nodes.
type Relay interface {
	Forward(ctx context.Context, origin Origin, ev Event) error
}

// Subscriber is one channel's membership in its user's broadcast group.
type Subscriber struct {
	UserID    string
	DeviceID  string
	ChannelID string
	ch        chan Event
}

// C delivers events until the subscriber leaves, then is closed.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Subscriber

	echo   EchoSuppression
	buffer int
	relay  Relay
	logger logging.Logger
}

type Option func(*Hub)

func WithEchoSuppression(m EchoSuppression) Option {
	return func(h *Hub) { h.echo = m }
}

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

func NewHub(logger logging.Logger, opts ...Option) *Hub {
	h := &Hub{
		groups: make(map[string]map[string]*Subscriber),
		echo:   SuppressChannel,
		buffer: 64,
		logger: logger.With("module", "broadcast"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetRelay attaches a cross-node relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// Join registers a channel in the user's group. Joining with a channel id
// that is already present replaces the old subscriber.
func (h *Hub) Join(userID, deviceID, channelID string) *Subscriber {
	s := &Subscriber{UserID: userID, DeviceID: deviceID, ChannelID: channelID, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[userID]
	if !ok {
		group = make(map[string]*Subscriber)
		h.groups[userID] = group
	}
	if old, ok := group[channelID]; ok {
		close(old.ch)
	}
	group[channelID] = s
	return s
}

// Leave removes the subscriber and closes its channel. Safe to call twice.
func (h *Hub) Leave(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group := h.groups[s.UserID]
	if cur, ok := group[s.ChannelID]; !ok || cur != s {
		return
	}
	delete(group, s.ChannelID)
	close(s.ch)
	if len(group) == 0 {
		delete(h.groups, s.UserID)
	}
}

// Evict drops a channel by id and closes its queue, which ends the stream
// serving it. It reports whether the channel was on this node.
func (h *Hub) Evict(userID, channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	group := h.groups[userID]
	s, ok := group[channelID]
	if !ok {
		return false
	}
	delete(group, channelID)
	close(s.ch)
	if len(group) == 0 {
		delete(h.groups, userID)
	}
	return true
}

// Count returns the number of live channels of a user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

// Publish delivers ev to the user's channels on this node and hands it to
// the relay. It never blocks on a slow subscriber: a full queue drops the
// event, and the next delta sync of that device recovers it.
func (h *Hub) Publish(ctx context.Context, origin Origin, ev Event) {
	origin = h.resolve(origin)
	h.DeliverLocal(ctx, origin, ev)

	if h.relay != nil {
		if err := h.relay.Forward(ctx, origin, ev); err != nil {
			h.logger.Warn(ctx, "relay forward failed", "user_id", origin.UserID, "error", err)
		}
	}
}

// DeliverLocal delivers to this node's subscribers only.
func (h *Hub) DeliverLocal(ctx context.Context, origin Origin, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.groups[origin.UserID] {
		if h.suppressed(origin, s) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn(ctx, "subscriber queue full, event dropped",
				"user_id", s.UserID, "channel_id", s.ChannelID, "note_id", ev.Note.ID)
		}
	}
}

// resolve fills the origin device from its channel when the caller only
// knows the channel.
func (h *Hub) resolve(origin Origin) Origin {
	if origin.DeviceID != "" || origin.ChannelID == "" {
		return origin
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.groups[origin.UserID][origin.ChannelID]; ok {
		origin.DeviceID = s.DeviceID
	}
	return origin
}

func (h *Hub) suppressed(origin Origin, s *Subscriber) bool {
	switch h.echo {
	case SuppressNone:
		return false
	case SuppressDevice:
		return origin.DeviceID != "" && s.DeviceID == origin.DeviceID
	default:
		return origin.ChannelID != "" && s.ChannelID == origin.ChannelID
	}
}
