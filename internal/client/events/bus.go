// Package events fans client-side notifications out to UI listeners.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

type Kind string

const (
	NoteCreated   Kind = "noteCreated"
	NoteUpdated   Kind = "noteUpdated"
	NoteDeleted   Kind = "noteDeleted"
	Conflict      Kind = "conflict"
	SyncStarted   Kind = "syncStarted"
	SyncCompleted Kind = "syncCompleted"
	SyncError     Kind = "syncError"
	Network       Kind = "network"

	// All subscribes to every kind.
	All Kind = "*"
)

type Event struct {
	Kind   Kind
	NoteID string
	Note   *models.Note

	// conflict
	Local  *models.Note
	Remote *models.Note

	// syncError
	Err error

	// network
	Online bool

	// syncCompleted
	Applied   int
	Conflicts int
	Merged    int
	Failed    int
	Duration  time.Duration
}

type Listener func(Event) error

type subscription struct {
	id   uint64
	kind Kind
	fn   Listener
}

// Bus delivers events to listeners one at a time in emit order. A listener
// may emit or subscribe from inside its callback; such events are queued
// behind the current one.
type Bus struct {
	logger logging.Logger

	mu       sync.Mutex
	subs     []subscription
	nextID   uint64
	queue    []Event
	draining bool
}

func NewBus(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Bus{logger: logger.With("module", "events")}
}

// Subscribe registers fn for kind and returns its unsubscribe function.
func (b *Bus) Subscribe(kind Kind, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit queues ev and, unless another goroutine is already delivering,
// delivers the queue before returning.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		targets := b.matching(next.Kind)
		b.mu.Unlock()

		for _, s := range targets {
			b.call(s, next)
		}
	}
}

func (b *Bus) matching(kind Kind) []subscription {
	var out []subscription
	for _, s := range b.subs {
		if s.kind == kind || s.kind == All {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) call(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(context.Background(), "listener panicked", "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	if err := s.fn(ev); err != nil {
		b.logger.Warn(context.Background(), "listener failed", "kind", ev.Kind, "error", err)
	}
}
