package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/storage"
	"github.com/dmitrijs2005/notesync/internal/client/transport"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// memServer versions notes the way the server does and lets tests inject
// failures.
type memServer struct {
	mu       sync.Mutex
	now      time.Time
	notes    map[string]*models.Note
	lastOp   map[string]string
	applied  []transport.ApplyRequest
	sessions []*transport.Session
	connects int

	applyErrs   []error
	connectErrs []error
	sinceErr    error

	// parked, when set, receives once per Apply and the call then waits for
	// release.
	parked  chan string
	release chan struct{}
}

var _ transport.Transport = (*memServer)(nil)

func newMemServer() *memServer {
	return &memServer{now: t0, notes: map[string]*models.Note{}, lastOp: map[string]string{}}
}

func (m *memServer) tick() time.Time {
	m.now = m.now.Add(time.Millisecond)
	return m.now
}

func (m *memServer) Connect(ctx context.Context, reg transport.Registration) (*transport.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := transport.NewSession(fmt.Sprintf("ch-%d", m.connects), nil, nil)
	m.sessions = append(m.sessions, s)
	return s, nil
}

// park makes every following Apply wait until the returned release func is
// called.
func (m *memServer) park() (parked <-chan string, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked = make(chan string, 16)
	m.release = make(chan struct{})
	var once sync.Once
	return m.parked, func() { once.Do(func() { close(m.release) }) }
}

func (m *memServer) Apply(ctx context.Context, req transport.ApplyRequest) (*transport.ApplyResult, error) {
	m.mu.Lock()
	parked, release := m.parked, m.release
	m.mu.Unlock()
	if parked != nil {
		parked <- req.NoteID
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, req)
	if len(m.applyErrs) > 0 {
		err := m.applyErrs[0]
		m.applyErrs = m.applyErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	cur := m.notes[req.NoteID]
	if cur == nil {
		if req.Kind == models.OpDelete {
			return nil, common.ErrNotFound
		}
		n := &models.Note{ID: req.NoteID, Title: req.Payload.Title, Body: req.Payload.Body, Version: 1, UpdatedAt: m.tick(), SyncStatus: models.StatusSynced}
		m.notes[n.ID] = n
		m.lastOp[n.ID] = req.OpID
		return &transport.ApplyResult{Applied: true, Note: n.Clone()}, nil
	}
	if m.lastOp[req.NoteID] == req.OpID {
		return &transport.ApplyResult{Applied: true, Note: cur.Clone()}, nil
	}
	if req.ExpectedVersion < cur.Version {
		return &transport.ApplyResult{Applied: false, Note: cur.Clone()}, nil
	}

	next := cur.Clone()
	next.Version++
	next.UpdatedAt = m.tick()
	if req.Kind == models.OpDelete {
		at := next.UpdatedAt
		next.DeletedAt = &at
	} else {
		next.Title, next.Body, next.DeletedAt = req.Payload.Title, req.Payload.Body, nil
	}
	m.notes[next.ID] = next
	m.lastOp[next.ID] = req.OpID
	return &transport.ApplyResult{Applied: true, Note: next.Clone()}, nil
}

func (m *memServer) Since(ctx context.Context, ts time.Time) (*transport.Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sinceErr != nil {
		return nil, m.sinceErr
	}
	var out []*models.Note
	for _, n := range m.notes {
		if n.UpdatedAt.After(ts) {
			out = append(out, n.Clone())
		}
	}
	return &transport.Delta{Notes: out, SyncTime: m.now}, nil
}

func (m *memServer) Close() error { return nil }

// write simulates another device's accepted change.
func (m *memServer) write(id, title string) *models.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.notes[id].Clone()
	if n == nil {
		n = &models.Note{ID: id, SyncStatus: models.StatusSynced}
	}
	n.Version++
	n.Title = title
	n.UpdatedAt = m.tick()
	m.notes[id] = n
	m.lastOp[id] = "other-device"
	return n.Clone()
}

func (m *memServer) note(id string) *models.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes[id].Clone()
}

func (m *memServer) applyCalls() []transport.ApplyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.ApplyRequest(nil), m.applied...)
}

func (m *memServer) lastSession() *transport.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[len(m.sessions)-1]
}

func (m *memServer) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
	ch  chan events.Event
}

func newRecorder(bus *events.Bus) *recorder {
	r := &recorder{ch: make(chan events.Event, 1024)}
	bus.Subscribe(events.All, func(e events.Event) error {
		r.mu.Lock()
		r.evs = append(r.evs, e)
		r.mu.Unlock()
		r.ch <- e
		return nil
	})
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.evs))
	for _, e := range r.evs {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) of(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// waitFor consumes events until one of kind arrives.
func (r *recorder) waitFor(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

type fixture struct {
	c     *Coordinator
	srv   *memServer
	store *storage.Store
	clock *clockwork.FakeClock
	rec   *recorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store, err := storage.Open(context.Background(), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus(nil)
	f := &fixture{srv: newMemServer(), store: store, clock: clock, rec: newRecorder(bus)}
	f.c = New(cfg, store, f.srv, bus, transport.Registration{DeviceID: "d1"}, WithClock(clock))
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.c.connectOnce(context.Background()))
}

func (f *fixture) get(t *testing.T, id string) *models.Note {
	t.Helper()
	n, err := f.store.Notes.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f *fixture) create(t *testing.T, id, title string) {
	t.Helper()
	f.write(t, models.OpCreate, &models.Note{ID: id, Title: title, UpdatedAt: t0})
}

func (f *fixture) update(t *testing.T, id, title string) {
	t.Helper()
	n := f.get(t, id)
	require.NotNil(t, n)
	n.Title = title
	f.write(t, models.OpUpdate, n)
}

func (f *fixture) remove(t *testing.T, id string) {
	t.Helper()
	n := f.get(t, id)
	require.NotNil(t, n)
	at := t0
	n.DeletedAt = &at
	f.write(t, models.OpDelete, n)
}

func (f *fixture) write(t *testing.T, kind models.OpKind, n *models.Note) {
	t.Helper()
	err := f.store.InTx(context.Background(), func(ctx context.Context, r *storage.Repositories) error {
		if err := r.Notes.Upsert(ctx, n, models.StatusPending); err != nil {
			return err
		}
		_, err := r.Operations.Enqueue(ctx, kind, n.ID, n.Data())
		return err
	})
	require.NoError(t, err)
}
