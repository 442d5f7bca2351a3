// Package syncer runs the client's sync passes: flush the outbound queue,
// fetch the delta since the checkpoint, merge it, then advance the
// checkpoint. It also owns connection state and reconnection.
package syncer

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/storage"
	"github.com/dmitrijs2005/notesync/internal/client/transport"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/jonboulle/clockwork"
)

var (
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrOffline            = errors.New("offline")
	ErrRetriesExhausted   = errors.New("operation retries exhausted")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

type State string

const (
	Offline    State = "offline"
	OnlineIdle State = "online"
	Syncing    State = "syncing"
)

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

type Config struct {
	SyncInterval      time.Duration
	ConnectTimeout    time.Duration
	CallTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	Backoff           Backoff
	// MaxParallel bounds how many notes replay at once.
	MaxParallel int
}

func DefaultConfig() Config {
	return Config{
		SyncInterval:      30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		CallTimeout:       15 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectAttempts: 5,
		Backoff:           BackoffFixed,
		MaxParallel:       4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.Backoff == "" {
		c.Backoff = d.Backoff
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	return c
}

const lockStripes = 64

type Coordinator struct {
	cfg       Config
	store     *storage.Store
	transport transport.Transport
	bus       *events.Bus
	reg       transport.Registration
	clock     clockwork.Clock
	logger    logging.Logger

	locks [lockStripes]sync.Mutex

	flightMu sync.Mutex
	inFlight map[string]struct{}

	mu      sync.Mutex
	session *transport.Session
	passing bool

	requests  chan struct{}
	reconnect chan struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

func New(cfg Config, store *storage.Store, tr transport.Transport, bus *events.Bus, reg transport.Registration, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		store:     store,
		transport: tr,
		bus:       bus,
		reg:       reg,
		clock:     clockwork.NewRealClock(),
		logger:    logging.NopLogger{},
		inFlight:  make(map[string]struct{}),
		requests:  make(chan struct{}, 1),
		reconnect: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "syncer")
	return c
}

// LockNote serializes local writes to one note with replay and merge.
// Never emit events while holding it.
func (c *Coordinator) LockNote(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &c.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// setInFlight marks a note whose op is out on the wire. Callers hold the
// note lock.
func (c *Coordinator) setInFlight(id string, on bool) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if on {
		c.inFlight[id] = struct{}{}
	} else {
		delete(c.inFlight, id)
	}
}

func (c *Coordinator) isInFlight(id string) bool {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.session == nil:
		return Offline
	case c.passing:
		return Syncing
	}
	return OnlineIdle
}

func (c *Coordinator) beginPass() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrOffline
	}
	if c.passing {
		return ErrSyncInProgress
	}
	c.passing = true
	return nil
}

func (c *Coordinator) endPass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passing = false
}

func (c *Coordinator) currentSession() *transport.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start launches the connection and scheduling loop. It returns at once;
// the first connect and pass happen in the background.
func (c *Coordinator) Start(ctx context.Context) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop disconnects deliberately and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RequestSync asks for a pass now. While offline it asks for a reconnect
// instead, which is followed by a pass.
func (c *Coordinator) RequestSync() {
	if c.State() == Offline {
		c.Reconnect()
		return
	}
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Reconnect restarts connection attempts after they were exhausted.
func (c *Coordinator) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.disconnect(ctx)

	ticker := c.clock.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	c.connectWithRetry(ctx)

	for {
		var (
			pushes   <-chan transport.Push
			sessDone <-chan struct{}
		)
		if s := c.currentSession(); s != nil {
			pushes, sessDone = s.Pushes(), s.Done()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tryPass(ctx)
		case <-c.requests:
			c.tryPass(ctx)
		case <-c.reconnect:
			if c.currentSession() == nil {
				c.connectWithRetry(ctx)
			}
		case p := <-pushes:
			c.handlePush(ctx, p)
		case <-sessDone:
			if ctx.Err() != nil {
				return
			}
			s := c.currentSession()
			c.logger.Warn(ctx, "channel dropped", "error", s.Err())
			c.disconnect(ctx)
			c.connectWithRetry(ctx)
		}
	}
}

func (c *Coordinator) tryPass(ctx context.Context) {
	err := c.SyncNow(ctx)
	if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrOffline) {
		c.logger.Debug(ctx, "pass skipped", "reason", err)
	}
}

// handlePush merges a pushed note. A push for a note whose op is in flight
// is left to the pass's own pull, which runs after the op settles.
func (c *Coordinator) handlePush(ctx context.Context, p transport.Push) {
	unlock := c.LockNote(p.Note.ID)
	if c.isInFlight(p.Note.ID) {
		unlock()
		c.logger.Debug(ctx, "push deferred, op in flight", "note_id", p.Note.ID)
		c.RequestSync()
		return
	}
	ev, err := c.mergeLocked(ctx, p.Note)
	unlock()
	if err != nil {
		c.logger.Error(ctx, "failed to merge push", "note_id", p.Note.ID, "error", err)
		c.bus.Emit(events.Event{Kind: events.SyncError, NoteID: p.Note.ID, Err: err})
		return
	}
	if ev != nil {
		c.bus.Emit(*ev)
	}
}

// dropSession ends the current session so the loop reconnects.
func (c *Coordinator) dropSession() {
	if s := c.currentSession(); s != nil {
		s.Close()
	}
}

func (c *Coordinator) disconnect(ctx context.Context) {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.Close()
	c.logger.Info(ctx, "offline")
	c.bus.Emit(events.Event{Kind: events.Network, Online: false})
}
