// Package engine is the client's entry point: it owns one user's local
// database, transport and sync coordinator, and exposes the note
// operations a UI calls. Engines share no state with each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/storage"
	"github.com/dmitrijs2005/notesync/internal/client/syncer"
	"github.com/dmitrijs2005/notesync/internal/client/transport"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/filex"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/jonboulle/clockwork"
)

var (
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrNotInConflict      = errors.New("note is not in conflict")
)

type Config struct {
	// DataDir holds one SQLite file per user and device.
	DataDir string
	// Transport is "grpc" (default) or "http".
	Transport         string
	GRPCAddress       string
	HTTPAddress       string
	HeartbeatInterval time.Duration
	Sync              syncer.Config
}

type Credentials struct {
	UserID string
	Token  string
}

type Device struct {
	ID   string
	Meta map[string]string
}

type Resolution string

const (
	KeepLocal  Resolution = "local"
	KeepRemote Resolution = "remote"
)

func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case KeepLocal, KeepRemote:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("%w: resolution must be %q or %q", common.ErrValidation, KeepLocal, KeepRemote)
}

// TransportFactory builds the transport for a signed-in user.
type TransportFactory func(cfg Config, creds Credentials, clock clockwork.Clock, logger logging.Logger) (transport.Transport, error)

func DefaultTransport(cfg Config, creds Credentials, clock clockwork.Clock, logger logging.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "", "grpc":
		opts := []transport.GRPCOption{transport.WithClock(clock), transport.WithLogger(logger)}
		if cfg.HeartbeatInterval > 0 {
			opts = append(opts, transport.WithHeartbeat(cfg.HeartbeatInterval))
		}
		return transport.NewGRPCTransport(cfg.GRPCAddress, creds.Token, opts...), nil
	case "http":
		return transport.NewHTTPTransport(cfg.HTTPAddress, creds.Token, nil), nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", common.ErrValidation, cfg.Transport)
}

type Engine struct {
	cfg          Config
	clock        clockwork.Clock
	logger       logging.Logger
	dsn          string
	newTransport TransportFactory
	bus          *events.Bus

	mu        sync.RWMutex
	store     *storage.Store
	transport transport.Transport
	coord     *syncer.Coordinator
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithTransport(f TransportFactory) Option {
	return func(e *Engine) { e.newTransport = f }
}

// WithDSN overrides the database location derived from DataDir.
func WithDSN(dsn string) Option {
	return func(e *Engine) { e.dsn = dsn }
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		clock:        clockwork.NewRealClock(),
		logger:       logging.NopLogger{},
		newTransport: DefaultTransport,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("module", "engine")
	e.bus = events.NewBus(e.logger)
	return e
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func databaseName(creds Credentials, dev Device) string {
	return fmt.Sprintf("notes-%s-%s.db",
		unsafeName.ReplaceAllString(creds.UserID, "_"),
		unsafeName.ReplaceAllString(dev.ID, "_"))
}

func (e *Engine) databasePath(creds Credentials, dev Device) (string, error) {
	if e.dsn != "" {
		return e.dsn, nil
	}
	dir, err := filex.EnsureDir(e.cfg.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databaseName(creds, dev)), nil
}

// Init opens the local database, puts interrupted operations back in the
// queue and starts syncing in the background.
func (e *Engine) Init(ctx context.Context, creds Credentials, dev Device) error {
	if creds.UserID == "" || dev.ID == "" {
		return fmt.Errorf("%w: user and device ids are required", common.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return ErrAlreadyInitialized
	}

	dsn, err := e.databasePath(creds, dev)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, dsn, e.clock)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	n, err := store.Operations.Recover(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}
	if n > 0 {
		e.logger.Info(ctx, "requeued interrupted operations", "count", n)
	}

	tr, err := e.newTransport(e.cfg, creds, e.clock, e.logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	coord := syncer.New(e.cfg.Sync, store, tr, e.bus,
		transport.Registration{DeviceID: dev.ID, Meta: dev.Meta},
		syncer.WithClock(e.clock), syncer.WithLogger(e.logger))

	e.store, e.transport, e.coord = store, tr, coord
	coord.Start(context.WithoutCancel(ctx))

	e.logger.Info(ctx, "engine started", "user_id", creds.UserID, "device_id", dev.ID)
	return nil
}

// Shutdown stops syncing and closes the database. The engine can be
// initialized again afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}

	e.coord.Stop()
	err := errors.Join(e.transport.Close(), e.store.Close())
	e.store, e.transport, e.coord = nil, nil, nil

	e.logger.Info(ctx, "engine stopped")
	return err
}

func (e *Engine) parts() (*storage.Store, *syncer.Coordinator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return nil, nil, ErrNotInitialized
	}
	return e.store, e.coord, nil
}

func (e *Engine) Subscribe(kind events.Kind, fn events.Listener) func() {
	return e.bus.Subscribe(kind, fn)
}

func (e *Engine) State() syncer.State {
	_, coord, err := e.parts()
	if err != nil {
		return syncer.Offline
	}
	return coord.State()
}

func (e *Engine) SyncNow(ctx context.Context) error {
	_, coord, err := e.parts()
	if err != nil {
		return err
	}
	return coord.SyncNow(ctx)
}

func (e *Engine) RequestSync() {
	if _, coord, err := e.parts(); err == nil {
		coord.RequestSync()
	}
}

func (e *Engine) Reconnect() {
	if _, coord, err := e.parts(); err == nil {
		coord.Reconnect()
	}
}

// Checkpoint is the server time up to which changes have been merged.
func (e *Engine) Checkpoint(ctx context.Context) (time.Time, error) {
	store, _, err := e.parts()
	if err != nil {
		return time.Time{}, err
	}
	return store.Metadata.GetCheckpoint(ctx)
}

// nudge schedules a pass after a local write, unless offline.
func nudge(coord *syncer.Coordinator) {
	if coord.State() != syncer.Offline {
		coord.RequestSync()
	}
}
