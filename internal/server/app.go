// Package server wires the notesync server: storage, arbiter, broadcaster,
// the gRPC and HTTP endpoints and the session reaper.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/auth"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/channel"
	"github.com/dmitrijs2005/notesync/internal/server/config"
	"github.com/dmitrijs2005/notesync/internal/server/httpapi"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/notesync/internal/server/services"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	gs "github.com/dmitrijs2005/notesync/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	hub         *broadcast.Hub
	sessions    *services.SessionService
	grpcServer  *gs.GRPCServer
	httpServer  *httpapi.Server

	natsConn *nats.Conn
}

// natsDial is a seam for tests.
var natsDial = broadcast.ConnectNATS

func NewApp(c *config.Config) (*App, error) {
	return newApp(c, os.Stdout)
}

func newApp(c *config.Config, logOut io.Writer) (*App, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(logOut, level)

	echo, err := broadcast.ParseEchoSuppression(c.EchoSuppression)
	if err != nil {
		return nil, err
	}

	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}

	var rm repomanager.RepositoryManager
	if c.DatabaseDSN == "" {
		logger.Info(context.Background(), "no database DSN configured, using in-memory storage")
		rm = repomanager.NewInMemoryRepositoryManager()
	} else {
		pg, err := repomanager.NewPostgresRepositoryManager(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = pg
	}

	clock := clockwork.NewRealClock()
	hub := broadcast.NewHub(logger, broadcast.WithEchoSuppression(echo), broadcast.WithBuffer(c.SubscriberBuffer))
	notes := services.NewNoteService(rm, hub, clock, c.DeltaOverlap, logger)
	sessions := services.NewSessionService(rm, clock, logger)
	sessions.SetEvictor(hub)
	channels := channel.NewHandler(sessions, notes, hub, logger)
	verifier := auth.NewVerifier(c.SecretKey)

	return &App{
		config:      c,
		logger:      logger.With("node_id", c.NodeID),
		repomanager: rm,
		hub:         hub,
		sessions:    sessions,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, notes, channels, verifier),
		httpServer:  httpapi.NewServer(c.EndpointAddrHTTP, logger, notes, channels, verifier, nil),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startRelay(ctx context.Context) error {
	if app.config.NATSURL == "" {
		return nil
	}

	conn, err := natsDial(app.config.NATSURL, "notesync-"+app.config.NodeID)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	app.natsConn = conn

	relay := broadcast.NewNATSRelay(conn, app.hub, app.config.NodeID, app.logger)
	if err := relay.Start(); err != nil {
		conn.Close()
		return err
	}
	app.logger.Info(ctx, "cross-node relay started", "url", app.config.NATSURL)
	return nil
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives or a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	defer func() {
		if app.natsConn != nil {
			app.natsConn.Close()
		}
		if err := app.repomanager.Close(); err != nil {
			app.logger.Warn(ctx, "closing storage", "error", err)
		}
	}()

	if err := app.repomanager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := app.startRelay(ctx); err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		app.logger.Error(ctx, err.Error())
		errOnce.Do(func() { firstErr = err })
		cancelFunc()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.grpcServer.Run(ctx); err != nil {
			fail(fmt.Errorf("grpc server: %w", err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			fail(fmt.Errorf("http server: %w", err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sessions.RunReaper(ctx, app.config.ReaperInterval, app.config.SessionTTL)
	}()

	wg.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "app stopped")

	return firstErr
}
