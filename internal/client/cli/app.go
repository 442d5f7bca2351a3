package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/engine"
	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/syncer"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// notesEngine is the part of *engine.Engine the commands use.
type notesEngine interface {
	GetAllNotes(ctx context.Context) ([]*models.Note, error)
	GetNoteByID(ctx context.Context, id string) (*models.Note, error)
	CreateNote(ctx context.Context, data models.NoteData) (*models.Note, error)
	UpdateNote(ctx context.Context, id string, data models.NoteData) (*models.Note, error)
	DeleteNote(ctx context.Context, id string) error
	SyncNow(ctx context.Context) error
	State() syncer.State
	Checkpoint(ctx context.Context) (time.Time, error)
	Conflicts(ctx context.Context) ([]*models.Note, error)
	ResolveConflict(ctx context.Context, id string, res engine.Resolution) (*models.Note, error)
	FailedOperations(ctx context.Context) ([]*models.Operation, error)
	RetryFailed(ctx context.Context) (int, error)
}

type App struct {
	config *config.Config
	engine *engine.Engine
	notes  notesEngine
	logger logging.Logger
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(c *config.Config) (*App, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(os.Stderr, level)

	e := engine.New(c.Engine(), engine.WithLogger(logger))

	return &App{
		config: c,
		engine: e,
		notes:  e,
		logger: logger,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

// credentials fills in whatever identity the configuration left out by
// asking the user.
func (a *App) credentials() (engine.Credentials, engine.Device, error) {
	var err error
	userID, deviceID, token := a.config.UserID, a.config.DeviceID, a.config.Token

	if userID == "" {
		if userID, err = GetSimpleText(a.reader, "Enter user id", a.out); err != nil {
			return engine.Credentials{}, engine.Device{}, err
		}
	}
	if deviceID == "" {
		if deviceID, err = GetSimpleText(a.reader, "Enter device id", a.out); err != nil {
			return engine.Credentials{}, engine.Device{}, err
		}
	}
	if token == "" {
		if token, err = GetToken(a.out); err != nil {
			return engine.Credentials{}, engine.Device{}, err
		}
	}
	if token == "" {
		return engine.Credentials{}, engine.Device{}, fmt.Errorf("%w: access token is required", common.ErrValidation)
	}

	host, _ := os.Hostname()
	dev := engine.Device{ID: deviceID, Meta: map[string]string{"client": "cli", "host": host}}
	return engine.Credentials{UserID: userID, Token: token}, dev, nil
}

// Run signs in, starts the engine and blocks in the REPL until the user
// exits or stdin closes.
func (a *App) Run(ctx context.Context) error {
	creds, dev, err := a.credentials()
	if err != nil {
		return err
	}

	a.engine.Subscribe(events.All, func(ev events.Event) error {
		if s := formatEvent(ev); s != "" {
			fmt.Fprintln(a.out, s)
		}
		return nil
	})

	if err := a.engine.Init(ctx, creds, dev); err != nil {
		return err
	}
	defer func() {
		if err := a.engine.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	fmt.Fprintln(a.out, "Welcome to notesync (type 'help' for commands)")
	runREPL(ctx, a, func() string { return string(a.notes.State()) }, bufio.NewScanner(a.reader))
	return nil
}
