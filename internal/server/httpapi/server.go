// Package httpapi serves the REST fallback and the WebSocket channel.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/channel"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/services"
	"github.com/gorilla/mux"
)

type NoteService interface {
	Apply(ctx context.Context, userID string, origin broadcast.Origin, noteID string, expectedVersion int64, m models.Mutation) (*services.ApplyResult, error)
	Since(ctx context.Context, userID string, ts time.Time) ([]*models.Note, time.Time, error)
}

type ChannelService interface {
	Serve(ctx context.Context, userID string, conn channel.Conn) error
}

type TokenVerifier interface {
	UserID(token string) (string, error)
}

type Server struct {
	address        string
	notes          NoteService
	channels       ChannelService
	verifier       TokenVerifier
	originPatterns []string
	logger         logging.Logger
}

func NewServer(address string, logger logging.Logger, notes NoteService, channels ChannelService, verifier TokenVerifier, originPatterns []string) *Server {
	return &Server{
		address:        address,
		notes:          notes,
		channels:       channels,
		verifier:       verifier,
		originPatterns: originPatterns,
		logger:         logger.With("module", "http_server"),
	}
}

// Handler builds the routed handler with its middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/notes", s.listNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.createNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}", s.updateNote).Methods(http.MethodPut)
	api.HandleFunc("/notes/{id}", s.deleteNote).Methods(http.MethodDelete)
	api.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is done, then shuts down gracefully. Request
// contexts derive from ctx so open WebSocket sessions end with it.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
