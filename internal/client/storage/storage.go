// Package storage opens the device's SQLite database and binds the client
// repositories to it.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/operations"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Repositories is one consistent view of the local database, either the
// pool or a single transaction.
type Repositories struct {
	Notes      notes.Repository
	Operations operations.Repository
	Metadata   metadata.Repository
}

type Store struct {
	Repositories
	db    *sql.DB
	clock clockwork.Clock
}

func newRepositories(db dbx.DBTX, clock clockwork.Clock) Repositories {
	return Repositories{
		Notes:      notes.NewSQLiteRepository(db),
		Operations: operations.NewSQLiteRepository(db, clock),
		Metadata:   metadata.NewSQLiteRepository(db),
	}
}

// Migrate applies the embedded schema. The provider is private to db so
// several stores can be migrated from one process.
func Migrate(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// one connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per connection
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		Repositories: newRepositories(db, clock),
		db:           db,
		clock:        clock,
	}, nil
}

// InTx runs fn against repositories bound to a single transaction. With one
// pooled connection, fn must not touch the Store's own repositories.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := newRepositories(tx, s.clock)
		return fn(ctx, &r)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
