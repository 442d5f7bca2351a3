package repomanager

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/notes"
)

// RepositoryManager vends repositories bound to a handle and runs units of
// work atomically.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// Conn is the non-transactional handle for single-statement reads/writes.
	Conn() dbx.DBTX
	// InTx runs fn inside a transaction; repositories built from tx see and
	// commit its writes together.
	InTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
	Notes(db dbx.DBTX) notes.Repository
	Devices(db dbx.DBTX) devices.Repository
	Close() error
}
