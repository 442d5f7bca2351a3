// Package notes is the device's local entity store: one row per note plus
// its sync status. It performs no network I/O.
package notes

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

var (
	// ErrLocalPending is returned when a server copy would overwrite
	// unconfirmed local changes. Callers divert to conflict handling.
	ErrLocalPending = errors.New("local copy has unsynced changes")

	// ErrInvalidStatus rejects a status the operation does not accept.
	ErrInvalidStatus = errors.New("invalid sync status for operation")
)

type Repository interface {
	// Get returns (nil, nil) when the note does not exist.
	Get(ctx context.Context, id string) (*models.Note, error)

	// Upsert writes a local edit (StatusPending) or a server copy
	// (StatusSynced). A server copy never replaces a pending or conflicted
	// row (ErrLocalPending) and never lowers the stored version.
	Upsert(ctx context.Context, n *models.Note, status models.SyncStatus) error

	// SoftDelete stamps deleted_at and marks the note pending.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// ListAll returns notes newest first.
	ListAll(ctx context.Context, includeDeleted bool) ([]*models.Note, error)

	ListConflicts(ctx context.Context) ([]*models.Note, error)

	// MarkConflict keeps the local payload and stores remote as the
	// conflicting server snapshot.
	MarkConflict(ctx context.Context, id string, remote *models.Note) error

	// Confirm adopts a server-acknowledged version and timestamp without
	// touching the payload, and clears any conflict snapshot.
	Confirm(ctx context.Context, id string, version int64, updatedAt time.Time, status models.SyncStatus) error

	// Replace writes n as synced unconditionally.
	Replace(ctx context.Context, n *models.Note) error
}
