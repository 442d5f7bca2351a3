// Package notes persists the authoritative note copies.
package notes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	// GetForUpdate loads a note and, where the backend supports it, locks the
	// row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*models.Note, error)

	// Insert stores a new note. ErrVersionConflict if the id is taken.
	Insert(ctx context.Context, n *models.Note) error

	// Update replaces a note iff its stored version is still prevVersion.
	Update(ctx context.Context, n *models.Note, prevVersion int64) error

	// SelectUpdatedSince returns the user's notes with updated_at > since,
	// soft-deleted ones included, newest first.
	SelectUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*models.Note, error)
}
