// Package operations is the durable outbound queue of local mutations.
// Ops for one note are handed out strictly in enqueue order.
package operations

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

type Repository interface {
	Enqueue(ctx context.Context, kind models.OpKind, noteID string, payload models.NoteData) (*models.Operation, error)

	// Drain returns pending ops oldest first, skipping notes that have an
	// earlier op in failed state.
	Drain(ctx context.Context) ([]*models.Operation, error)

	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error

	// MarkPending puts a processing op back without counting a retry.
	MarkPending(ctx context.Context, id string) error

	// MarkFailed counts a transient failure and returns the resulting status:
	// pending while retries remain, failed once the ceiling is reached.
	MarkFailed(ctx context.Context, id string, cause error) (models.OpStatus, error)

	// MarkTerminal fails the op without further retries.
	MarkTerminal(ctx context.Context, id string, cause error) error

	ListFailed(ctx context.Context) ([]*models.Operation, error)
	RetryFailed(ctx context.Context) (int, error)

	// Replace atomically drops the note's unsent ops and enqueues a single
	// new one.
	Replace(ctx context.Context, noteID string, kind models.OpKind, payload models.NoteData) (*models.Operation, error)

	// Discard drops the note's unsent and failed ops.
	Discard(ctx context.Context, noteID string) error

	// Recover returns ops stuck in processing after a crash to pending.
	Recover(ctx context.Context) (int, error)

	PurgeCompleted(ctx context.Context) (int, error)
	CountPending(ctx context.Context, noteID string) (int, error)
}
