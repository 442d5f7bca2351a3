package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/storage"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/google/uuid"
)

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// write stores n as pending and queues the matching op. A write to a note
// in conflict is a resubmission: it replaces whatever is still queued.
func write(ctx context.Context, store *storage.Store, n *models.Note, kind models.OpKind, resubmit bool) error {
	return store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if err := r.Notes.Upsert(ctx, n, models.StatusPending); err != nil {
			return err
		}
		if resubmit {
			_, err := r.Operations.Replace(ctx, n.ID, kind, n.Data())
			return err
		}
		_, err := r.Operations.Enqueue(ctx, kind, n.ID, n.Data())
		return err
	})
}

func (e *Engine) CreateNote(ctx context.Context, data models.NoteData) (*models.Note, error) {
	store, coord, err := e.parts()
	if err != nil {
		return nil, err
	}

	n := &models.Note{
		ID:         uuid.NewString(),
		Title:      data.Title,
		Body:       data.Body,
		UpdatedAt:  e.now(),
		SyncStatus: models.StatusPending,
	}

	unlock := coord.LockNote(n.ID)
	err = write(ctx, store, n, models.OpCreate, false)
	unlock()
	if err != nil {
		return nil, err
	}

	e.bus.Emit(events.Event{Kind: events.NoteCreated, NoteID: n.ID, Note: n.Clone()})
	nudge(coord)
	return n, nil
}

// UpdateNote edits a live note. Editing a note in conflict takes the
// stored server version as the new base, so the edit wins on the next pass
// unless the server has moved on again.
func (e *Engine) UpdateNote(ctx context.Context, id string, data models.NoteData) (*models.Note, error) {
	store, coord, err := e.parts()
	if err != nil {
		return nil, err
	}

	unlock := coord.LockNote(id)
	n, err := e.updateLocked(ctx, store, id, func(n *models.Note, _ time.Time) {
		n.Title, n.Body = data.Title, data.Body
	}, models.OpUpdate)
	unlock()
	if err != nil {
		return nil, err
	}

	e.bus.Emit(events.Event{Kind: events.NoteUpdated, NoteID: id, Note: n.Clone()})
	nudge(coord)
	return n, nil
}

func (e *Engine) DeleteNote(ctx context.Context, id string) error {
	store, coord, err := e.parts()
	if err != nil {
		return err
	}

	unlock := coord.LockNote(id)
	n, err := e.updateLocked(ctx, store, id, func(n *models.Note, at time.Time) {
		n.DeletedAt = &at
	}, models.OpDelete)
	unlock()
	if err != nil {
		return err
	}

	e.bus.Emit(events.Event{Kind: events.NoteDeleted, NoteID: id, Note: n.Clone()})
	nudge(coord)
	return nil
}

func (e *Engine) updateLocked(ctx context.Context, store *storage.Store, id string, change func(*models.Note, time.Time), kind models.OpKind) (*models.Note, error) {
	local, err := store.Notes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if local == nil || local.Deleted() {
		return nil, fmt.Errorf("note %s: %w", id, common.ErrNotFound)
	}

	at := e.now()
	n := local.Clone()
	change(n, at)
	n.UpdatedAt = at
	n.SyncStatus = models.StatusPending

	resubmit := local.SyncStatus == models.StatusConflict && local.ConflictRemote != nil
	if resubmit {
		n.Version = local.ConflictRemote.Version
		n.ConflictRemote = nil
	}

	if kind == models.OpDelete && !resubmit {
		err = store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
			if err := r.Notes.SoftDelete(ctx, id, *n.DeletedAt); err != nil {
				return err
			}
			_, err := r.Operations.Enqueue(ctx, kind, id, n.Data())
			return err
		})
	} else {
		err = write(ctx, store, n, kind, resubmit)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetAllNotes lists live notes, newest first.
func (e *Engine) GetAllNotes(ctx context.Context) ([]*models.Note, error) {
	store, _, err := e.parts()
	if err != nil {
		return nil, err
	}
	return store.Notes.ListAll(ctx, false)
}

func (e *Engine) GetNoteByID(ctx context.Context, id string) (*models.Note, error) {
	store, _, err := e.parts()
	if err != nil {
		return nil, err
	}
	n, err := store.Notes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil || n.Deleted() {
		return nil, fmt.Errorf("note %s: %w", id, common.ErrNotFound)
	}
	return n, nil
}

func (e *Engine) Conflicts(ctx context.Context) ([]*models.Note, error) {
	store, _, err := e.parts()
	if err != nil {
		return nil, err
	}
	return store.Notes.ListConflicts(ctx)
}

// ResolveConflict settles a conflicted note. KeepLocal resubmits the local
// copy on top of the server's; KeepRemote drops the local changes.
func (e *Engine) ResolveConflict(ctx context.Context, id string, res Resolution) (*models.Note, error) {
	store, coord, err := e.parts()
	if err != nil {
		return nil, err
	}

	unlock := coord.LockNote(id)
	n, kind, err := resolveLocked(ctx, store, id, res)
	unlock()
	if err != nil {
		return nil, err
	}

	e.bus.Emit(events.Event{Kind: kind, NoteID: id, Note: n.Clone()})
	nudge(coord)
	return n, nil
}

func resolveLocked(ctx context.Context, store *storage.Store, id string, res Resolution) (*models.Note, events.Kind, error) {
	local, err := store.Notes.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if local == nil {
		return nil, "", fmt.Errorf("note %s: %w", id, common.ErrNotFound)
	}
	if local.SyncStatus != models.StatusConflict || local.ConflictRemote == nil {
		return nil, "", fmt.Errorf("note %s: %w", id, ErrNotInConflict)
	}
	remote := local.ConflictRemote

	switch res {
	case KeepLocal:
		n := local.Clone()
		n.Version = remote.Version
		n.SyncStatus = models.StatusPending
		n.ConflictRemote = nil
		kind := models.OpUpdate
		if n.Deleted() {
			kind = models.OpDelete
		}
		if err := write(ctx, store, n, kind, true); err != nil {
			return nil, "", err
		}
		return n, events.NoteUpdated, nil

	case KeepRemote:
		n := remote.Clone()
		n.SyncStatus = models.StatusSynced
		err := store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
			if err := r.Operations.Discard(ctx, id); err != nil {
				return err
			}
			return r.Notes.Replace(ctx, n)
		})
		if err != nil {
			return nil, "", err
		}
		if n.Deleted() {
			return n, events.NoteDeleted, nil
		}
		return n, events.NoteUpdated, nil
	}

	return nil, "", fmt.Errorf("%w: unknown resolution %q", common.ErrValidation, res)
}

func (e *Engine) FailedOperations(ctx context.Context) ([]*models.Operation, error) {
	store, _, err := e.parts()
	if err != nil {
		return nil, err
	}
	return store.Operations.ListFailed(ctx)
}

// RetryFailed requeues every failed operation and asks for a pass.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	store, coord, err := e.parts()
	if err != nil {
		return 0, err
	}
	n, err := store.Operations.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		nudge(coord)
	}
	return n, nil
}
