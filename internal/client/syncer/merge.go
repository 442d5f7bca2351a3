package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
)

// merge folds one server copy into the local store and returns the event
// to emit, if any. The server version alone decides which copy is newer;
// unconfirmed local edits are never overwritten.
func (c *Coordinator) merge(ctx context.Context, remote *models.Note) (*events.Event, error) {
	unlock := c.LockNote(remote.ID)
	defer unlock()
	return c.mergeLocked(ctx, remote)
}

func (c *Coordinator) mergeLocked(ctx context.Context, remote *models.Note) (*events.Event, error) {
	local, err := c.store.Notes.Get(ctx, remote.ID)
	if err != nil {
		return nil, err
	}

	if local == nil {
		if err := c.store.Notes.Upsert(ctx, remote, models.StatusSynced); err != nil {
			return nil, err
		}
		if remote.Deleted() {
			return nil, nil
		}
		return &events.Event{Kind: events.NoteCreated, NoteID: remote.ID, Note: remote.Clone()}, nil
	}

	if remote.Version <= local.Version {
		return nil, nil
	}

	switch local.SyncStatus {
	case models.StatusSynced:
		err := c.store.Notes.Upsert(ctx, remote, models.StatusSynced)
		if errors.Is(err, notes.ErrLocalPending) {
			return c.markConflict(ctx, local, remote)
		}
		if err != nil {
			return nil, err
		}
		kind := events.NoteUpdated
		if remote.Deleted() {
			kind = events.NoteDeleted
		}
		return &events.Event{Kind: kind, NoteID: remote.ID, Note: remote.Clone()}, nil

	case models.StatusConflict:
		if local.ConflictRemote != nil && remote.Version <= local.ConflictRemote.Version {
			return nil, nil
		}
		return c.markConflict(ctx, local, remote)

	case models.StatusPending:
		return c.markConflict(ctx, local, remote)
	}

	return nil, fmt.Errorf("note %s: unhandled sync status %q", local.ID, local.SyncStatus)
}

func (c *Coordinator) markConflict(ctx context.Context, local, remote *models.Note) (*events.Event, error) {
	if err := c.store.Notes.MarkConflict(ctx, local.ID, remote); err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "conflict", "note_id", local.ID, "local_version", local.Version, "remote_version", remote.Version)

	l := local.Clone()
	l.SyncStatus = models.StatusConflict
	l.ConflictRemote = remote.Clone()
	return &events.Event{Kind: events.Conflict, NoteID: local.ID, Local: l, Remote: remote.Clone()}, nil
}
