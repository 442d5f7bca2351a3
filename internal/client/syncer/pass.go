package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/storage"
	"github.com/dmitrijs2005/notesync/internal/client/transport"
	"github.com/dmitrijs2005/notesync/internal/common"
	"golang.org/x/sync/errgroup"
)

type passStats struct {
	mu          sync.Mutex
	applied     int
	conflicts   int
	failed      int
	merged      int
	transient   bool
	unavailable bool
}

func (s *passStats) add(fn func(s *passStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// SyncNow runs one pass in the caller's goroutine. At most one pass runs at
// a time: a concurrent call gets ErrSyncInProgress, an offline one
// ErrOffline.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	if err := c.beginPass(); err != nil {
		return err
	}
	defer c.endPass()

	start := c.clock.Now()
	c.bus.Emit(events.Event{Kind: events.SyncStarted})

	stats := &passStats{}
	err := c.pass(ctx, stats)

	if stats.unavailable || errors.Is(err, common.ErrUnavailable) {
		c.dropSession()
	}

	if err != nil {
		c.logger.Error(ctx, "sync pass failed", "error", err)
		c.bus.Emit(events.Event{Kind: events.SyncError, Err: err})
		return err
	}

	c.logger.Info(ctx, "sync pass finished",
		"applied", stats.applied, "conflicts", stats.conflicts, "failed", stats.failed, "merged", stats.merged)
	c.bus.Emit(events.Event{
		Kind:      events.SyncCompleted,
		Applied:   stats.applied,
		Conflicts: stats.conflicts,
		Failed:    stats.failed,
		Merged:    stats.merged,
		Duration:  c.clock.Since(start),
	})
	return nil
}

func (c *Coordinator) pass(ctx context.Context, stats *passStats) error {
	if err := c.replay(ctx, stats); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	checkpoint, err := c.store.Metadata.GetCheckpoint(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	delta, err := c.transport.Since(callCtx, checkpoint)
	cancel()
	if err != nil {
		return fmt.Errorf("delta: %w", err)
	}

	for _, remote := range delta.Notes {
		ev, err := c.merge(ctx, remote)
		if err != nil {
			return fmt.Errorf("merge %s: %w", remote.ID, err)
		}
		if ev != nil {
			stats.merged++
			if ev.Kind == events.Conflict {
				stats.conflicts++
			}
			c.bus.Emit(*ev)
		}
	}

	if stats.transient {
		c.logger.Info(ctx, "checkpoint held back", "checkpoint", checkpoint)
	} else if err := c.store.Metadata.SetCheckpoint(ctx, delta.SyncTime); err != nil {
		return err
	}

	if _, err := c.store.Operations.PurgeCompleted(ctx); err != nil {
		return err
	}
	return nil
}

// replay sends queued ops. Notes go in parallel; one note's ops go one at a
// time in enqueue order and stop at the first op that does not apply.
func (c *Coordinator) replay(ctx context.Context, stats *passStats) error {
	ops, err := c.store.Operations.Drain(ctx)
	if err != nil {
		return err
	}

	var order []string
	byNote := make(map[string][]*models.Operation)
	for _, op := range ops {
		if _, ok := byNote[op.NoteID]; !ok {
			order = append(order, op.NoteID)
		}
		byNote[op.NoteID] = append(byNote[op.NoteID], op)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallel)
	for _, id := range order {
		noteOps := byNote[id]
		g.Go(func() error {
			evs, err := c.replayNote(gctx, noteOps, stats)
			for _, ev := range evs {
				c.bus.Emit(ev)
			}
			return err
		})
	}
	return g.Wait()
}

func (c *Coordinator) replayNote(ctx context.Context, ops []*models.Operation, stats *passStats) ([]events.Event, error) {
	noteID := ops[0].NoteID

	var evs []events.Event
	for _, op := range ops {
		expected, held, err := c.beginApply(ctx, op)
		if err != nil {
			return evs, err
		}
		if held {
			c.logger.Debug(ctx, "note in conflict, replay held", "note_id", noteID)
			return evs, nil
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		res, applyErr := c.transport.Apply(callCtx, transport.ApplyRequest{
			OpID:            op.ID,
			NoteID:          noteID,
			Kind:            op.Kind,
			Payload:         op.Payload,
			ExpectedVersion: expected,
		})
		cancel()

		ev, next, err := c.finishApply(ctx, op, res, applyErr, stats)
		if ev != nil {
			evs = append(evs, *ev)
		}
		if err != nil || !next {
			return evs, err
		}
	}
	return evs, nil
}

// beginApply claims op under the note lock and returns the version the
// server must still hold. The call itself goes out unlocked.
func (c *Coordinator) beginApply(ctx context.Context, op *models.Operation) (expected int64, held bool, err error) {
	unlock := c.LockNote(op.NoteID)
	defer unlock()

	local, err := c.store.Notes.Get(ctx, op.NoteID)
	if err != nil {
		return 0, false, err
	}
	if local != nil && local.SyncStatus == models.StatusConflict {
		return 0, true, nil
	}
	if local != nil {
		expected = local.Version
	}

	if err := c.store.Operations.MarkProcessing(ctx, op.ID); err != nil {
		return 0, false, err
	}
	c.setInFlight(op.NoteID, true)
	return expected, false, nil
}

// finishApply records the outcome of op. next reports whether the note's
// following ops may go out in this pass.
func (c *Coordinator) finishApply(ctx context.Context, op *models.Operation, res *transport.ApplyResult, applyErr error, stats *passStats) (ev *events.Event, next bool, err error) {
	noteID := op.NoteID
	unlock := c.LockNote(noteID)
	defer unlock()
	defer c.setInFlight(noteID, false)

	switch {
	case applyErr == nil && res.Applied:
		if err := c.confirm(ctx, op, res.Note); err != nil {
			return nil, false, err
		}
		stats.add(func(s *passStats) { s.applied++ })
		c.logger.Debug(ctx, "op applied", "op_id", op.ID, "note_id", noteID, "version", res.Note.Version)
		return nil, true, nil

	case applyErr == nil:
		if err := c.store.Operations.MarkPending(ctx, op.ID); err != nil {
			return nil, false, err
		}
		local, err := c.store.Notes.Get(ctx, noteID)
		if err != nil {
			return nil, false, err
		}
		if local == nil {
			local = &models.Note{ID: noteID, Title: op.Payload.Title, Body: op.Payload.Body, SyncStatus: models.StatusPending}
			if err := c.store.Notes.Upsert(ctx, local, models.StatusPending); err != nil {
				return nil, false, err
			}
		}
		ev, err := c.markConflict(ctx, local, res.Note)
		if err != nil {
			return nil, false, err
		}
		stats.add(func(s *passStats) { s.conflicts++ })
		return ev, false, nil

	case errors.Is(applyErr, common.ErrUnauthorized),
		errors.Is(applyErr, common.ErrNotFound),
		errors.Is(applyErr, common.ErrValidation):
		if err := c.store.Operations.MarkTerminal(ctx, op.ID, applyErr); err != nil {
			return nil, false, err
		}
		stats.add(func(s *passStats) { s.failed++ })
		c.logger.Warn(ctx, "op rejected", "op_id", op.ID, "note_id", noteID, "error", applyErr)
		return &events.Event{Kind: events.SyncError, NoteID: noteID, Err: applyErr}, false, nil

	default:
		st, err := c.store.Operations.MarkFailed(ctx, op.ID, applyErr)
		if err != nil {
			return nil, false, err
		}
		stats.add(func(s *passStats) {
			s.transient = true
			if errors.Is(applyErr, common.ErrUnavailable) {
				s.unavailable = true
			}
		})
		c.logger.Warn(ctx, "op failed", "op_id", op.ID, "note_id", noteID, "status", st, "error", applyErr)
		if st == models.OpFailed {
			stats.add(func(s *passStats) { s.failed++ })
			err := fmt.Errorf("%w: op %s: %v", ErrRetriesExhausted, op.ID, applyErr)
			return &events.Event{Kind: events.SyncError, NoteID: noteID, Err: err}, false, nil
		}
		return nil, false, nil
	}
}

// confirm completes op and adopts the acknowledged version. The note stays
// pending while later ops for it are still queued.
func (c *Coordinator) confirm(ctx context.Context, op *models.Operation, server *models.Note) error {
	return c.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if err := r.Operations.MarkCompleted(ctx, op.ID); err != nil {
			return err
		}
		remaining, err := r.Operations.CountPending(ctx, op.NoteID)
		if err != nil {
			return err
		}
		status, updatedAt := models.StatusSynced, server.UpdatedAt
		if remaining > 0 {
			status = models.StatusPending
			// An edit made while op was in flight keeps its own timestamp.
			if local, err := r.Notes.Get(ctx, op.NoteID); err != nil {
				return err
			} else if local != nil && local.UpdatedAt.After(updatedAt) {
				updatedAt = local.UpdatedAt
			}
		}

		err = r.Notes.Confirm(ctx, op.NoteID, server.Version, updatedAt, status)
		if errors.Is(err, common.ErrNotFound) {
			return r.Notes.Replace(ctx, server)
		}
		return err
	})
}
