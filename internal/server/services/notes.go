// Package services holds the server-side business logic: the version
// arbiter for notes and the device session registry.
package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
	"github.com/jonboulle/clockwork"
)

const (
	lockStripes = 256
	// storage races (another node inserting the same id, or a lost CAS)
	// are retried this many times before surfacing.
	maxApplyAttempts = 3
)

// Publisher receives accepted changes after commit.
type Publisher interface {
	Publish(ctx context.Context, origin broadcast.Origin, ev broadcast.Event)
}

type ApplyResult struct {
	// Applied is false when the mutation was rejected as stale.
	Applied bool
	// Note is the authoritative copy after the call, in both outcomes.
	Note *models.Note
}

type NoteService struct {
	repomanager  repomanager.RepositoryManager
	publisher    Publisher
	clock        clockwork.Clock
	deltaOverlap time.Duration
	logger       logging.Logger

	stripes [lockStripes]sync.Mutex
}

func NewNoteService(rm repomanager.RepositoryManager, publisher Publisher, clock clockwork.Clock, deltaOverlap time.Duration, logger logging.Logger) *NoteService {
	return &NoteService{
		repomanager:  rm,
		publisher:    publisher,
		clock:        clock,
		deltaOverlap: deltaOverlap,
		logger:       logger.With("module", "notes"),
	}
}

func (s *NoteService) lockFor(noteID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(noteID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// Apply decides a client mutation against the stored version. A mutation
// is accepted iff expectedVersion is not behind the stored version;
// acceptance bumps the version by exactly one.
func (s *NoteService) Apply(ctx context.Context, userID string, origin broadcast.Origin, noteID string, expectedVersion int64, m models.Mutation) (*ApplyResult, error) {
	if strings.TrimSpace(noteID) == "" {
		return nil, fmt.Errorf("%w: note id is required", common.ErrValidation)
	}
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown mutation kind %q", common.ErrValidation, m.Kind)
	}

	mu := s.lockFor(noteID)
	mu.Lock()
	defer mu.Unlock()

	var (
		res *ApplyResult
		ev  *broadcast.Event
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		err = s.repomanager.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			var derr error
			res, ev, derr = s.decide(ctx, tx, userID, noteID, expectedVersion, m)
			return derr
		})
		if !errors.Is(err, common.ErrVersionConflict) {
			break
		}
		s.logger.Debug(ctx, "apply lost a storage race, retrying", "note_id", noteID, "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}

	if ev != nil {
		origin.UserID = userID
		s.publisher.Publish(ctx, origin, *ev)
		s.logger.Debug(ctx, "mutation accepted", "note_id", noteID, "version", res.Note.Version, "kind", m.Kind)
	}
	return res, nil
}

func (s *NoteService) decide(ctx context.Context, tx dbx.DBTX, userID, noteID string, expected int64, m models.Mutation) (*ApplyResult, *broadcast.Event, error) {
	repo := s.repomanager.Notes(tx)

	cur, err := repo.GetForUpdate(ctx, noteID)
	if errors.Is(err, common.ErrNotFound) {
		if m.Kind == models.MutationDelete {
			return nil, nil, common.ErrNotFound
		}
		n := &models.Note{
			ID:        noteID,
			UserID:    userID,
			Title:     m.Title,
			Body:      m.Body,
			Version:   1,
			UpdatedAt: s.now(time.Time{}),
			LastOpID:  m.OpID,
		}
		if err := repo.Insert(ctx, n); err != nil {
			return nil, nil, err
		}
		return &ApplyResult{Applied: true, Note: n}, s.event(broadcast.EventCreated, n), nil
	}
	if err != nil {
		return nil, nil, err
	}

	if cur.UserID != userID {
		return nil, nil, common.ErrForbidden
	}

	if m.OpID != "" && cur.LastOpID == m.OpID {
		return &ApplyResult{Applied: true, Note: cur}, nil, nil
	}

	if expected < cur.Version {
		return &ApplyResult{Applied: false, Note: cur}, nil, nil
	}

	next := cur.Clone()
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now(cur.UpdatedAt)
	next.LastOpID = m.OpID

	kind := broadcast.EventUpdated
	switch m.Kind {
	case models.MutationDelete:
		at := next.UpdatedAt
		next.DeletedAt = &at
		kind = broadcast.EventDeleted
	default:
		if cur.Deleted() {
			kind = broadcast.EventCreated
		}
		next.Title = m.Title
		next.Body = m.Body
		next.DeletedAt = nil
	}

	if err := repo.Update(ctx, next, cur.Version); err != nil {
		return nil, nil, err
	}
	return &ApplyResult{Applied: true, Note: next}, s.event(kind, next), nil
}

// now returns the current time at storage precision, strictly after prev.
func (s *NoteService) now(prev time.Time) time.Time {
	t := s.clock.Now().UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (s *NoteService) event(kind broadcast.EventKind, n *models.Note) *broadcast.Event {
	return &broadcast.Event{Kind: kind, Note: n.Clone(), Timestamp: n.UpdatedAt}
}

// Since returns the user's notes changed after ts, soft-deleted ones
// included, newest first. syncTime is the query start pulled back by the
// configured overlap so that commits in flight at query time are picked up
// by the next call.
func (s *NoteService) Since(ctx context.Context, userID string, ts time.Time) ([]*models.Note, time.Time, error) {
	start := s.clock.Now().UTC()

	notes, err := s.repomanager.Notes(s.repomanager.Conn()).SelectUpdatedSince(ctx, userID, ts)
	if err != nil {
		return nil, time.Time{}, err
	}

	syncTime := start.Add(-s.deltaOverlap)
	if syncTime.Before(ts) {
		syncTime = ts
	}
	return notes, syncTime, nil
}
