package notes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

// MemoryRepository keeps notes in a map. It backs the server when no
// database DSN is configured and in end-to-end tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	notes map[string]*models.Note
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notes: make(map[string]*models.Note)}
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return n.Clone(), nil
}

func (r *MemoryRepository) Insert(ctx context.Context, n *models.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notes[n.ID]; ok {
		return common.ErrVersionConflict
	}
	r.notes[n.ID] = n.Clone()
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, n *models.Note, prevVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.notes[n.ID]
	if !ok || cur.Version != prevVersion {
		return common.ErrVersionConflict
	}
	r.notes[n.ID] = n.Clone()
	return nil
}

func (r *MemoryRepository) SelectUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Note
	for _, n := range r.notes {
		if n.UserID == userID && n.UpdatedAt.After(since) {
			result = append(result, n.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
