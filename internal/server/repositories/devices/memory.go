package devices

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.DeviceSession
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*models.DeviceSession)}
}

func clone(s *models.DeviceSession) *models.DeviceSession {
	c := *s
	c.Meta = maps.Clone(s.Meta)
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ChannelID] = clone(s)
	return nil
}

func (r *MemoryRepository) Touch(ctx context.Context, channelID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[channelID]
	if !ok || !s.Active {
		return common.ErrNotFound
	}
	s.LastSeen = at
	return nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, channelID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[channelID]; ok {
		s.Active = false
		s.LastSeen = at
	}
	return nil
}

func (r *MemoryRepository) ListActive(ctx context.Context, userID string) ([]*models.DeviceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.DeviceSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			result = append(result, clone(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ChannelID < result[j].ChannelID
	})
	return result, nil
}

func (r *MemoryRepository) DeactivateStale(ctx context.Context, before time.Time) ([]*models.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*models.DeviceSession
	for _, s := range r.sessions {
		if s.Active && s.LastSeen.Before(before) {
			s.Active = false
			cp := *s
			cp.Meta = maps.Clone(s.Meta)
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ChannelID < expired[j].ChannelID })
	return expired, nil
}
