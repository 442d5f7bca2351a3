// Package devices persists device sessions: one row per transport channel.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.DeviceSession) error
	// Touch refreshes last_seen of an active session. ErrNotFound otherwise.
	Touch(ctx context.Context, channelID string, at time.Time) error
	Deactivate(ctx context.Context, channelID string, at time.Time) error
	ListActive(ctx context.Context, userID string) ([]*models.DeviceSession, error)
	// DeactivateStale marks inactive every active session last seen before
	// the cutoff and returns them.
	DeactivateStale(ctx context.Context, before time.Time) ([]*models.DeviceSession, error)
}
