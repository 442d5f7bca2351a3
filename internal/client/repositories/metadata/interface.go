// Package metadata is a small key/value store for per-device sync state.
package metadata

import (
	"context"
	"time"
)

// CheckpointKey holds the last server syncTime merged in full.
const CheckpointKey = "sync.checkpoint"

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// GetCheckpoint returns the zero time when no pass has completed yet.
	GetCheckpoint(ctx context.Context) (time.Time, error)
	SetCheckpoint(ctx context.Context, t time.Time) error
}
