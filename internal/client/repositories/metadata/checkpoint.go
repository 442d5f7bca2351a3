package metadata

import (
	"context"
	"fmt"
	"time"
)

func (r *SQLiteRepository) GetCheckpoint(ctx context.Context) (time.Time, error) {
	v, err := r.Get(ctx, CheckpointKey)
	if err != nil {
		return time.Time{}, err
	}
	if v == nil {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad checkpoint %q: %w", v, err)
	}
	return t.UTC(), nil
}

func (r *SQLiteRepository) SetCheckpoint(ctx context.Context, t time.Time) error {
	return r.Set(ctx, CheckpointKey, []byte(t.UTC().Format(time.RFC3339Nano)))
}
