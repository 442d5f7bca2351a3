package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.DeviceSession) error {
	meta, err := json.Marshal(s.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if s.Meta == nil {
		meta = []byte("{}")
	}

	query := `
		INSERT INTO device_sessions (channel_id, device_id, user_id, meta, created_at, last_seen, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.ExecContext(ctx, query,
		s.ChannelID, s.DeviceID, s.UserID, string(meta), s.CreatedAt, s.LastSeen, s.Active)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, channelID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET last_seen = $1 WHERE channel_id = $2 AND is_active`, at, channelID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, channelID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET is_active = FALSE, last_seen = $1 WHERE channel_id = $2`, at, channelID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID string) ([]*models.DeviceSession, error) {
	query := `
		SELECT channel_id, device_id, user_id, meta, created_at, last_seen, is_active
		FROM device_sessions
		WHERE user_id = $1 AND is_active
		ORDER BY created_at, channel_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.DeviceSession
	for rows.Next() {
		var (
			s    models.DeviceSession
			meta []byte
		)
		if err := rows.Scan(&s.ChannelID, &s.DeviceID, &s.UserID, &meta, &s.CreatedAt, &s.LastSeen, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &s.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of %s: %w", s.ChannelID, err)
			}
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeactivateStale(ctx context.Context, before time.Time) ([]*models.DeviceSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE device_sessions SET is_active = FALSE
		WHERE is_active AND last_seen < $1
		RETURNING channel_id, device_id, user_id, last_seen`, before)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var expired []*models.DeviceSession
	for rows.Next() {
		s := &models.DeviceSession{}
		if err := rows.Scan(&s.ChannelID, &s.DeviceID, &s.UserID, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		expired = append(expired, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}
