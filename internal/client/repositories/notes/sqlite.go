package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `id, title, body, version, updated_at, deleted_at, sync_status, conflict_remote`

// remoteSnapshot is the stored form of a conflicting server copy.
type remoteSnapshot struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*models.Note, error) {
	var (
		n         models.Note
		updatedAt int64
		deletedAt sql.NullInt64
		status    string
		remote    sql.NullString
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Body, &n.Version, &updatedAt, &deletedAt, &status, &remote); err != nil {
		return nil, err
	}

	n.UpdatedAt = fromNanos(updatedAt)
	if deletedAt.Valid {
		t := fromNanos(deletedAt.Int64)
		n.DeletedAt = &t
	}

	s, err := models.ParseSyncStatus(status)
	if err != nil {
		return nil, fmt.Errorf("note %s: %w", n.ID, err)
	}
	n.SyncStatus = s

	if remote.Valid && remote.String != "" {
		var snap remoteSnapshot
		if err := json.Unmarshal([]byte(remote.String), &snap); err != nil {
			return nil, fmt.Errorf("note %s: bad conflict snapshot: %w", n.ID, err)
		}
		n.ConflictRemote = &models.Note{
			ID:         snap.ID,
			Title:      snap.Title,
			Body:       snap.Body,
			Version:    snap.Version,
			UpdatedAt:  snap.UpdatedAt,
			DeletedAt:  snap.DeletedAt,
			SyncStatus: models.StatusSynced,
		}
	}
	return &n, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Note, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note[%s]: %w", id, err)
	}
	return n, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, n *models.Note, status models.SyncStatus) error {
	switch status {
	case models.StatusPending:
		return r.upsertPending(ctx, n)
	case models.StatusSynced:
		return r.upsertSynced(ctx, n)
	}
	return fmt.Errorf("%w: upsert with %q", ErrInvalidStatus, status)
}

func (r *SQLiteRepository) upsertPending(ctx context.Context, n *models.Note) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, version, updated_at, deleted_at, sync_status, conflict_remote)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', NULL)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			version = MAX(notes.version, excluded.version),
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_status = 'pending',
			conflict_remote = NULL
	`, n.ID, n.Title, n.Body, n.Version, toNanos(n.UpdatedAt), nullNanos(n.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert note[%s]: %w", n.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) upsertSynced(ctx context.Context, n *models.Note) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, version, updated_at, deleted_at, sync_status, conflict_remote)
		VALUES (?, ?, ?, ?, ?, ?, 'synced', NULL)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
		WHERE notes.sync_status = 'synced' AND notes.version <= excluded.version
	`, n.ID, n.Title, n.Body, n.Version, toNanos(n.UpdatedAt), nullNanos(n.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert note[%s]: %w", n.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// nothing written: either a local edit is in the way or the copy is stale
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT sync_status FROM notes WHERE id = ?`, n.ID).Scan(&status)
	if err != nil {
		return fmt.Errorf("failed to read note[%s] status: %w", n.ID, err)
	}
	if models.SyncStatus(status) != models.StatusSynced {
		return ErrLocalPending
	}
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notes SET deleted_at = ?, updated_at = ?, sync_status = 'pending', conflict_remote = NULL
		WHERE id = ?
	`, at.UnixNano(), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to delete note[%s]: %w", id, err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*models.Note, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ListAll(ctx context.Context, includeDeleted bool) ([]*models.Note, error) {
	q := `SELECT ` + selectColumns + ` FROM notes`
	if !includeDeleted {
		q += ` WHERE deleted_at IS NULL`
	}
	return r.query(ctx, q+` ORDER BY updated_at DESC, id`)
}

func (r *SQLiteRepository) ListConflicts(ctx context.Context) ([]*models.Note, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM notes WHERE sync_status = 'conflict' ORDER BY updated_at DESC, id`)
}

func (r *SQLiteRepository) MarkConflict(ctx context.Context, id string, remote *models.Note) error {
	snap, err := json.Marshal(remoteSnapshot{
		ID:        remote.ID,
		Title:     remote.Title,
		Body:      remote.Body,
		Version:   remote.Version,
		UpdatedAt: remote.UpdatedAt,
		DeletedAt: remote.DeletedAt,
	})
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE notes SET sync_status = 'conflict', conflict_remote = ? WHERE id = ?
	`, string(snap), id)
	if err != nil {
		return fmt.Errorf("failed to mark conflict on note[%s]: %w", id, err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) Confirm(ctx context.Context, id string, version int64, updatedAt time.Time, status models.SyncStatus) error {
	if status != models.StatusSynced && status != models.StatusPending {
		return fmt.Errorf("%w: confirm with %q", ErrInvalidStatus, status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE notes SET version = MAX(version, ?), updated_at = ?, sync_status = ?, conflict_remote = NULL
		WHERE id = ?
	`, version, toNanos(updatedAt), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to confirm note[%s]: %w", id, err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) Replace(ctx context.Context, n *models.Note) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, version, updated_at, deleted_at, sync_status, conflict_remote)
		VALUES (?, ?, ?, ?, ?, ?, 'synced', NULL)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_status = 'synced',
			conflict_remote = NULL
	`, n.ID, n.Title, n.Body, n.Version, toNanos(n.UpdatedAt), nullNanos(n.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to replace note[%s]: %w", n.ID, err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
