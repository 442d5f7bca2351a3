package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

// PostgresRepository implements note storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const noteColumns = `id, user_id, title, body, version, updated_at, deleted_at, last_op_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		n         models.Note
		deletedAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Version, &n.UpdatedAt, &deletedAt, &n.LastOpID); err != nil {
		return nil, err
	}
	n.UpdatedAt = n.UpdatedAt.UTC()
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		n.DeletedAt = &t
	}
	return &n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = $1 FOR UPDATE`

	n, err := scanNote(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, n *models.Note) error {
	query := `
		INSERT INTO notes (` + noteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Title, n.Body, n.Version, n.UpdatedAt, nullTime(n.DeletedAt), n.LastOpID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) Update(ctx context.Context, n *models.Note, prevVersion int64) error {
	query := `
		UPDATE notes
		SET title = $1, body = $2, version = $3, updated_at = $4, deleted_at = $5, last_op_id = $6
		WHERE id = $7 AND version = $8`

	res, err := r.db.ExecContext(ctx, query,
		n.Title, n.Body, n.Version, n.UpdatedAt, nullTime(n.DeletedAt), n.LastOpID, n.ID, prevVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) SelectUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes
		WHERE user_id = $1 AND updated_at > $2
		ORDER BY updated_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
