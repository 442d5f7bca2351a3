package operations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type SQLiteRepository struct {
	db    dbx.DBTX
	clock clockwork.Clock
}

func NewSQLiteRepository(db dbx.DBTX, clock clockwork.Clock) *SQLiteRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLiteRepository{db: db, clock: clock}
}

const selectColumns = `seq, id, kind, note_id, title, body, enqueued_at, retry_count, status, last_error`

func scanOp(rows *sql.Rows) (*models.Operation, error) {
	var (
		op         models.Operation
		kind       string
		status     string
		enqueuedAt int64
	)
	if err := rows.Scan(&op.Seq, &op.ID, &kind, &op.NoteID, &op.Payload.Title, &op.Payload.Body,
		&enqueuedAt, &op.RetryCount, &status, &op.LastError); err != nil {
		return nil, err
	}
	op.Kind = models.OpKind(kind)
	op.Status = models.OpStatus(status)
	op.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &op, nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*models.Operation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []*models.Operation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, kind models.OpKind, noteID string, payload models.NoteData) (*models.Operation, error) {
	switch kind {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", common.ErrValidation, kind)
	}

	op := &models.Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		NoteID:     noteID,
		Payload:    payload,
		EnqueuedAt: r.clock.Now().UTC(),
		Status:     models.OpPending,
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (id, kind, note_id, title, body, enqueued_at, retry_count, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, 'pending', '')
	`, op.ID, string(kind), noteID, payload.Title, payload.Body, op.EnqueuedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue operation for note[%s]: %w", noteID, err)
	}

	op.Seq, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get operation seq: %w", err)
	}
	return op, nil
}

func (r *SQLiteRepository) Drain(ctx context.Context) ([]*models.Operation, error) {
	return r.query(ctx, `
		SELECT `+selectColumns+` FROM operations o
		WHERE o.status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM operations f
			WHERE f.note_id = o.note_id AND f.status = 'failed' AND f.seq < o.seq
		  )
		ORDER BY o.seq
	`)
}

func (r *SQLiteRepository) setStatus(ctx context.Context, id string, from []models.OpStatus, to models.OpStatus) error {
	q := `UPDATE operations SET status = ? WHERE id = ?`
	args := []any{string(to), id}
	if len(from) > 0 {
		q += ` AND status IN (`
		for i, s := range from {
			if i > 0 {
				q += `, `
			}
			q += `?`
			args = append(args, string(s))
		}
		q += `)`
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to set operation[%s] %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation[%s] -> %s: %w", id, to, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, []models.OpStatus{models.OpPending}, models.OpProcessing)
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, []models.OpStatus{models.OpPending, models.OpProcessing}, models.OpCompleted)
}

func (r *SQLiteRepository) MarkPending(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, []models.OpStatus{models.OpProcessing}, models.OpPending)
}

func errText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, cause error) (models.OpStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE operations SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
			last_error = ?
		WHERE id = ?
		RETURNING status
	`, common.MaxOperationRetries, errText(cause), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("operation[%s]: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to record failure of operation[%s]: %w", id, err)
	}
	return models.OpStatus(status), nil
}

func (r *SQLiteRepository) MarkTerminal(ctx context.Context, id string, cause error) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE operations SET status = 'failed', last_error = ? WHERE id = ?
	`, errText(cause), id)
	if err != nil {
		return fmt.Errorf("failed to fail operation[%s]: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation[%s]: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListFailed(ctx context.Context) ([]*models.Operation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM operations WHERE status = 'failed' ORDER BY seq`)
}

func (r *SQLiteRepository) exec(ctx context.Context, what string, q string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) RetryFailed(ctx context.Context) (int, error) {
	return r.exec(ctx, "retry failed operations",
		`UPDATE operations SET status = 'pending', retry_count = 0, last_error = '' WHERE status = 'failed'`)
}

// Replace opens its own transaction when bound to the pool and joins the
// caller's otherwise.
func (r *SQLiteRepository) Replace(ctx context.Context, noteID string, kind models.OpKind, payload models.NoteData) (*models.Operation, error) {
	b, ok := r.db.(dbx.TxBeginner)
	if !ok {
		return r.replace(ctx, noteID, kind, payload)
	}

	var op *models.Operation
	err := dbx.WithTx(ctx, b, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		op, err = NewSQLiteRepository(tx, r.clock).replace(ctx, noteID, kind, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r *SQLiteRepository) replace(ctx context.Context, noteID string, kind models.OpKind, payload models.NoteData) (*models.Operation, error) {
	if err := r.Discard(ctx, noteID); err != nil {
		return nil, err
	}
	return r.Enqueue(ctx, kind, noteID, payload)
}

func (r *SQLiteRepository) Discard(ctx context.Context, noteID string) error {
	_, err := r.exec(ctx, "discard operations of note["+noteID+"]",
		`DELETE FROM operations WHERE note_id = ? AND status IN ('pending', 'failed')`, noteID)
	return err
}

func (r *SQLiteRepository) Recover(ctx context.Context) (int, error) {
	return r.exec(ctx, "recover operations",
		`UPDATE operations SET status = 'pending' WHERE status = 'processing'`)
}

func (r *SQLiteRepository) PurgeCompleted(ctx context.Context) (int, error) {
	return r.exec(ctx, "purge completed operations",
		`DELETE FROM operations WHERE status = 'completed'`)
}

func (r *SQLiteRepository) CountPending(ctx context.Context, noteID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE note_id = ? AND status IN ('pending', 'processing')
	`, noteID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations of note[%s]: %w", noteID, err)
	}
	return n, nil
}
