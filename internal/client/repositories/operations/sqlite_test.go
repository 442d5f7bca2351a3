package operations

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*SQLiteRepository, *clockwork.FakeClock, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(t0)
	return NewSQLiteRepository(db, clock), clock, db
}

func ids(ops []*models.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.ID)
	}
	return out
}

func TestEnqueue_AssignsIdentity(t *testing.T) {
	r, clock, _ := setupRepo(t)
	ctx := context.Background()

	a, err := r.Enqueue(ctx, models.OpCreate, "n1", models.NoteData{Title: "t", Body: "b"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	b, err := r.Enqueue(ctx, models.OpUpdate, "n1", models.NoteData{Title: "t2"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.Seq, b.Seq)
	assert.Equal(t, t0, a.EnqueuedAt)
	assert.Equal(t, models.OpPending, a.Status)

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, *a, *ops[0])
	assert.Equal(t, "t2", ops[1].Payload.Title)
	assert.Equal(t, t0.Add(time.Second), ops[1].EnqueuedAt)
}

func TestEnqueue_UnknownKind(t *testing.T) {
	r, _, _ := setupRepo(t)
	_, err := r.Enqueue(context.Background(), models.OpKind("merge"), "n1", models.NoteData{})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestDrain_FIFOAcrossNotes(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	var want []string
	for _, id := range []string{"a", "b", "a", "c", "b"} {
		op, err := r.Enqueue(ctx, models.OpUpdate, id, models.NoteData{})
		require.NoError(t, err)
		want = append(want, op.ID)
	}

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, ids(ops))
}

func TestDrain_FailedOpBlocksLaterOpsOfSameNote(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	a1, _ := r.Enqueue(ctx, models.OpCreate, "a", models.NoteData{})
	b1, _ := r.Enqueue(ctx, models.OpCreate, "b", models.NoteData{})
	_, _ = r.Enqueue(ctx, models.OpUpdate, "a", models.NoteData{})

	require.NoError(t, r.MarkProcessing(ctx, a1.ID))
	require.NoError(t, r.MarkTerminal(ctx, a1.ID, common.ErrUnauthorized))

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID}, ids(ops))

	failed, err := r.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, common.ErrUnauthorized.Error(), failed[0].LastError)

	n, err := r.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ops, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 3)
	assert.Equal(t, a1.ID, ops[0].ID)
	assert.Equal(t, 0, ops[0].RetryCount)
}

func TestStatusTransitions(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	op, _ := r.Enqueue(ctx, models.OpCreate, "n1", models.NoteData{})

	// only processing ops return to pending
	require.ErrorIs(t, r.MarkPending(ctx, op.ID), common.ErrNotFound)

	require.NoError(t, r.MarkProcessing(ctx, op.ID))
	require.ErrorIs(t, r.MarkProcessing(ctx, op.ID), common.ErrNotFound)

	ops, _ := r.Drain(ctx)
	assert.Empty(t, ops)

	require.NoError(t, r.MarkPending(ctx, op.ID))
	ops, _ = r.Drain(ctx)
	require.Len(t, ops, 1)
	assert.Equal(t, 0, ops[0].RetryCount)

	require.NoError(t, r.MarkProcessing(ctx, op.ID))
	require.NoError(t, r.MarkCompleted(ctx, op.ID))
	require.ErrorIs(t, r.MarkCompleted(ctx, op.ID), common.ErrNotFound)

	c, err := r.CountPending(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	n, err := r.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkFailed_RetryCeiling(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()
	op, _ := r.Enqueue(ctx, models.OpUpdate, "n1", models.NoteData{})
	cause := errors.New("timeout")

	for i := 1; i < common.MaxOperationRetries; i++ {
		require.NoError(t, r.MarkProcessing(ctx, op.ID))
		st, err := r.MarkFailed(ctx, op.ID, cause)
		require.NoError(t, err)
		assert.Equal(t, models.OpPending, st, "attempt %d", i)
	}

	require.NoError(t, r.MarkProcessing(ctx, op.ID))
	st, err := r.MarkFailed(ctx, op.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, models.OpFailed, st)

	failed, err := r.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, common.MaxOperationRetries, failed[0].RetryCount)
	assert.Equal(t, "timeout", failed[0].LastError)

	_, err = r.MarkFailed(ctx, "missing", cause)
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, r.MarkTerminal(ctx, "missing", cause), common.ErrNotFound)
}

func TestReplaceAndDiscard(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	_, _ = r.Enqueue(ctx, models.OpUpdate, "n1", models.NoteData{Title: "1"})
	_, _ = r.Enqueue(ctx, models.OpUpdate, "n1", models.NoteData{Title: "2"})
	other, _ := r.Enqueue(ctx, models.OpUpdate, "n2", models.NoteData{})

	op, err := r.Replace(ctx, "n1", models.OpUpdate, models.NoteData{Title: "final"})
	require.NoError(t, err)

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID, op.ID}, ids(ops))
	assert.Equal(t, "final", ops[1].Payload.Title)

	require.NoError(t, r.Discard(ctx, "n1"))
	c, err := r.CountPending(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, c)
	c, err = r.CountPending(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestReplace_FailureKeepsQueuedOps(t *testing.T) {
	r, _, db := setupRepo(t)
	ctx := context.Background()

	queued, err := r.Enqueue(ctx, models.OpUpdate, "n1", models.NoteData{Title: "1"})
	require.NoError(t, err)

	_, err = r.Replace(ctx, "n1", models.OpKind("merge"), models.NoteData{Title: "bad"})
	require.ErrorIs(t, err, common.ErrValidation)

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{queued.ID}, ids(ops))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	op, err := NewSQLiteRepository(tx, nil).Replace(ctx, "n1", models.OpDelete, models.NoteData{})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	ops, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{queued.ID}, ids(ops))
	assert.NotEqual(t, op.ID, queued.ID)
}

func TestRecover(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	a, _ := r.Enqueue(ctx, models.OpCreate, "n1", models.NoteData{})
	b, _ := r.Enqueue(ctx, models.OpCreate, "n2", models.NoteData{})
	require.NoError(t, r.MarkProcessing(ctx, a.ID))
	require.NoError(t, r.MarkProcessing(ctx, b.ID))
	require.NoError(t, r.MarkCompleted(ctx, b.ID))

	n, err := r.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ops, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(ops))
}

func TestClosedDB_ErrorsWrapped(t *testing.T) {
	r, _, db := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Enqueue(ctx, models.OpCreate, "n1", models.NoteData{})
	require.ErrorContains(t, err, "failed to enqueue operation for note[n1]")
	_, err = r.Drain(ctx)
	require.ErrorContains(t, err, "failed to select operations")
	_, err = r.CountPending(ctx, "n1")
	require.ErrorContains(t, err, "failed to count operations")
}
