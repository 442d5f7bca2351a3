package notes

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)

	return NewSQLiteRepository(db), db
}

func note(id string, version int64, title string) *models.Note {
	return &models.Note{ID: id, Title: title, Body: title + " body", Version: version, UpdatedAt: t0.Add(time.Duration(version) * time.Second)}
}

func mustGet(t *testing.T, r *SQLiteRepository, id string) *models.Note {
	t.Helper()
	n, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func TestGet_Absent(t *testing.T) {
	r, _ := setupRepo(t)
	n, err := r.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestUpsertPending_InsertThenEdit(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, note("n1", 0, "draft"), models.StatusPending))
	got := mustGet(t, r, "n1")
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	assert.Equal(t, "draft", got.Title)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, t0, got.UpdatedAt)
	assert.Nil(t, got.DeletedAt)

	require.NoError(t, r.Confirm(ctx, "n1", 3, t0.Add(time.Minute), models.StatusSynced))

	// an edit carrying an older version keeps the confirmed one
	require.NoError(t, r.Upsert(ctx, note("n1", 1, "edited"), models.StatusPending))
	got = mustGet(t, r, "n1")
	assert.Equal(t, "edited", got.Title)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
}

func TestUpsertSynced_Rules(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, note("n1", 2, "v2"), models.StatusSynced))
	assert.Equal(t, int64(2), mustGet(t, r, "n1").Version)

	// newer wins
	require.NoError(t, r.Upsert(ctx, note("n1", 4, "v4"), models.StatusSynced))
	got := mustGet(t, r, "n1")
	assert.Equal(t, "v4", got.Title)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)

	// stale is a silent no-op
	require.NoError(t, r.Upsert(ctx, note("n1", 3, "v3"), models.StatusSynced))
	assert.Equal(t, "v4", mustGet(t, r, "n1").Title)

	// same version again is idempotent
	require.NoError(t, r.Upsert(ctx, note("n1", 4, "v4"), models.StatusSynced))
	assert.Equal(t, int64(4), mustGet(t, r, "n1").Version)
}

func TestUpsertSynced_NeverOverwritesLocalChanges(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, note("n1", 2, "mine"), models.StatusPending))
	err := r.Upsert(ctx, note("n1", 5, "theirs"), models.StatusSynced)
	require.ErrorIs(t, err, ErrLocalPending)

	got := mustGet(t, r, "n1")
	assert.Equal(t, "mine", got.Title)
	assert.Equal(t, models.StatusPending, got.SyncStatus)

	require.NoError(t, r.MarkConflict(ctx, "n1", note("n1", 5, "theirs")))
	err = r.Upsert(ctx, note("n1", 6, "theirs again"), models.StatusSynced)
	require.ErrorIs(t, err, ErrLocalPending)
}

func TestUpsert_RejectsConflictStatus(t *testing.T) {
	r, _ := setupRepo(t)
	err := r.Upsert(context.Background(), note("n1", 1, "x"), models.StatusConflict)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSoftDelete(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, r.SoftDelete(ctx, "missing", t0), common.ErrNotFound)

	require.NoError(t, r.Upsert(ctx, note("n1", 1, "x"), models.StatusSynced))
	at := t0.Add(time.Hour)
	require.NoError(t, r.SoftDelete(ctx, "n1", at))

	got := mustGet(t, r, "n1")
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, at, *got.DeletedAt)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	assert.Equal(t, "x", got.Title)
}

func TestListAll_OrderAndTombstones(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, note("a", 1, "a"), models.StatusSynced))
	require.NoError(t, r.Upsert(ctx, note("c", 3, "c"), models.StatusSynced))
	require.NoError(t, r.Upsert(ctx, note("b", 3, "b"), models.StatusSynced))
	require.NoError(t, r.SoftDelete(ctx, "a", t0))

	live, err := r.ListAll(ctx, false)
	require.NoError(t, err)
	ids := []string{}
	for _, n := range live {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)

	all, err := r.ListAll(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "a", all[2].ID)
}

func TestMarkConflict_StoresSnapshotAndConfirmClears(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, r.MarkConflict(ctx, "missing", note("missing", 1, "x")), common.ErrNotFound)

	require.NoError(t, r.Upsert(ctx, note("n1", 2, "mine"), models.StatusPending))
	deleted := t0.Add(time.Hour)
	remote := note("n1", 3, "theirs")
	remote.DeletedAt = &deleted
	require.NoError(t, r.MarkConflict(ctx, "n1", remote))

	got := mustGet(t, r, "n1")
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.Equal(t, "mine", got.Title)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.ConflictRemote)
	assert.Equal(t, int64(3), got.ConflictRemote.Version)
	assert.Equal(t, "theirs", got.ConflictRemote.Title)
	require.NotNil(t, got.ConflictRemote.DeletedAt)
	assert.True(t, deleted.Equal(*got.ConflictRemote.DeletedAt))

	conflicts, err := r.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	require.NoError(t, r.Confirm(ctx, "n1", 4, t0.Add(2*time.Hour), models.StatusSynced))
	got = mustGet(t, r, "n1")
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Nil(t, got.ConflictRemote)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, "mine", got.Title)
}

func TestConfirm_Errors(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, r.Confirm(ctx, "missing", 1, t0, models.StatusSynced), common.ErrNotFound)
	require.ErrorIs(t, r.Confirm(ctx, "missing", 1, t0, models.StatusConflict), ErrInvalidStatus)
}

func TestReplace_OverridesPendingAndConflict(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, note("n1", 5, "mine"), models.StatusPending))
	require.NoError(t, r.MarkConflict(ctx, "n1", note("n1", 7, "theirs")))

	require.NoError(t, r.Replace(ctx, note("n1", 7, "theirs")))
	got := mustGet(t, r, "n1")
	assert.Equal(t, "theirs", got.Title)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Nil(t, got.ConflictRemote)
}

func TestGet_UnknownStatusIsError(t *testing.T) {
	_, db := setupRepo(t)
	ctx := context.Background()

	// bypass the CHECK constraint by recreating the table loosely
	_, err := db.ExecContext(ctx, `DROP TABLE notes`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE notes (id TEXT PRIMARY KEY, title TEXT, body TEXT, version INTEGER,
		updated_at INTEGER, deleted_at INTEGER, sync_status TEXT, conflict_remote TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO notes VALUES ('n1', '', '', 1, 0, NULL, 'dirty', NULL)`)
	require.NoError(t, err)

	_, err = NewSQLiteRepository(db).Get(ctx, "n1")
	require.Error(t, err)
}

func TestClosedDB_ErrorsWrapped(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "n1")
	require.ErrorContains(t, err, "failed to get note[n1]")
	err = r.Upsert(ctx, note("n1", 1, "x"), models.StatusPending)
	require.ErrorContains(t, err, "failed to upsert note[n1]")
	_, err = r.ListAll(ctx, true)
	require.ErrorContains(t, err, "failed to select notes")
}
