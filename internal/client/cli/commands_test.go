package cli

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/engine"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/syncer"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	notes      map[string]*models.Note
	created    []models.NoteData
	updated    map[string]models.NoteData
	deleted    []string
	resolved   map[string]engine.Resolution
	failed     []*models.Operation
	synced     int
	requeued   int
	state      syncer.State
	checkpoint time.Time
}

func newFakeEngine(notes ...*models.Note) *fakeEngine {
	f := &fakeEngine{
		notes:    map[string]*models.Note{},
		updated:  map[string]models.NoteData{},
		resolved: map[string]engine.Resolution{},
		state:    syncer.OnlineIdle,
	}
	for _, n := range notes {
		f.notes[n.ID] = n
	}
	return f
}

func (f *fakeEngine) GetAllNotes(context.Context) ([]*models.Note, error) {
	var out []*models.Note
	for _, n := range f.notes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeEngine) GetNoteByID(_ context.Context, id string) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return n, nil
}

func (f *fakeEngine) CreateNote(_ context.Context, data models.NoteData) (*models.Note, error) {
	f.created = append(f.created, data)
	return &models.Note{ID: "new-id", Title: data.Title, Body: data.Body}, nil
}

func (f *fakeEngine) UpdateNote(_ context.Context, id string, data models.NoteData) (*models.Note, error) {
	f.updated[id] = data
	return &models.Note{ID: id}, nil
}

func (f *fakeEngine) DeleteNote(_ context.Context, id string) error {
	if _, ok := f.notes[id]; !ok {
		return common.ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) SyncNow(context.Context) error {
	f.synced++
	return nil
}

func (f *fakeEngine) State() syncer.State { return f.state }

func (f *fakeEngine) Checkpoint(context.Context) (time.Time, error) { return f.checkpoint, nil }

func (f *fakeEngine) Conflicts(context.Context) ([]*models.Note, error) {
	var out []*models.Note
	for _, n := range f.notes {
		if n.SyncStatus == models.StatusConflict {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeEngine) ResolveConflict(_ context.Context, id string, res engine.Resolution) (*models.Note, error) {
	f.resolved[id] = res
	return &models.Note{ID: id, SyncStatus: models.StatusPending}, nil
}

func (f *fakeEngine) FailedOperations(context.Context) ([]*models.Operation, error) {
	return f.failed, nil
}

func (f *fakeEngine) RetryFailed(context.Context) (int, error) {
	f.requeued = len(f.failed)
	return f.requeued, nil
}

func newTestApp(f *fakeEngine, input string) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	return &App{
		notes:  f,
		reader: bufio.NewReader(strings.NewReader(input)),
		out:    &out,
	}, &out
}

func TestApp_ListAndShow(t *testing.T) {
	f := newFakeEngine(&models.Note{ID: "n1", Title: "groceries", Body: "milk\neggs", Version: 3, SyncStatus: models.StatusSynced})
	a, out := newTestApp(f, "")
	ctx := context.Background()

	require.NoError(t, a.List(ctx))
	assert.Contains(t, out.String(), "n1")
	assert.Contains(t, out.String(), "groceries")
	assert.Contains(t, out.String(), "synced")

	out.Reset()
	require.NoError(t, a.Show(ctx, "n1"))
	assert.Contains(t, out.String(), "Version: 3")
	assert.Contains(t, out.String(), "milk\neggs")

	assert.ErrorIs(t, a.Show(ctx, "nope"), common.ErrNotFound)
}

func TestApp_ListEmpty(t *testing.T) {
	a, out := newTestApp(newFakeEngine(), "")
	require.NoError(t, a.List(context.Background()))
	assert.Equal(t, "No notes.\n", out.String())
}

func TestApp_Add(t *testing.T) {
	f := newFakeEngine()
	a, out := newTestApp(f, "shopping\nmilk\nbread\n\n")

	require.NoError(t, a.Add(context.Background()))

	require.Len(t, f.created, 1)
	assert.Equal(t, models.NoteData{Title: "shopping", Body: "milk\nbread"}, f.created[0])
	assert.Contains(t, out.String(), "Created new-id")
}

func TestApp_EditKeepsFieldsLeftEmpty(t *testing.T) {
	f := newFakeEngine(&models.Note{ID: "n1", Title: "old title", Body: "old body"})
	a, _ := newTestApp(f, "\nnew body\n\n")

	require.NoError(t, a.Edit(context.Background(), "n1"))
	assert.Equal(t, models.NoteData{Title: "old title", Body: "new body"}, f.updated["n1"])

	assert.ErrorIs(t, a.Edit(context.Background(), "missing"), common.ErrNotFound)
}

func TestApp_Delete(t *testing.T) {
	f := newFakeEngine(&models.Note{ID: "n1"})
	a, out := newTestApp(f, "")

	require.NoError(t, a.Delete(context.Background(), "n1"))
	assert.Equal(t, []string{"n1"}, f.deleted)
	assert.Contains(t, out.String(), "Deleted n1")

	assert.ErrorIs(t, a.Delete(context.Background(), "n2"), common.ErrNotFound)
}

func TestApp_SyncAndStatus(t *testing.T) {
	f := newFakeEngine()
	f.checkpoint = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a, out := newTestApp(f, "")

	require.NoError(t, a.Sync(context.Background()))
	assert.Equal(t, 1, f.synced)

	require.NoError(t, a.Status(context.Background()))
	assert.Contains(t, out.String(), "State:      online")
	assert.Contains(t, out.String(), "Checkpoint: "+f.checkpoint.Local().Format("2006-01-02 15:04:05"))
}

func TestApp_ConflictsAndResolve(t *testing.T) {
	at := time.Now()
	f := newFakeEngine(&models.Note{
		ID:             "n1",
		Title:          "mine",
		SyncStatus:     models.StatusConflict,
		ConflictRemote: &models.Note{ID: "n1", Title: "theirs", Version: 7, DeletedAt: &at},
	})
	a, out := newTestApp(f, "")
	ctx := context.Background()

	require.NoError(t, a.Conflicts(ctx))
	assert.Contains(t, out.String(), "mine")
	assert.Contains(t, out.String(), "(deleted)")
	assert.Contains(t, out.String(), "7")

	require.NoError(t, a.Resolve(ctx, "n1", "local"))
	assert.Equal(t, engine.KeepLocal, f.resolved["n1"])

	assert.ErrorIs(t, a.Resolve(ctx, "n1", "mine"), common.ErrValidation)
}

func TestApp_FailedAndRetry(t *testing.T) {
	f := newFakeEngine()
	f.failed = []*models.Operation{{ID: "op1", Kind: models.OpUpdate, NoteID: "n1", RetryCount: 3, LastError: "unavailable"}}
	a, out := newTestApp(f, "")
	ctx := context.Background()

	require.NoError(t, a.Failed(ctx))
	assert.Contains(t, out.String(), "op1")
	assert.Contains(t, out.String(), "unavailable")

	out.Reset()
	require.NoError(t, a.Retry(ctx))
	assert.Equal(t, "Requeued 1 operation(s)\n", out.String())
}

func TestApp_CredentialsPromptsForMissingValues(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte("tok"), nil }

	a, _ := newTestApp(newFakeEngine(), "alice\nlaptop\n")
	a.config = &config.Config{}

	creds, dev, err := a.credentials()
	require.NoError(t, err)
	assert.Equal(t, "alice", creds.UserID)
	assert.Equal(t, "tok", creds.Token)
	assert.Equal(t, "laptop", dev.ID)
	assert.Equal(t, "cli", dev.Meta["client"])
}
