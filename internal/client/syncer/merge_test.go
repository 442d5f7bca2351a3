package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteNote(id string, version int64, title string) *models.Note {
	return &models.Note{ID: id, Title: title, Version: version, UpdatedAt: t0.Add(time.Duration(version) * time.Second), SyncStatus: models.StatusSynced}
}

func TestMerge(t *testing.T) {
	deletedAt := t0.Add(time.Hour)
	tombstone := remoteNote("n1", 4, "gone")
	tombstone.DeletedAt = &deletedAt

	cases := []struct {
		name      string
		seed      func(t *testing.T, f *fixture)
		remote    *models.Note
		wantKind  events.Kind
		wantTitle string
		wantVer   int64
		wantSt    models.SyncStatus
	}{
		{
			name:      "absent is inserted",
			remote:    remoteNote("n1", 2, "remote"),
			wantKind:  events.NoteCreated,
			wantTitle: "remote", wantVer: 2, wantSt: models.StatusSynced,
		},
		{
			name:      "absent tombstone is stored silently",
			remote:    tombstone,
			wantTitle: "gone", wantVer: 4, wantSt: models.StatusSynced,
		},
		{
			name: "stale remote is ignored",
			seed: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Notes.Upsert(context.Background(), remoteNote("n1", 3, "local"), models.StatusSynced))
			},
			remote:    remoteNote("n1", 3, "remote"),
			wantTitle: "local", wantVer: 3, wantSt: models.StatusSynced,
		},
		{
			name: "synced is overwritten",
			seed: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Notes.Upsert(context.Background(), remoteNote("n1", 1, "local"), models.StatusSynced))
			},
			remote:    remoteNote("n1", 2, "remote"),
			wantKind:  events.NoteUpdated,
			wantTitle: "remote", wantVer: 2, wantSt: models.StatusSynced,
		},
		{
			name: "synced is retracted by a tombstone",
			seed: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Notes.Upsert(context.Background(), remoteNote("n1", 1, "local"), models.StatusSynced))
			},
			remote:    tombstone,
			wantKind:  events.NoteDeleted,
			wantTitle: "gone", wantVer: 4, wantSt: models.StatusSynced,
		},
		{
			name: "pending becomes conflict",
			seed: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.Notes.Upsert(context.Background(), remoteNote("n1", 2, "mine"), models.StatusPending))
			},
			remote:    remoteNote("n1", 3, "theirs"),
			wantKind:  events.Conflict,
			wantTitle: "mine", wantVer: 2, wantSt: models.StatusConflict,
		},
		{
			name: "conflict refreshed by a newer remote",
			seed: func(t *testing.T, f *fixture) {
				ctx := context.Background()
				require.NoError(t, f.store.Notes.Upsert(ctx, remoteNote("n1", 2, "mine"), models.StatusPending))
				require.NoError(t, f.store.Notes.MarkConflict(ctx, "n1", remoteNote("n1", 3, "theirs")))
			},
			remote:    remoteNote("n1", 4, "theirs again"),
			wantKind:  events.Conflict,
			wantTitle: "mine", wantVer: 2, wantSt: models.StatusConflict,
		},
		{
			name: "conflict not refreshed by the same snapshot",
			seed: func(t *testing.T, f *fixture) {
				ctx := context.Background()
				require.NoError(t, f.store.Notes.Upsert(ctx, remoteNote("n1", 2, "mine"), models.StatusPending))
				require.NoError(t, f.store.Notes.MarkConflict(ctx, "n1", remoteNote("n1", 3, "theirs")))
			},
			remote:    remoteNote("n1", 3, "theirs"),
			wantTitle: "mine", wantVer: 2, wantSt: models.StatusConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			if tc.seed != nil {
				tc.seed(t, f)
			}

			ev, err := f.c.merge(context.Background(), tc.remote)
			require.NoError(t, err)
			if tc.wantKind == "" {
				assert.Nil(t, ev)
			} else {
				require.NotNil(t, ev)
				assert.Equal(t, tc.wantKind, ev.Kind)
				assert.Equal(t, "n1", ev.NoteID)
			}

			got := f.get(t, "n1")
			require.NotNil(t, got)
			assert.Equal(t, tc.wantTitle, got.Title)
			assert.Equal(t, tc.wantVer, got.Version)
			assert.Equal(t, tc.wantSt, got.SyncStatus)
		})
	}
}

func TestMerge_ConflictEventCarriesBothSides(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Notes.Upsert(ctx, remoteNote("n1", 2, "mine"), models.StatusPending))

	ev, err := f.c.merge(ctx, remoteNote("n1", 5, "theirs"))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "mine", ev.Local.Title)
	assert.Equal(t, models.StatusConflict, ev.Local.SyncStatus)
	assert.Equal(t, "theirs", ev.Remote.Title)
	assert.Equal(t, int64(5), ev.Remote.Version)

	got := f.get(t, "n1")
	require.NotNil(t, got.ConflictRemote)
	assert.Equal(t, int64(5), got.ConflictRemote.Version)
}

func TestMerge_IdempotentDelta(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	delta := []*models.Note{remoteNote("a", 1, "a"), remoteNote("b", 3, "b"), remoteNote("a", 2, "a2")}

	for round := 0; round < 2; round++ {
		for _, n := range delta {
			_, err := f.c.merge(ctx, n)
			require.NoError(t, err)
		}
	}

	all, err := f.store.Notes.ListAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), f.get(t, "a").Version)
	assert.Equal(t, "a2", f.get(t, "a").Title)
	assert.Equal(t, int64(3), f.get(t, "b").Version)
}
