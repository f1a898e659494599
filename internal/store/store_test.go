package store

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baludesk/baludesk-core/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Folders_CRUD(t *testing.T) {
	s := openTestStore(t)

	f := &model.SyncFolder{
		LocalPath:      "/home/user/docs",
		RemotePath:     "/docs",
		Enabled:        true,
		ConflictPolicy: model.PolicyKeepNewest,
	}
	require.NoError(t, s.AddFolder(f))
	assert.NotEmpty(t, f.ID)
	assert.False(t, f.CreatedAt.IsZero())

	got, err := s.GetFolder(f.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.LocalPath, got.LocalPath)
	assert.Equal(t, model.PolicyKeepNewest, got.ConflictPolicy)

	f.Enabled = false
	f.ConflictPolicy = model.PolicyKeepLocal
	require.NoError(t, s.UpdateFolder(f))

	got, err = s.GetFolder(f.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, model.PolicyKeepLocal, got.ConflictPolicy)

	list, err := s.ListFolders()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RemoveFolder(f.ID))
	got, err = s.GetFolder(f.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetFolder_MissingReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetFolder("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RemoveFolder_CascadesFileMetadata(t *testing.T) {
	s := openTestStore(t)

	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	m := &model.FileMetadata{
		FolderID:    f.ID,
		RelPath:     "notes.txt",
		Fingerprint: "abc123",
		Size:        10,
	}
	require.NoError(t, s.UpsertFileMetadata(m))

	require.NoError(t, s.RemoveFolder(f.ID))

	got, err := s.GetFileMetadata(f.ID, "notes.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_FileMetadata_UpsertIsIdempotentByFolderAndPath(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	m := &model.FileMetadata{
		FolderID:    f.ID,
		RelPath:     "a/b.txt",
		Fingerprint: "fp1",
		Size:        100,
	}
	require.NoError(t, s.UpsertFileMetadata(m))

	m2 := &model.FileMetadata{
		FolderID:    f.ID,
		RelPath:     "a/b.txt",
		Fingerprint: "fp2",
		Size:        200,
	}
	require.NoError(t, s.UpsertFileMetadata(m2))

	all, err := s.ListFileMetadata(f.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fp2", all[0].Fingerprint)
	assert.Equal(t, int64(200), all[0].Size)
}

func TestStore_FileMetadata_GetMissingReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	got, err := s.GetFileMetadata(f.ID, "never-seen.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_FileMetadata_DeleteAndListChangedSince(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertFileMetadata(&model.FileMetadata{
		FolderID: f.ID, RelPath: "old.txt", Fingerprint: "x", LastSyncedTime: old,
	}))
	require.NoError(t, s.UpsertFileMetadata(&model.FileMetadata{
		FolderID: f.ID, RelPath: "new.txt", Fingerprint: "y", LastSyncedTime: recent,
	}))

	changed, err := s.ListChangedSince(f.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, model.RelPath("new.txt"), changed[0].RelPath)

	require.NoError(t, s.DeleteFileMetadata(f.ID, "new.txt"))
	got, err := s.GetFileMetadata(f.ID, "new.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Conflicts_LogListResolve(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	c := &model.Conflict{
		FolderID: f.ID,
		RelPath:  "report.docx",
		Kind:     model.ConflictBothModified,
	}
	require.NoError(t, s.LogConflict(c))
	assert.NotEmpty(t, c.ID)

	pending, err := s.ListPendingConflicts(f.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.ConflictBothModified, pending[0].Kind)
	assert.False(t, pending[0].Resolved)

	require.NoError(t, s.ResolveConflict(c.ID, model.ResolutionKeptLocal))
	pending, err = s.ListPendingConflicts(f.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_ResolveConflict_UnknownIDReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.ResolveConflict("nope", model.ResolutionIgnored)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_HasPendingConflict_TrueUntilResolved(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	has, err := s.HasPendingConflict(f.ID, "report.docx")
	require.NoError(t, err)
	assert.False(t, has)

	c := &model.Conflict{FolderID: f.ID, RelPath: "report.docx", Kind: model.ConflictBothModified}
	require.NoError(t, s.LogConflict(c))

	has, err = s.HasPendingConflict(f.ID, "report.docx")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.ResolveConflict(c.ID, model.ResolutionKeptLocal))
	has, err = s.HasPendingConflict(f.ID, "report.docx")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_SyncState_GetSetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	state, err := s.GetSyncState(f.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetSyncState(f.ID, ts))

	state, err = s.GetSyncState(f.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, ts.Equal(state.LastSync))

	reconcileTS := ts.Add(time.Minute)
	require.NoError(t, s.SetLastSuccessfulReconcile(f.ID, reconcileTS))

	state, err = s.GetSyncState(f.ID)
	require.NoError(t, err)
	assert.True(t, ts.Equal(state.LastSync))
	assert.True(t, reconcileTS.Equal(state.LastSuccessfulReconcile))
}

func TestStore_Activity_LogAndListRecent(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogActivity(&model.ActivityLog{
			FolderID: f.ID,
			RelPath:  "f.txt",
			Kind:     model.ActivityUpload,
			Success:  true,
			Size:     int64(i),
		}))
	}

	recent, err := s.ListRecentActivity(f.ID, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStore_WithTransaction_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	f := &model.SyncFolder{LocalPath: "/a", RemotePath: "/a"}
	require.NoError(t, s.AddFolder(f))

	err := s.WithTransaction(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("UPDATE sync_folders SET remote_path = ? WHERE id = ?", "/changed", f.ID); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetFolder(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "/a", got.RemotePath)
}
