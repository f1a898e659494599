package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baludesk/baludesk-core/internal/clock"
	"github.com/baludesk/baludesk-core/internal/hashutil"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/notifier"
	"github.com/baludesk/baludesk-core/internal/reconcile"
	"github.com/baludesk/baludesk-core/internal/remote"
	"github.com/baludesk/baludesk-core/internal/store"
)

// fakeRemote is an in-memory stand-in for remote.Client, just enough of
// the surface the executor touches.
type fakeRemote struct {
	mu sync.Mutex

	uploadFn   func(ctx context.Context, localPath, remotePath string) (remote.UploadResult, error)
	downloadFn func(ctx context.Context, remotePath, localTempPath string) (remote.DownloadResult, error)
	deleteFn   func(ctx context.Context, remotePath string) error

	uploadCalls   int
	downloadCalls int
	deleteCalls   int
}

func (f *fakeRemote) Login(context.Context, string, string) (string, error) { return "", nil }
func (f *fakeRemote) SetToken(string)                                       {}
func (f *fakeRemote) IsAuthenticated() bool                                 { return true }
func (f *fakeRemote) ListFiles(context.Context, string) ([]remote.File, error) {
	return nil, nil
}
func (f *fakeRemote) ChangesSince(context.Context, string, time.Time) ([]remote.Change, error) {
	return nil, remote.ErrChangesSinceUnsupported
}

func (f *fakeRemote) Upload(ctx context.Context, localPath, remotePath string) (remote.UploadResult, error) {
	f.mu.Lock()
	f.uploadCalls++
	f.mu.Unlock()
	return f.uploadFn(ctx, localPath, remotePath)
}

func (f *fakeRemote) Download(ctx context.Context, remotePath, localTempPath string) (remote.DownloadResult, error) {
	f.mu.Lock()
	f.downloadCalls++
	f.mu.Unlock()
	return f.downloadFn(ctx, remotePath, localTempPath)
}

func (f *fakeRemote) Delete(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.mu.Unlock()
	return f.deleteFn(ctx, remotePath)
}

func newTestExecutor(t *testing.T, rc remote.Client) (*Executor, *store.Store, *model.SyncFolder) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	folder := &model.SyncFolder{
		LocalPath:      t.TempDir(),
		RemotePath:     "/remote",
		ConflictPolicy: model.PolicyAskUser,
		Enabled:        true,
	}
	require.NoError(t, st.AddFolder(folder))

	hasher, err := hashutil.NewSHA256Hasher(0)
	require.NoError(t, err)
	exec := New(rc, st, hasher, clock.NewFake(time.Now()), notifier.Nop{}, 2)
	return exec, st, folder
}

func TestExecutor_Upload_Succeeds(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{RemoteMTime: time.Now()}, nil
		},
	}
	exec, st, folder := newTestExecutor(t, rc)

	localPath := filepath.Join(folder.LocalPath, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	op := reconcile.Op{RelPath: "a.txt", Kind: reconcile.OpUpload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Uploads)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, rc.uploadCalls)

	meta, err := st.GetFileMetadata(folder.ID, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.Fingerprint)
}

func TestExecutor_ExecuteTx_CommitsMetadataAlongsideCallerWrites(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{RemoteMTime: time.Now()}, nil
		},
	}
	exec, st, folder := newTestExecutor(t, rc)

	localPath := filepath.Join(folder.LocalPath, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	op := reconcile.Op{RelPath: "a.txt", Kind: reconcile.OpUpload}

	var summary Summary
	require.NoError(t, st.WithTransaction(func(tx *sqlx.Tx) error {
		txStore := st.Tx(tx)
		summary = exec.ExecuteTx(context.Background(), folder, []reconcile.Op{op}, txStore)
		return txStore.SetSyncState(folder.ID, time.Now())
	}))

	assert.Equal(t, 1, summary.Uploads)
	meta, err := st.GetFileMetadata(folder.ID, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)

	state, err := st.GetSyncState(folder.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestExecutor_ExecuteTx_RollsBackMetadataWhenCallerWriteFails(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{RemoteMTime: time.Now()}, nil
		},
	}
	exec, st, folder := newTestExecutor(t, rc)

	localPath := filepath.Join(folder.LocalPath, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	op := reconcile.Op{RelPath: "a.txt", Kind: reconcile.OpUpload}

	err := st.WithTransaction(func(tx *sqlx.Tx) error {
		txStore := st.Tx(tx)
		exec.ExecuteTx(context.Background(), folder, []reconcile.Op{op}, txStore)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	meta, err := st.GetFileMetadata(folder.ID, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, meta, "upload's metadata write must roll back with the rest of the transaction")
}

// recordingNotifier captures every event Notify is called with, for
// assertions on what the executor broadcasts.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *recordingNotifier) Notify(e notifier.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func TestExecutor_Upload_EmitsSyncProgressWithByteCount(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{RemoteMTime: time.Now()}, nil
		},
	}
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	folder := &model.SyncFolder{LocalPath: t.TempDir(), RemotePath: "/remote", ConflictPolicy: model.PolicyAskUser, Enabled: true}
	require.NoError(t, st.AddFolder(folder))

	hasher, err := hashutil.NewSHA256Hasher(0)
	require.NoError(t, err)

	notify := &recordingNotifier{}
	exec := New(rc, st, hasher, clock.NewFake(time.Now()), notify, 2)

	localPath := filepath.Join(folder.LocalPath, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello world"), 0o644))

	op := reconcile.Op{RelPath: "a.txt", Kind: reconcile.OpUpload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})
	require.Equal(t, 1, summary.Uploads)

	notify.mu.Lock()
	defer notify.mu.Unlock()
	var progress *notifier.Event
	for i := range notify.events {
		if notify.events[i].Type == notifier.EventSyncProgress {
			progress = &notify.events[i]
		}
	}
	require.NotNil(t, progress, "expected a sync_progress event")
	assert.Equal(t, "a.txt", progress.Path)
	assert.EqualValues(t, len("hello world"), progress.Bytes)
}

func TestExecutor_Download_VerifiesFingerprintAndRenamesAtomically(t *testing.T) {
	content := []byte("downloaded bytes")
	fp := hashutil.HashBytes(content)

	rc := &fakeRemote{
		downloadFn: func(_ context.Context, _ string, localTempPath string) (remote.DownloadResult, error) {
			require.NoError(t, os.WriteFile(localTempPath, content, 0o644))
			return remote.DownloadResult{Fingerprint: fp, RemoteMTime: time.Now()}, nil
		},
	}
	exec, st, folder := newTestExecutor(t, rc)

	op := reconcile.Op{RelPath: "b.txt", Kind: reconcile.OpDownload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Downloads)
	got, err := os.ReadFile(filepath.Join(folder.LocalPath, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	meta, err := st.GetFileMetadata(folder.ID, "b.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, fp, meta.Fingerprint)

	entries, err := os.ReadDir(folder.LocalPath)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover .baludesk.partial temp file")
}

func TestExecutor_Download_FingerprintMismatchFailsFatally(t *testing.T) {
	rc := &fakeRemote{
		downloadFn: func(_ context.Context, _ string, localTempPath string) (remote.DownloadResult, error) {
			require.NoError(t, os.WriteFile(localTempPath, []byte("tampered"), 0o644))
			return remote.DownloadResult{Fingerprint: "not-the-real-hash"}, nil
		},
	}
	exec, _, folder := newTestExecutor(t, rc)

	op := reconcile.Op{RelPath: "c.txt", Kind: reconcile.OpDownload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, StatusFailedFatal, summary.Results[0].Status)
	assert.ErrorIs(t, summary.Results[0].Err, remote.ErrIntegrity)

	_, err := os.Stat(filepath.Join(folder.LocalPath, "c.txt"))
	assert.True(t, os.IsNotExist(err), "file must not be placed on fingerprint mismatch")
}

func TestExecutor_RemoteDelete_RemovesBaselineRow(t *testing.T) {
	rc := &fakeRemote{
		deleteFn: func(context.Context, string) error { return nil },
	}
	exec, st, folder := newTestExecutor(t, rc)

	require.NoError(t, st.UpsertFileMetadata(&model.FileMetadata{
		FolderID: folder.ID, RelPath: "d.txt", Fingerprint: "f",
	}))

	op := reconcile.Op{RelPath: "d.txt", Kind: reconcile.OpRemoteDelete}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Deletes)
	meta, err := st.GetFileMetadata(folder.ID, "d.txt")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestExecutor_LocalDelete_RemovesFileAndBaselineRow(t *testing.T) {
	exec, st, folder := newTestExecutor(t, &fakeRemote{})

	localPath := filepath.Join(folder.LocalPath, "e.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("x"), 0o644))
	require.NoError(t, st.UpsertFileMetadata(&model.FileMetadata{
		FolderID: folder.ID, RelPath: "e.txt", Fingerprint: "f",
	}))

	op := reconcile.Op{RelPath: "e.txt", Kind: reconcile.OpLocalDelete}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Deletes)
	_, err := os.Stat(localPath)
	assert.True(t, os.IsNotExist(err))
}

func TestExecutor_Adopt_WritesBaselineWithoutTransferring(t *testing.T) {
	exec, st, folder := newTestExecutor(t, &fakeRemote{})

	now := time.Now()
	op := reconcile.Op{
		RelPath: "f.txt",
		Kind:    reconcile.OpAdopt,
		Input: reconcile.PathInput{
			LocalFingerprint: "shared-fp",
			LocalSize:        42,
			LocalModTime:     now,
		},
	}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 0, summary.Uploads)
	assert.Equal(t, 0, summary.Downloads)
	assert.Equal(t, 0, summary.Failed)

	meta, err := st.GetFileMetadata(folder.ID, "f.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "shared-fp", meta.Fingerprint)
}

func TestExecutor_RetriesTransientFailureThenSucceeds(t *testing.T) {
	attempts := 0
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			attempts++
			if attempts < 3 {
				return remote.UploadResult{}, remote.ErrNetworkTransient
			}
			return remote.UploadResult{}, nil
		},
	}
	exec, _, folder := newTestExecutor(t, rc)
	require.NoError(t, os.WriteFile(filepath.Join(folder.LocalPath, "g.txt"), []byte("x"), 0o644))

	op := reconcile.Op{RelPath: "g.txt", Kind: reconcile.OpUpload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Uploads)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 3, summary.Results[0].Attempts)
}

func TestExecutor_FatalErrorDoesNotRetry(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{}, remote.ErrPermissionDenied
		},
	}
	exec, _, folder := newTestExecutor(t, rc)
	require.NoError(t, os.WriteFile(filepath.Join(folder.LocalPath, "h.txt"), []byte("x"), 0o644))

	op := reconcile.Op{RelPath: "h.txt", Kind: reconcile.OpUpload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, StatusFailedFatal, summary.Results[0].Status)
	assert.Equal(t, 1, summary.Results[0].Attempts)
	assert.ErrorIs(t, summary.Results[0].Err, remote.ErrPermissionDenied)
}

func TestExecutor_ExhaustsRetriesThenFailsRetryable(t *testing.T) {
	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			return remote.UploadResult{}, remote.ErrNetworkTransient
		},
	}
	exec, _, folder := newTestExecutor(t, rc)
	require.NoError(t, os.WriteFile(filepath.Join(folder.LocalPath, "i.txt"), []byte("x"), 0o644))

	op := reconcile.Op{RelPath: "i.txt", Kind: reconcile.OpUpload}
	summary := exec.Execute(context.Background(), folder, []reconcile.Op{op})

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, StatusFailedRetryable, summary.Results[0].Status)
	assert.Equal(t, maxAttempts, summary.Results[0].Attempts)
}

func TestExecutor_ConcurrentOpsRespectLimit(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex

	rc := &fakeRemote{
		uploadFn: func(context.Context, string, string) (remote.UploadResult, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return remote.UploadResult{}, nil
		},
	}
	exec, _, folder := newTestExecutor(t, rc)

	var ops []reconcile.Op
	for i := 0; i < 6; i++ {
		name := string(rune('a' + i))
		require.NoError(t, os.WriteFile(filepath.Join(folder.LocalPath, name), []byte("x"), 0o644))
		ops = append(ops, reconcile.Op{RelPath: model.RelPath(name), Kind: reconcile.OpUpload})
	}

	summary := exec.Execute(context.Background(), folder, ops)

	assert.Equal(t, 6, summary.Uploads)
	assert.LessOrEqual(t, maxActive, 2)
}

func TestBackoff_GrowsExponentiallyAndCaps(t *testing.T) {
	assert.Equal(t, backoffBase, backoff(1))
	assert.Equal(t, 2*backoffBase, backoff(2))
	assert.Equal(t, 4*backoffBase, backoff(3))
	assert.Equal(t, backoffCap, backoff(10))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(remote.ErrNetworkTransient))
	assert.False(t, isRetryable(remote.ErrNetworkFatal))
	assert.False(t, isRetryable(remote.ErrPermissionDenied))
	assert.False(t, isRetryable(remote.ErrValidation))
	assert.False(t, isRetryable(remote.ErrIntegrity))
	assert.False(t, isRetryable(remote.ErrNotFound))
	assert.True(t, isRetryable(errors.New("some unclassified local error")))
}
