// Package transfer drains a reconcile plan with bounded concurrency,
// using golang.org/x/sync/errgroup's SetLimit so a single failed
// operation doesn't tear down the group, across the full
// upload/download/delete/adopt op set the reconcile decision table
// produces.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/baludesk/baludesk-core/internal/clock"
	"github.com/baludesk/baludesk-core/internal/hashutil"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/notifier"
	"github.com/baludesk/baludesk-core/internal/reconcile"
	"github.com/baludesk/baludesk-core/internal/remote"
	"github.com/baludesk/baludesk-core/internal/store"
)

// Retry tuning for the transfer state machine.
const (
	maxAttempts = 5
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// Status is the terminal outcome of one operation.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed-retryable"
	StatusFailedFatal     Status = "failed-fatal"
)

// OpResult records how one planned operation ended.
type OpResult struct {
	Op       reconcile.Op
	Status   Status
	Err      error
	Bytes    int64
	Attempts int
}

// Summary aggregates a drained plan's outcomes into sync_completed
// counts.
type Summary struct {
	Uploads   int
	Downloads int
	Deletes   int
	Failed    int
	Results   []OpResult
}

// Executor drains a plan, one goroutine per operation with at most
// concurrency of them running at once, never
// running two operations on the same relative path at once (callers are
// expected to pass a plan already deduplicated by path — Order does not
// introduce duplicates).
type Executor struct {
	remote      remote.Client
	store       *store.Store
	hasher      hashutil.Hasher
	clock       clock.Clock
	notify      notifier.Notifier
	concurrency int
}

// New returns an Executor bounded to concurrency simultaneous operations.
func New(rc remote.Client, st *store.Store, hasher hashutil.Hasher, clk clock.Clock, n notifier.Notifier, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	if n == nil {
		n = notifier.Nop{}
	}
	return &Executor{remote: rc, store: st, hasher: hasher, clock: clk, notify: n, concurrency: concurrency}
}

// Execute drains ops for folder against the executor's own store,
// retrying retryable failures with exponential backoff and continuing
// past fatal ones.
func (e *Executor) Execute(ctx context.Context, folder *model.SyncFolder, ops []reconcile.Op) Summary {
	return e.execute(ctx, folder, ops, e.store)
}

// ExecuteTx drains ops exactly like Execute, but routes every metadata
// and activity write through st instead of e.store — passing a Store
// obtained from store.Store.Tx lets a caller fold an entire reconcile
// pass's transfers into the same transaction as its conflict log and
// sync_state update, so a crash mid-pass can't leave file_metadata torn
// against those rows.
func (e *Executor) ExecuteTx(ctx context.Context, folder *model.SyncFolder, ops []reconcile.Op, st *store.Store) Summary {
	return e.execute(ctx, folder, ops, st)
}

func (e *Executor) execute(ctx context.Context, folder *model.SyncFolder, ops []reconcile.Op, st *store.Store) Summary {
	results := make([]OpResult, len(ops))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			results[i] = e.runWithRetry(gctx, folder, op, st)
			return nil
		})
	}
	_ = g.Wait() // runWithRetry never returns an error; failures live in results.

	summary := Summary{Results: results}
	for _, r := range results {
		switch {
		case r.Status == StatusSucceeded:
			switch r.Op.Kind {
			case reconcile.OpUpload:
				summary.Uploads++
			case reconcile.OpDownload:
				summary.Downloads++
			case reconcile.OpRemoteDelete, reconcile.OpLocalDelete:
				summary.Deletes++
			}
		default:
			summary.Failed++
		}
	}
	return summary
}

func (e *Executor) runWithRetry(ctx context.Context, folder *model.SyncFolder, op reconcile.Op, st *store.Store) OpResult {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		bytes, err := e.runOnce(ctx, folder, op, st)
		if err == nil {
			e.logActivity(st, folder, op, true, bytes, "")
			if op.Kind == reconcile.OpUpload || op.Kind == reconcile.OpDownload {
				e.notify.Notify(notifier.Event{
					Type:   notifier.EventSyncProgress,
					Folder: folder.ID,
					Path:   op.RelPath.String(),
					Bytes:  bytes,
				})
			}
			return OpResult{Op: op, Status: StatusSucceeded, Bytes: bytes, Attempts: attempt}
		}

		lastErr = err
		if !isRetryable(err) {
			e.logActivity(st, folder, op, false, 0, err.Error())
			e.notify.Notify(notifier.Event{
				Type:    notifier.EventError,
				Folder:  folder.ID,
				Path:    op.RelPath.String(),
				Message: "operation failed",
			})
			return OpResult{Op: op, Status: StatusFailedFatal, Err: err, Attempts: attempt}
		}

		if attempt == maxAttempts {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		e.clock.Sleep(backoff(attempt))
	}

	e.logActivity(st, folder, op, false, 0, lastErr.Error())
	e.notify.Notify(notifier.Event{
		Type:    notifier.EventError,
		Folder:  folder.ID,
		Path:    op.RelPath.String(),
		Message: "exhausted retries",
	})
	return OpResult{Op: op, Status: StatusFailedRetryable, Err: lastErr, Attempts: maxAttempts}
}

func (e *Executor) runOnce(ctx context.Context, folder *model.SyncFolder, op reconcile.Op, st *store.Store) (int64, error) {
	switch op.Kind {
	case reconcile.OpUpload:
		return e.upload(ctx, folder, op, st)
	case reconcile.OpDownload:
		return e.download(ctx, folder, op, st)
	case reconcile.OpRemoteDelete:
		return 0, e.remoteDelete(ctx, folder, op, st)
	case reconcile.OpLocalDelete:
		return 0, e.localDelete(folder, op, st)
	case reconcile.OpAdopt:
		return 0, e.adopt(folder, op, st)
	case reconcile.OpDropBaseline:
		return 0, st.DeleteFileMetadata(folder.ID, op.RelPath)
	default:
		return 0, nil
	}
}

func (e *Executor) upload(ctx context.Context, folder *model.SyncFolder, op reconcile.Op, st *store.Store) (int64, error) {
	localPath := filepath.Join(folder.LocalPath, op.RelPath.String())
	remotePath := filepath.Join(folder.RemotePath, op.RelPath.String())

	fp, err := e.hasher.HashFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("transfer: hash %s: %w", op.RelPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("transfer: stat %s: %w", op.RelPath, err)
	}

	res, err := e.remote.Upload(ctx, localPath, remotePath)
	if err != nil {
		return 0, err
	}

	err = st.UpsertFileMetadata(&model.FileMetadata{
		FolderID:       folder.ID,
		RelPath:        op.RelPath,
		Fingerprint:    fp,
		Size:           info.Size(),
		LocalModTime:   info.ModTime(),
		RemoteModTime:  res.RemoteMTime,
		LastSyncedTime: e.clock.Now(),
	})
	return info.Size(), err
}

func (e *Executor) download(ctx context.Context, folder *model.SyncFolder, op reconcile.Op, st *store.Store) (int64, error) {
	remotePath := filepath.Join(folder.RemotePath, op.RelPath.String())
	localPath := filepath.Join(folder.LocalPath, op.RelPath.String())

	tempPath := localPath + fmt.Sprintf(".baludesk.partial.%d", e.clock.Now().UnixNano())
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		return 0, fmt.Errorf("transfer: mkdir %s: %w", filepath.Dir(tempPath), err)
	}

	res, err := e.remote.Download(ctx, remotePath, tempPath)
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}

	if res.Fingerprint != "" {
		actual, hashErr := hashTempFile(tempPath)
		if hashErr != nil {
			os.Remove(tempPath)
			return 0, fmt.Errorf("transfer: hash downloaded %s: %w", op.RelPath, hashErr)
		}
		if actual != res.Fingerprint {
			os.Remove(tempPath)
			return 0, fmt.Errorf("transfer: %w: fingerprint mismatch for %s", remote.ErrIntegrity, op.RelPath)
		}
	}

	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("transfer: rename into place %s: %w", op.RelPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("transfer: stat downloaded %s: %w", op.RelPath, err)
	}

	fp := res.Fingerprint
	if fp == "" {
		fp, err = e.hasher.HashFile(localPath)
		if err != nil {
			return 0, err
		}
	}

	err = st.UpsertFileMetadata(&model.FileMetadata{
		FolderID:       folder.ID,
		RelPath:        op.RelPath,
		Fingerprint:    fp,
		Size:           info.Size(),
		LocalModTime:   info.ModTime(),
		RemoteModTime:  res.RemoteMTime,
		LastSyncedTime: e.clock.Now(),
	})
	return info.Size(), err
}

func (e *Executor) remoteDelete(ctx context.Context, folder *model.SyncFolder, op reconcile.Op, st *store.Store) error {
	remotePath := filepath.Join(folder.RemotePath, op.RelPath.String())
	if err := e.remote.Delete(ctx, remotePath); err != nil {
		return err
	}
	return st.DeleteFileMetadata(folder.ID, op.RelPath)
}

func (e *Executor) localDelete(folder *model.SyncFolder, op reconcile.Op, st *store.Store) error {
	localPath := filepath.Join(folder.LocalPath, op.RelPath.String())
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transfer: remove %s: %w", op.RelPath, err)
	}
	return st.DeleteFileMetadata(folder.ID, op.RelPath)
}

// adopt writes the baseline for a both-created path whose fingerprints
// already matched, without transferring any bytes.
func (e *Executor) adopt(folder *model.SyncFolder, op reconcile.Op, st *store.Store) error {
	return st.UpsertFileMetadata(&model.FileMetadata{
		FolderID:       folder.ID,
		RelPath:        op.RelPath,
		Fingerprint:    op.Input.LocalFingerprint,
		Size:           op.Input.LocalSize,
		LocalModTime:   op.Input.LocalModTime,
		RemoteModTime:  op.Input.RemoteModTime,
		LastSyncedTime: e.clock.Now(),
	})
}

func (e *Executor) logActivity(st *store.Store, folder *model.SyncFolder, op reconcile.Op, success bool, size int64, message string) {
	kind := model.ActivityError
	switch op.Kind {
	case reconcile.OpUpload:
		kind = model.ActivityUpload
	case reconcile.OpDownload:
		kind = model.ActivityDownload
	case reconcile.OpRemoteDelete, reconcile.OpLocalDelete:
		kind = model.ActivityDelete
	default:
		if success {
			return
		}
	}
	if success && message == "" && size > 0 {
		message = fmt.Sprintf("transferred %s", humanize.Bytes(uint64(size)))
	}
	if err := st.LogActivity(&model.ActivityLog{
		FolderID: folder.ID,
		RelPath:  op.RelPath,
		Kind:     kind,
		Success:  success,
		Size:     size,
		Message:  message,
	}); err != nil {
		slog.Warn("transfer: log activity failed", "error", err)
	}
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, remote.ErrNetworkTransient):
		return true
	case errors.Is(err, remote.ErrNetworkFatal), errors.Is(err, remote.ErrValidation),
		errors.Is(err, remote.ErrPermissionDenied), errors.Is(err, remote.ErrIntegrity),
		errors.Is(err, remote.ErrNotFound):
		return false
	default:
		// Unclassified errors (e.g. local I/O hiccups) are assumed
		// transient so a genuinely temporary condition gets retried.
		return true
	}
}

func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

func hashTempFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
