package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baludesk/baludesk-core/internal/detect"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/notifier"
	"github.com/baludesk/baludesk-core/internal/reconcile"
	"github.com/baludesk/baludesk-core/internal/remote"
	"github.com/baludesk/baludesk-core/internal/transfer"
)

// reconcileFolder runs one full reconcile pass for rt. It returns an
// error only when the pass could not even produce a plan (e.g. the
// remote changes endpoint is unreachable); per-operation failures are
// handled and logged inside the transfer executor and never propagate
// here.
func (e *Engine) reconcileFolder(ctx context.Context, rt *folderRuntime) error {
	if !rt.runMu.TryLock() {
		rt.markDirty()
		return nil
	}
	defer rt.runMu.Unlock()

	for {
		if err := e.reconcileOnce(ctx, rt); err != nil {
			return err
		}
		if !rt.consumeDirty() {
			return nil
		}
	}
}

// reconcileOnce runs a single pass; reconcileFolder loops it while the
// dirty flag keeps getting set, without releasing the per-folder mutex
// in between (one builder at a time per folder).
func (e *Engine) reconcileOnce(ctx context.Context, rt *folderRuntime) error {
	folder := rt.folder
	tStart := e.clock.Now()

	e.notify.Notify(notifier.Event{Type: notifier.EventSyncStarted, Folder: folder.ID, Timestamp: tStart})

	baselineRows, err := e.store.ListFileMetadata(folder.ID)
	if err != nil {
		return fmt.Errorf("engine: list baseline %s: %w", folder.ID, err)
	}
	baseline := make(map[model.RelPath]*model.FileMetadata, len(baselineRows))
	detectBaseline := make([]detect.Baseline, 0, len(baselineRows))
	for _, m := range baselineRows {
		baseline[m.RelPath] = m
		detectBaseline = append(detectBaseline, detect.Baseline{
			RelPath: m.RelPath, Size: m.Size, ModTime: m.LocalModTime, Fingerprint: m.Fingerprint,
		})
	}

	localDiff, err := e.detectorFor().Diff(folder.LocalPath, detectBaseline, rt.ignore)
	if err != nil {
		return fmt.Errorf("engine: local diff %s: %w", folder.ID, err)
	}

	syncState, err := e.store.GetSyncState(folder.ID)
	if err != nil {
		return fmt.Errorf("engine: get sync state %s: %w", folder.ID, err)
	}
	var since time.Time
	if syncState != nil {
		since = syncState.LastSync
	}

	remoteChanges, err := e.remoteChanges(ctx, folder, baseline, since)
	if err != nil {
		return fmt.Errorf("engine: remote changes %s: %w", folder.ID, err)
	}

	inputs := reconcile.BuildInputs(localDiff, remoteChanges, baseline)
	result := reconcile.Classify(inputs, folder.ConflictPolicy)
	ops := reconcile.Order(result.Ops)

	// The conflict log, the transfers' metadata/activity writes, and the
	// sync_state stamp all land in one transaction, so a crash mid-pass
	// never leaves file_metadata committed against a sync_state or
	// conflicts row that never made it to disk.
	var newConflicts []reconcile.ConflictOutcome
	var summary transfer.Summary
	txErr := e.store.WithTransaction(func(tx *sqlx.Tx) error {
		txStore := e.store.Tx(tx)

		for _, c := range result.Conflicts {
			already, err := txStore.HasPendingConflict(folder.ID, c.RelPath)
			if err != nil {
				return fmt.Errorf("engine: check pending conflict %s/%s: %w", folder.ID, c.RelPath, err)
			}
			if already {
				continue
			}

			if err := txStore.LogConflict(&model.Conflict{
				FolderID: folder.ID,
				RelPath:  c.RelPath,
				Kind:     c.Kind,
			}); err != nil {
				return fmt.Errorf("engine: log conflict %s/%s: %w", folder.ID, c.RelPath, err)
			}
			newConflicts = append(newConflicts, c)
		}

		summary = rt.exec.ExecuteTx(ctx, folder, ops, txStore)

		// last-sync is stamped with the instant the pass began, not now, so
		// anything that raced the pass is re-examined next time instead of
		// silently dropped.
		if err := txStore.SetSyncState(folder.ID, tStart); err != nil {
			return fmt.Errorf("engine: set sync state %s: %w", folder.ID, err)
		}
		if len(result.Conflicts) == 0 && summary.Failed == 0 {
			if err := txStore.SetLastSuccessfulReconcile(folder.ID, e.clock.Now()); err != nil {
				return fmt.Errorf("engine: set last successful reconcile %s: %w", folder.ID, err)
			}
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	for _, c := range newConflicts {
		markConflicted(folder.LocalPath, c.RelPath)
		e.notify.Notify(notifier.Event{
			Type:   notifier.EventConflictDetected,
			Folder: folder.ID,
			Path:   c.RelPath.String(),
			Kind:   string(c.Kind),
		})
	}

	e.notify.Notify(notifier.Event{
		Type:   notifier.EventSyncCompleted,
		Folder: folder.ID,
		Counts: &notifier.SyncCompletedCounts{
			Uploads:   summary.Uploads,
			Downloads: summary.Downloads,
			Deletes:   summary.Deletes,
			Conflicts: len(result.Conflicts),
		},
		Timestamp: e.clock.Now(),
	})

	return nil
}

// remoteChanges prefers the remote's own changesSince feed; when the
// remote doesn't support it, it falls back to a full listFiles diff
// against the local baseline.
func (e *Engine) remoteChanges(ctx context.Context, folder *model.SyncFolder, baseline map[model.RelPath]*model.FileMetadata, since time.Time) ([]remote.Change, error) {
	changes, err := e.remote.ChangesSince(ctx, folder.RemotePath, since)
	if err == nil {
		return changes, nil
	}
	if !errors.Is(err, remote.ErrChangesSinceUnsupported) {
		return nil, err
	}

	files, err := e.remote.ListFiles(ctx, folder.RemotePath)
	if err != nil {
		return nil, err
	}

	seen := make(map[model.RelPath]struct{}, len(files))
	out := make([]remote.Change, 0, len(files))
	for _, f := range files {
		if f.IsDir {
			continue
		}
		rp := model.RelPath(f.RelPath)
		seen[rp] = struct{}{}

		base, known := baseline[rp]
		switch {
		case !known:
			out = append(out, remote.Change{RelPath: f.RelPath, Kind: remote.ChangeCreated, RemoteMTime: f.RemoteMTime, Size: f.Size, Fingerprint: f.Fingerprint})
		case f.Fingerprint != "" && f.Fingerprint != base.Fingerprint:
			out = append(out, remote.Change{RelPath: f.RelPath, Kind: remote.ChangeModified, RemoteMTime: f.RemoteMTime, Size: f.Size, Fingerprint: f.Fingerprint})
		case f.Fingerprint == "" && !f.RemoteMTime.Equal(base.RemoteModTime):
			out = append(out, remote.Change{RelPath: f.RelPath, Kind: remote.ChangeModified, RemoteMTime: f.RemoteMTime, Size: f.Size})
		}
	}
	for rp := range baseline {
		if _, ok := seen[rp]; !ok {
			out = append(out, remote.Change{RelPath: rp.String(), Kind: remote.ChangeDeleted})
		}
	}
	return out, nil
}

// markConflicted copies the local file next to itself under a
// ".conflicted" suffix so it surfaces in the user's file browser, leaving
// the original in place for the configured policy (or a future manual
// resolution) to act on. Best-effort: a failure here never blocks the
// conflict row from being recorded.
func markConflicted(localRoot string, relPath model.RelPath) {
	src := filepath.Join(localRoot, relPath.String())
	dst := src + ".conflicted"

	data, err := os.ReadFile(src)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("engine: read file for conflict marker", "path", src, "error", err)
		}
		return
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		slog.Warn("engine: write conflict marker", "path", dst, "error", err)
	}
}
