package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/baludesk/baludesk-core/internal/ipc"
	"github.com/baludesk/baludesk-core/internal/model"
)

// Ping answers a liveness check; a successful call means the engine's
// goroutines are scheduling and the store handle is still usable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.store.ListFolders()
	return err
}

// AddSyncFolder configures and immediately starts syncing a new folder.
func (e *Engine) AddSyncFolder(ctx context.Context, p ipc.AddSyncFolderPayload) (*model.SyncFolder, error) {
	info, err := os.Stat(p.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("engine: local path %s: %w", p.LocalPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("engine: %s is not a directory", p.LocalPath)
	}

	policy := model.ConflictPolicy(p.ConflictPolicy)
	if !policy.Valid() {
		policy = e.cfg.DefaultConflictPolicy
	}

	folder := &model.SyncFolder{
		LocalPath:      p.LocalPath,
		RemotePath:     p.RemotePath,
		Enabled:        true,
		ConflictPolicy: policy,
	}
	if err := e.store.AddFolder(folder); err != nil {
		return nil, err
	}
	if err := e.startFolder(folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// RemoveSyncFolder stops and deletes folderID, cascading to its
// FileMetadata, Conflict, and SyncState rows.
func (e *Engine) RemoveSyncFolder(ctx context.Context, folderID string) error {
	e.stopFolder(folderID)
	return e.store.RemoveFolder(folderID)
}

// UpdateSyncFolder applies the given changes and restarts the folder's
// runtime if its enabled state flipped.
func (e *Engine) UpdateSyncFolder(ctx context.Context, p ipc.UpdateSyncFolderPayload) (*model.SyncFolder, error) {
	folder, err := e.store.GetFolder(p.FolderID)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, fmt.Errorf("engine: folder %s not found", p.FolderID)
	}

	wasEnabled := folder.Enabled
	if p.ConflictPolicy != "" {
		policy := model.ConflictPolicy(p.ConflictPolicy)
		if !policy.Valid() {
			return nil, fmt.Errorf("engine: invalid conflict policy %q", p.ConflictPolicy)
		}
		folder.ConflictPolicy = policy
	}
	if p.Enabled != nil {
		folder.Enabled = *p.Enabled
	}

	if err := e.store.UpdateFolder(folder); err != nil {
		return nil, err
	}

	switch {
	case wasEnabled && !folder.Enabled:
		e.stopFolder(folder.ID)
	case !wasEnabled && folder.Enabled:
		if err := e.startFolder(folder); err != nil {
			return nil, err
		}
	default:
		e.mu.Lock()
		if rt, ok := e.folders[folder.ID]; ok {
			rt.folder.ConflictPolicy = folder.ConflictPolicy
		}
		e.mu.Unlock()
	}

	return folder, nil
}

// PauseSync suspends reconciles for folderID without tearing down its
// filesystem watch; events still coalesce into the dirty flag so a
// resume picks up everything that happened while paused.
func (e *Engine) PauseSync(ctx context.Context, folderID string) error {
	e.mu.Lock()
	rt, ok := e.folders[folderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: folder %s is not running", folderID)
	}
	rt.mu.Lock()
	rt.paused = true
	rt.mu.Unlock()
	return nil
}

// ResumeSync re-enables reconciles for folderID and triggers one
// immediately.
func (e *Engine) ResumeSync(ctx context.Context, folderID string) error {
	e.mu.Lock()
	rt, ok := e.folders[folderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: folder %s is not running", folderID)
	}
	rt.mu.Lock()
	rt.paused = false
	rt.dirty = true
	rt.mu.Unlock()
	return nil
}

// GetSyncState returns folderID's sync cursor.
func (e *Engine) GetSyncState(ctx context.Context, folderID string) (*model.SyncState, error) {
	return e.store.GetSyncState(folderID)
}

// GetFolders returns every configured folder.
func (e *Engine) GetFolders(ctx context.Context) ([]*model.SyncFolder, error) {
	return e.store.ListFolders()
}

// GetPendingConflicts lists unresolved conflicts, scoped to folderID
// unless it's empty, in which case every configured folder is searched.
func (e *Engine) GetPendingConflicts(ctx context.Context, folderID string) ([]*model.Conflict, error) {
	if folderID != "" {
		return e.store.ListPendingConflicts(folderID)
	}

	folders, err := e.store.ListFolders()
	if err != nil {
		return nil, err
	}
	var all []*model.Conflict
	for _, f := range folders {
		conflicts, err := e.store.ListPendingConflicts(f.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, conflicts...)
	}
	return all, nil
}

// ResolveConflict marks a conflict resolved. The owning folder's next
// reconcile (triggered here) re-examines the path under the new
// resolution the caller recorded out of band.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution model.ConflictResolution) error {
	if err := e.store.ResolveConflict(conflictID, resolution); err != nil {
		return err
	}
	e.mu.Lock()
	for _, rt := range e.folders {
		rt.markDirty()
	}
	e.mu.Unlock()
	return nil
}

var _ ipc.Handler = (*Engine)(nil)
