package ipc

import (
	"context"

	"github.com/baludesk/baludesk-core/internal/model"
)

// Handler is implemented by the engine; the dispatcher translates each
// decoded Request into exactly one of these calls.
type Handler interface {
	Ping(ctx context.Context) error
	AddSyncFolder(ctx context.Context, p AddSyncFolderPayload) (*model.SyncFolder, error)
	RemoveSyncFolder(ctx context.Context, folderID string) error
	UpdateSyncFolder(ctx context.Context, p UpdateSyncFolderPayload) (*model.SyncFolder, error)
	PauseSync(ctx context.Context, folderID string) error
	ResumeSync(ctx context.Context, folderID string) error
	GetSyncState(ctx context.Context, folderID string) (*model.SyncState, error)
	GetFolders(ctx context.Context) ([]*model.SyncFolder, error)
	GetPendingConflicts(ctx context.Context, folderID string) ([]*model.Conflict, error)
	ResolveConflict(ctx context.Context, conflictID string, resolution model.ConflictResolution) error
}
