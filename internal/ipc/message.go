// Package ipc defines the line-delimited JSON request/response protocol
// the core exposes to the desktop UI. Broadcast events are the notifier
// package's concern; this package only carries request/response framing
// and dispatch, using a Request{type, requestId, payload} shape whose raw
// payload the dispatcher decodes according to the request type.
package ipc

import (
	"encoding/json"
	"fmt"
)

// RequestType enumerates the request kinds the core must handle.
type RequestType string

const (
	ReqPing                RequestType = "ping"
	ReqAddSyncFolder       RequestType = "add_sync_folder"
	ReqRemoveSyncFolder    RequestType = "remove_sync_folder"
	ReqUpdateSyncFolder    RequestType = "update_sync_folder"
	ReqPauseSync           RequestType = "pause_sync"
	ReqResumeSync          RequestType = "resume_sync"
	ReqGetSyncState        RequestType = "get_sync_state"
	ReqGetFolders          RequestType = "get_folders"
	ReqGetPendingConflicts RequestType = "get_pending_conflicts"
	ReqResolveConflict     RequestType = "resolve_conflict"
)

// Request is one line of the IPC input stream. RequestID is optional —
// omitted on fire-and-forget requests the caller doesn't need a
// correlated response for.
type Request struct {
	Type      RequestType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response answers one Request, correlated by RequestID.
type Response struct {
	RequestID string `json:"requestId,omitempty"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AddSyncFolderPayload is the payload for add_sync_folder.
type AddSyncFolderPayload struct {
	LocalPath      string `json:"localPath"`
	RemotePath     string `json:"remotePath"`
	ConflictPolicy string `json:"conflictPolicy,omitempty"`
}

// UpdateSyncFolderPayload is the payload for update_sync_folder. Zero
// values mean "leave unchanged"; Enabled is a pointer for the same reason.
type UpdateSyncFolderPayload struct {
	FolderID       string `json:"folderId"`
	ConflictPolicy string `json:"conflictPolicy,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// FolderIDPayload covers remove_sync_folder, pause_sync, resume_sync, and
// get_sync_state, which all key off a single folder ID.
type FolderIDPayload struct {
	FolderID string `json:"folderId"`
}

// GetPendingConflictsPayload optionally scopes the listing to one folder;
// an empty FolderID lists conflicts across all folders.
type GetPendingConflictsPayload struct {
	FolderID string `json:"folderId,omitempty"`
}

// ResolveConflictPayload is the payload for resolve_conflict.
type ResolveConflictPayload struct {
	ConflictID string `json:"conflictId"`
	Resolution string `json:"resolution"`
}

// decodePayload unmarshals req.Payload into v, producing a message that
// names the request type on failure rather than a bare json error.
func decodePayload(req Request, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("ipc: %s: missing payload", req.Type)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("ipc: %s: decode payload: %w", req.Type, err)
	}
	return nil
}
