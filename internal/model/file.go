package model

import "time"

// RelPath is a folder-relative path, always forward-slash normalized.
type RelPath string

func (p RelPath) String() string { return string(p) }

// FileMetadata is the per-file baseline: what we last agreed with the
// server about this file. Its absence means "new to us"; it must never be
// conflated with a present-but-zero-valued row.
type FileMetadata struct {
	ID             string    `db:"id" json:"id"`
	FolderID       string    `db:"folder_id" json:"folder_id"`
	RelPath        RelPath   `db:"rel_path" json:"rel_path"`
	Fingerprint    string    `db:"fingerprint" json:"fingerprint"` // sha256 hex
	Size           int64     `db:"size" json:"size"`
	LocalModTime   time.Time `db:"local_mod_time" json:"local_mod_time"`
	RemoteModTime  time.Time `db:"remote_mod_time" json:"remote_mod_time"`
	LastSyncedTime time.Time `db:"last_synced_time" json:"last_synced_time"`
}

// ConflictKind classifies why the reconciler could not choose a side.
type ConflictKind string

const (
	ConflictBothModified          ConflictKind = "both-modified"
	ConflictLocalModRemoteDeleted ConflictKind = "local-modified-remote-deleted"
	ConflictRemoteModLocalDeleted ConflictKind = "remote-modified-local-deleted"
	ConflictTypeMismatch          ConflictKind = "type-mismatch"
)

// ConflictResolution records how a Conflict row was ultimately settled.
type ConflictResolution string

const (
	ResolutionKeptLocal      ConflictResolution = "kept-local"
	ResolutionKeptRemote     ConflictResolution = "kept-remote"
	ResolutionKeptBothRename ConflictResolution = "kept-both-renamed"
	ResolutionIgnored        ConflictResolution = "ignored"
)

// Conflict is an audit row: created once, resolved in place, never deleted.
type Conflict struct {
	ID             string             `db:"id" json:"id"`
	FolderID       string             `db:"folder_id" json:"folder_id"`
	RelPath        RelPath            `db:"rel_path" json:"rel_path"`
	FileMetadataID string             `db:"file_metadata_id" json:"file_metadata_id,omitempty"`
	Kind           ConflictKind       `db:"kind" json:"kind"`
	DetectedAt     time.Time          `db:"detected_at" json:"detected_at"`
	Resolved       bool               `db:"resolved" json:"resolved"`
	Resolution     ConflictResolution `db:"resolution" json:"resolution,omitempty"`
}

// SyncState is a folder's cursor into the remote's changes-since stream.
type SyncState struct {
	FolderID                string    `db:"folder_id" json:"folder_id"`
	LastSync                time.Time `db:"last_sync" json:"last_sync"`
	LastSuccessfulReconcile time.Time `db:"last_successful_reconcile" json:"last_successful_reconcile"`
}

// ActivityKind enumerates the operation kinds recorded in the activity log.
type ActivityKind string

const (
	ActivityUpload   ActivityKind = "upload"
	ActivityDownload ActivityKind = "download"
	ActivityDelete   ActivityKind = "delete"
	ActivityConflict ActivityKind = "conflict"
	ActivityError    ActivityKind = "error"
)

// ActivityLog is an append-only audit row of one operation outcome.
type ActivityLog struct {
	ID        int64        `db:"id" json:"id"`
	FolderID  string       `db:"folder_id" json:"folder_id"`
	RelPath   RelPath      `db:"rel_path" json:"rel_path"`
	Kind      ActivityKind `db:"kind" json:"kind"`
	Success   bool         `db:"success" json:"success"`
	Size      int64        `db:"size" json:"size"`
	Message   string       `db:"message" json:"message,omitempty"`
	Timestamp time.Time    `db:"timestamp" json:"timestamp"`
}
