// Package model defines the persistent entities the sync engine reasons
// about: SyncFolder, FileMetadata, Conflict, SyncState and ActivityLog.
package model

import "time"

// ConflictPolicy controls how the reconciler resolves a row it cannot
// otherwise decide between local and remote.
type ConflictPolicy string

const (
	PolicyAskUser    ConflictPolicy = "ask-user"
	PolicyKeepLocal  ConflictPolicy = "keep-local"
	PolicyKeepRemote ConflictPolicy = "keep-remote"
	PolicyKeepNewest ConflictPolicy = "keep-newest"
)

// Valid reports whether p is one of the four recognized policies.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case PolicyAskUser, PolicyKeepLocal, PolicyKeepRemote, PolicyKeepNewest:
		return true
	default:
		return false
	}
}

// SyncFolder is a configured local<->remote directory mapping.
type SyncFolder struct {
	ID               string         `db:"id" json:"id"`
	LocalPath        string         `db:"local_path" json:"local_path"`
	RemotePath       string         `db:"remote_path" json:"remote_path"`
	Enabled          bool           `db:"enabled" json:"enabled"`
	ConflictPolicy   ConflictPolicy `db:"conflict_policy" json:"conflict_policy"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	LastFullSyncedAt time.Time      `db:"last_full_synced_at" json:"last_full_synced_at"`
}
