package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/baludesk/baludesk-core/internal/model"
)

type dbSyncState struct {
	FolderID                string `db:"folder_id"`
	LastSync                string `db:"last_sync"`
	LastSuccessfulReconcile string `db:"last_successful_reconcile"`
}

func (r dbSyncState) toModel() (*model.SyncState, error) {
	lastSync, err := parseTime(r.LastSync)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_sync: %w", err)
	}
	lastReconcile, err := parseTime(r.LastSuccessfulReconcile)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_successful_reconcile: %w", err)
	}
	return &model.SyncState{
		FolderID:                r.FolderID,
		LastSync:                lastSync,
		LastSuccessfulReconcile: lastReconcile,
	}, nil
}

// GetSyncState returns folderID's cursor, or (nil, nil) if the folder has
// never synced.
func (s *Store) GetSyncState(folderID string) (*model.SyncState, error) {
	var row dbSyncState
	err := s.q.Get(&row,
		"SELECT folder_id, last_sync, last_successful_reconcile FROM sync_state WHERE folder_id = ?",
		folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get sync state %s: %w", folderID, err)
	}
	return row.toModel()
}

// SetSyncState records the last-sync instant for folderID, inserting the
// row on first sync.
func (s *Store) SetSyncState(folderID string, lastSync time.Time) error {
	_, err := s.q.Exec(`
		INSERT INTO sync_state (folder_id, last_sync, last_successful_reconcile)
		VALUES (?, ?, '')
		ON CONFLICT (folder_id) DO UPDATE SET last_sync = excluded.last_sync`,
		folderID, formatTime(lastSync))
	if err != nil {
		return fmt.Errorf("store: set sync state %s: %w", folderID, err)
	}
	return nil
}

// SetLastSuccessfulReconcile records the instant a full reconcile pass
// completed without leaving unresolved conflicts behind.
func (s *Store) SetLastSuccessfulReconcile(folderID string, t time.Time) error {
	_, err := s.q.Exec(`
		INSERT INTO sync_state (folder_id, last_sync, last_successful_reconcile)
		VALUES (?, '', ?)
		ON CONFLICT (folder_id) DO UPDATE SET last_successful_reconcile = excluded.last_successful_reconcile`,
		folderID, formatTime(t))
	if err != nil {
		return fmt.Errorf("store: set last successful reconcile %s: %w", folderID, err)
	}
	return nil
}
