package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baludesk/baludesk-core/internal/model"
)

type dbFileMetadata struct {
	ID             string `db:"id"`
	FolderID       string `db:"folder_id"`
	RelPath        string `db:"rel_path"`
	Fingerprint    string `db:"fingerprint"`
	Size           int64  `db:"size"`
	LocalModTime   string `db:"local_mod_time"`
	RemoteModTime  string `db:"remote_mod_time"`
	LastSyncedTime string `db:"last_synced_time"`
}

func (r dbFileMetadata) toModel() (*model.FileMetadata, error) {
	localMod, err := parseTime(r.LocalModTime)
	if err != nil {
		return nil, fmt.Errorf("store: parse local_mod_time: %w", err)
	}
	remoteMod, err := parseTime(r.RemoteModTime)
	if err != nil {
		return nil, fmt.Errorf("store: parse remote_mod_time: %w", err)
	}
	synced, err := parseTime(r.LastSyncedTime)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_synced_time: %w", err)
	}
	return &model.FileMetadata{
		ID:             r.ID,
		FolderID:       r.FolderID,
		RelPath:        model.RelPath(r.RelPath),
		Fingerprint:    r.Fingerprint,
		Size:           r.Size,
		LocalModTime:   localMod,
		RemoteModTime:  remoteMod,
		LastSyncedTime: synced,
	}, nil
}

func fromFileMetadata(m *model.FileMetadata) dbFileMetadata {
	return dbFileMetadata{
		ID:             m.ID,
		FolderID:       m.FolderID,
		RelPath:        m.RelPath.String(),
		Fingerprint:    m.Fingerprint,
		Size:           m.Size,
		LocalModTime:   formatTime(m.LocalModTime),
		RemoteModTime:  formatTime(m.RemoteModTime),
		LastSyncedTime: formatTime(m.LastSyncedTime),
	}
}

const fileMetadataColumns = "id, folder_id, rel_path, fingerprint, size, local_mod_time, remote_mod_time, last_synced_time"

// UpsertFileMetadata inserts or replaces the baseline row for
// (folder_id, rel_path), assigning an ID if unset.
func (s *Store) UpsertFileMetadata(m *model.FileMetadata) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	query := `INSERT INTO file_metadata (` + fileMetadataColumns + `)
	          VALUES (:id, :folder_id, :rel_path, :fingerprint, :size, :local_mod_time, :remote_mod_time, :last_synced_time)
	          ON CONFLICT (folder_id, rel_path) DO UPDATE SET
	              fingerprint = excluded.fingerprint,
	              size = excluded.size,
	              local_mod_time = excluded.local_mod_time,
	              remote_mod_time = excluded.remote_mod_time,
	              last_synced_time = excluded.last_synced_time`
	_, err := s.q.NamedExec(query, fromFileMetadata(m))
	if err != nil {
		return fmt.Errorf("store: upsert file metadata %s/%s: %w", m.FolderID, m.RelPath, err)
	}
	return nil
}

// GetFileMetadata returns the baseline row for relPath in folderID, or
// (nil, nil) if the file has no recorded baseline — meaning "new to us",
// never to be conflated with a present-but-zero-valued row.
func (s *Store) GetFileMetadata(folderID string, relPath model.RelPath) (*model.FileMetadata, error) {
	var row dbFileMetadata
	err := s.q.Get(&row, "SELECT "+fileMetadataColumns+" FROM file_metadata WHERE folder_id = ? AND rel_path = ?", folderID, relPath.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get file metadata %s/%s: %w", folderID, relPath, err)
	}
	return row.toModel()
}

// ListFileMetadata returns every baseline row known for folderID.
func (s *Store) ListFileMetadata(folderID string) ([]*model.FileMetadata, error) {
	var rows []dbFileMetadata
	err := s.q.Select(&rows, "SELECT "+fileMetadataColumns+" FROM file_metadata WHERE folder_id = ?", folderID)
	if err != nil {
		return nil, fmt.Errorf("store: list file metadata %s: %w", folderID, err)
	}
	out := make([]*model.FileMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteFileMetadata drops the baseline row once a delete has been
// reconciled on both sides.
func (s *Store) DeleteFileMetadata(folderID string, relPath model.RelPath) error {
	_, err := s.q.Exec("DELETE FROM file_metadata WHERE folder_id = ? AND rel_path = ?", folderID, relPath.String())
	if err != nil {
		return fmt.Errorf("store: delete file metadata %s/%s: %w", folderID, relPath, err)
	}
	return nil
}

// ListChangedSince returns baseline rows last synced at or after t, for
// listing recent changes; the reconcile pass does not use it.
func (s *Store) ListChangedSince(folderID string, t time.Time) ([]*model.FileMetadata, error) {
	var rows []dbFileMetadata
	err := s.q.Select(&rows,
		"SELECT "+fileMetadataColumns+" FROM file_metadata WHERE folder_id = ? AND last_synced_time >= ?",
		folderID, formatTime(t))
	if err != nil {
		return nil, fmt.Errorf("store: list changed since %s: %w", folderID, err)
	}
	out := make([]*model.FileMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
