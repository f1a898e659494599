package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/baludesk/baludesk-core/internal/model"
)

type dbFolder struct {
	ID               string `db:"id"`
	LocalPath        string `db:"local_path"`
	RemotePath       string `db:"remote_path"`
	Enabled          bool   `db:"enabled"`
	ConflictPolicy   string `db:"conflict_policy"`
	CreatedAt        string `db:"created_at"`
	LastFullSyncedAt string `db:"last_full_synced_at"`
}

func (r dbFolder) toModel() (*model.SyncFolder, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	lastFull, err := parseTime(r.LastFullSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_full_synced_at: %w", err)
	}
	return &model.SyncFolder{
		ID:               r.ID,
		LocalPath:        r.LocalPath,
		RemotePath:       r.RemotePath,
		Enabled:          r.Enabled,
		ConflictPolicy:   model.ConflictPolicy(r.ConflictPolicy),
		CreatedAt:        created,
		LastFullSyncedAt: lastFull,
	}, nil
}

func fromFolder(f *model.SyncFolder) dbFolder {
	return dbFolder{
		ID:               f.ID,
		LocalPath:        f.LocalPath,
		RemotePath:       f.RemotePath,
		Enabled:          f.Enabled,
		ConflictPolicy:   string(f.ConflictPolicy),
		CreatedAt:        formatTime(f.CreatedAt),
		LastFullSyncedAt: formatTime(f.LastFullSyncedAt),
	}
}

const folderColumns = "id, local_path, remote_path, enabled, conflict_policy, created_at, last_full_synced_at"

// AddFolder inserts f, assigning an ID and CreatedAt if unset.
func (s *Store) AddFolder(f *model.SyncFolder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = nowFunc()
	}
	if !f.ConflictPolicy.Valid() {
		f.ConflictPolicy = model.PolicyAskUser
	}

	query := `INSERT INTO sync_folders (` + folderColumns + `)
	          VALUES (:id, :local_path, :remote_path, :enabled, :conflict_policy, :created_at, :last_full_synced_at)`
	_, err := s.q.NamedExec(query, fromFolder(f))
	if err != nil {
		return fmt.Errorf("store: add folder %s: %w", f.LocalPath, err)
	}
	return nil
}

// UpdateFolder overwrites the row matching f.ID.
func (s *Store) UpdateFolder(f *model.SyncFolder) error {
	query := `UPDATE sync_folders SET
	          local_path = :local_path,
	          remote_path = :remote_path,
	          enabled = :enabled,
	          conflict_policy = :conflict_policy,
	          last_full_synced_at = :last_full_synced_at
	          WHERE id = :id`
	res, err := s.q.NamedExec(query, fromFolder(f))
	if err != nil {
		return fmt.Errorf("store: update folder %s: %w", f.ID, err)
	}
	return requireRowAffected(res, "folder", f.ID)
}

// RemoveFolder deletes the folder row and (via ON DELETE CASCADE) every
// file_metadata, conflict, and sync_state row that references it.
func (s *Store) RemoveFolder(id string) error {
	_, err := s.q.Exec("DELETE FROM sync_folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: remove folder %s: %w", id, err)
	}
	return nil
}

// ListFolders returns every configured folder, enabled or not.
func (s *Store) ListFolders() ([]*model.SyncFolder, error) {
	var rows []dbFolder
	if err := s.q.Select(&rows, "SELECT "+folderColumns+" FROM sync_folders ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("store: list folders: %w", err)
	}
	out := make([]*model.SyncFolder, 0, len(rows))
	for _, r := range rows {
		f, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// GetFolder returns the folder with id, or (nil, nil) if no such folder
// is configured — absence is not an error.
func (s *Store) GetFolder(id string) (*model.SyncFolder, error) {
	var row dbFolder
	err := s.q.Get(&row, "SELECT "+folderColumns+" FROM sync_folders WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get folder %s: %w", id, err)
	}
	return row.toModel()
}

func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
