package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/baludesk/baludesk-core/internal/model"
)

type dbConflict struct {
	ID             string `db:"id"`
	FolderID       string `db:"folder_id"`
	RelPath        string `db:"rel_path"`
	FileMetadataID string `db:"file_metadata_id"`
	Kind           string `db:"kind"`
	DetectedAt     string `db:"detected_at"`
	Resolved       bool   `db:"resolved"`
	Resolution     string `db:"resolution"`
}

func (r dbConflict) toModel() (*model.Conflict, error) {
	detected, err := parseTime(r.DetectedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse detected_at: %w", err)
	}
	return &model.Conflict{
		ID:             r.ID,
		FolderID:       r.FolderID,
		RelPath:        model.RelPath(r.RelPath),
		FileMetadataID: r.FileMetadataID,
		Kind:           model.ConflictKind(r.Kind),
		DetectedAt:     detected,
		Resolved:       r.Resolved,
		Resolution:     model.ConflictResolution(r.Resolution),
	}, nil
}

const conflictColumns = "id, folder_id, rel_path, file_metadata_id, kind, detected_at, resolved, resolution"

// LogConflict records a newly detected conflict. Conflict rows are an
// audit trail: created once, resolved in place, never deleted.
func (s *Store) LogConflict(c *model.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = nowFunc()
	}

	data := dbConflict{
		ID:             c.ID,
		FolderID:       c.FolderID,
		RelPath:        c.RelPath.String(),
		FileMetadataID: c.FileMetadataID,
		Kind:           string(c.Kind),
		DetectedAt:     formatTime(c.DetectedAt),
		Resolved:       c.Resolved,
		Resolution:     string(c.Resolution),
	}

	query := `INSERT INTO conflicts (` + conflictColumns + `)
	          VALUES (:id, :folder_id, :rel_path, :file_metadata_id, :kind, :detected_at, :resolved, :resolution)`
	if _, err := s.q.NamedExec(query, data); err != nil {
		return fmt.Errorf("store: log conflict %s/%s: %w", c.FolderID, c.RelPath, err)
	}
	return nil
}

// ListPendingConflicts returns every unresolved conflict for folderID,
// oldest first.
func (s *Store) ListPendingConflicts(folderID string) ([]*model.Conflict, error) {
	var rows []dbConflict
	err := s.q.Select(&rows,
		"SELECT "+conflictColumns+" FROM conflicts WHERE folder_id = ? AND resolved = 0 ORDER BY detected_at",
		folderID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending conflicts %s: %w", folderID, err)
	}
	out := make([]*model.Conflict, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// HasPendingConflict reports whether folderID/relPath already has an
// unresolved conflict row, so a reconcile pass that keeps seeing the same
// unresolved divergence doesn't log (and re-notify) it every time.
func (s *Store) HasPendingConflict(folderID string, relPath model.RelPath) (bool, error) {
	var n int
	err := s.q.Get(&n,
		"SELECT COUNT(1) FROM conflicts WHERE folder_id = ? AND rel_path = ? AND resolved = 0",
		folderID, relPath.String())
	if err != nil {
		return false, fmt.Errorf("store: has pending conflict %s/%s: %w", folderID, relPath, err)
	}
	return n > 0, nil
}

// ResolveConflict marks conflict id resolved with the given resolution.
func (s *Store) ResolveConflict(id string, resolution model.ConflictResolution) error {
	res, err := s.q.Exec(
		"UPDATE conflicts SET resolved = 1, resolution = ? WHERE id = ?",
		string(resolution), id)
	if err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}
	return requireRowAffected(res, "conflict", id)
}
