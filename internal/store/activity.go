package store

import (
	"fmt"

	"github.com/baludesk/baludesk-core/internal/model"
)

type dbActivityLog struct {
	ID        int64  `db:"id"`
	FolderID  string `db:"folder_id"`
	RelPath   string `db:"rel_path"`
	Kind      string `db:"kind"`
	Success   bool   `db:"success"`
	Size      int64  `db:"size"`
	Message   string `db:"message"`
	Timestamp string `db:"timestamp"`
}

// LogActivity appends one record to the activity log — the progress and
// history feed consumed by the IPC/UI layer.
func (s *Store) LogActivity(a *model.ActivityLog) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = nowFunc()
	}

	data := dbActivityLog{
		FolderID:  a.FolderID,
		RelPath:   a.RelPath.String(),
		Kind:      string(a.Kind),
		Success:   a.Success,
		Size:      a.Size,
		Message:   a.Message,
		Timestamp: formatTime(a.Timestamp),
	}

	query := `INSERT INTO activity_log (folder_id, rel_path, kind, success, size, message, timestamp)
	          VALUES (:folder_id, :rel_path, :kind, :success, :size, :message, :timestamp)`
	res, err := s.q.NamedExec(query, data)
	if err != nil {
		return fmt.Errorf("store: log activity %s/%s: %w", a.FolderID, a.RelPath, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// ListRecentActivity returns up to limit activity rows for folderID,
// newest first.
func (s *Store) ListRecentActivity(folderID string, limit int) ([]*model.ActivityLog, error) {
	var rows []dbActivityLog
	err := s.q.Select(&rows,
		"SELECT id, folder_id, rel_path, kind, success, size, message, timestamp FROM activity_log WHERE folder_id = ? ORDER BY timestamp DESC LIMIT ?",
		folderID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent activity %s: %w", folderID, err)
	}

	out := make([]*model.ActivityLog, 0, len(rows))
	for _, r := range rows {
		ts, err := parseTime(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("store: parse timestamp: %w", err)
		}
		out = append(out, &model.ActivityLog{
			ID:        r.ID,
			FolderID:  r.FolderID,
			RelPath:   model.RelPath(r.RelPath),
			Kind:      model.ActivityKind(r.Kind),
			Success:   r.Success,
			Size:      r.Size,
			Message:   r.Message,
			Timestamp: ts,
		})
	}
	return out, nil
}
