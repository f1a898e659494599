// Package fswatch is the cross-platform filesystem watcher facade: one
// coalesced FileEvent stream per watched root, built on rjeczalik/notify,
// supporting startWatch/stopWatch over many concurrently watched roots
// with a 500ms debounce window and delete/create coalescing rules.
package fswatch

import "time"

// Action is the best-effort classification attached to a coalesced event.
// Consumers must re-stat to be certain.
type Action string

const (
	ActionCreated  Action = "created"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
)

// FileEvent is one coalesced, debounced notification for a single path
// beneath a watched root.
type FileEvent struct {
	Root     string
	Path     string
	Action   Action
	Detected time.Time
	Size     int64
}
