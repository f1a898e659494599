// Package remote defines the RemoteClient capability the sync core
// consumes and ships one concrete HTTP-backed implementation. The wire
// protocol and auth details are the external collaborator's concern;
// this package only needs to satisfy the interface faithfully enough
// for the reconciler and transfer executor to drive it.
package remote

import (
	"context"
	"time"
)

// ChangeKind classifies one row in a changesSince response.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// File describes one remote file as reported by listFiles.
type File struct {
	RelPath      string
	Size         int64
	RemoteMTime  time.Time
	Fingerprint  string // may be empty if the remote doesn't report one
	IsDir        bool
}

// Change describes one row in a changesSince response.
type Change struct {
	RelPath     string
	Kind        ChangeKind
	RemoteMTime time.Time
	Size        int64
	Fingerprint string
}

// UploadResult is returned by a successful Upload.
type UploadResult struct {
	RemoteMTime time.Time
	Fingerprint string
}

// DownloadResult is returned by a successful Download.
type DownloadResult struct {
	RemoteMTime time.Time
	Fingerprint string
}

// Client is the capability the sync core consumes from the remote file
// service. Implementations must make Upload idempotent: uploading the
// same bytes twice must leave the remote in the same observable state.
type Client interface {
	Login(ctx context.Context, username, password string) (token string, err error)
	SetToken(token string)
	IsAuthenticated() bool

	ListFiles(ctx context.Context, remotePath string) ([]File, error)
	Upload(ctx context.Context, localPath, remotePath string) (UploadResult, error)
	Download(ctx context.Context, remotePath, localTempPath string) (DownloadResult, error)
	Delete(ctx context.Context, remotePath string) error

	// ChangesSince returns changes to remoteRoot observed after since. If
	// the remote doesn't support this endpoint, implementations should
	// return ErrChangesSinceUnsupported so callers can fall back to a
	// full ListFiles diff.
	ChangesSince(ctx context.Context, remoteRoot string, since time.Time) ([]Change, error)
}
