package remote

import "errors"

// Sentinel errors a RemoteClient implementation may return. The executor
// and reconciler branch on these error kinds, never on raw HTTP status
// text.
var (
	ErrNotFound               = errors.New("remote: not found")
	ErrPermissionDenied       = errors.New("remote: permission denied")
	ErrNetworkTransient       = errors.New("remote: transient network error")
	ErrNetworkFatal           = errors.New("remote: fatal network error")
	ErrValidation             = errors.New("remote: validation error")
	ErrIntegrity              = errors.New("remote: fingerprint mismatch on download")
	ErrChangesSinceUnsupported = errors.New("remote: changes-since not supported")
	ErrNotAuthenticated       = errors.New("remote: not authenticated")
)
