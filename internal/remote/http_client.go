package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
)

// HTTPClient is the reference Client implementation: a thin wrapper over
// github.com/go-resty/resty/v2 talking to the remote file service's REST
// API over a bearer token and JSON bodies.
type HTTPClient struct {
	http *resty.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPClient builds an HTTPClient against baseURL with the given
// per-call timeout (caller-supplied, defaults to 30s).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // retry policy is the transfer executor's job, not the transport's

	return &HTTPClient{http: c}
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *HTTPClient) authedRequest(ctx context.Context) *resty.Request {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	req := c.http.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (string, error) {
	var out loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/v1/login")
	if err != nil {
		return "", classifyTransportErr(err)
	}
	if resp.IsError() {
		return "", classifyStatusErr(resp.StatusCode())
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

type listFilesResponse struct {
	Files []struct {
		RelPath     string    `json:"relative_path"`
		Size        int64     `json:"size"`
		RemoteMTime time.Time `json:"remote_mtime"`
		Fingerprint string    `json:"fingerprint"`
		IsDir       bool      `json:"is_dir"`
	} `json:"files"`
}

func (c *HTTPClient) ListFiles(ctx context.Context, remotePath string) ([]File, error) {
	if !c.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	var out listFilesResponse
	resp, err := c.authedRequest(ctx).
		SetQueryParam("path", remotePath).
		SetResult(&out).
		Get("/api/v1/files")
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.IsError() {
		return nil, classifyStatusErr(resp.StatusCode())
	}

	files := make([]File, 0, len(out.Files))
	for _, f := range out.Files {
		files = append(files, File{
			RelPath:     f.RelPath,
			Size:        f.Size,
			RemoteMTime: f.RemoteMTime,
			Fingerprint: f.Fingerprint,
			IsDir:       f.IsDir,
		})
	}
	return files, nil
}

type uploadResponse struct {
	RemoteMTime time.Time `json:"remote_mtime"`
	Fingerprint string    `json:"fingerprint"`
}

func (c *HTTPClient) Upload(ctx context.Context, localPath, remotePath string) (UploadResult, error) {
	if !c.IsAuthenticated() {
		return UploadResult{}, ErrNotAuthenticated
	}
	if _, err := os.Stat(localPath); err != nil {
		return UploadResult{}, pkgerrors.Wrap(err, "remote: stat local file")
	}

	var out uploadResponse
	resp, err := c.authedRequest(ctx).
		SetFile("file", localPath).
		SetQueryParam("path", remotePath).
		SetResult(&out).
		Put("/api/v1/files")
	if err != nil {
		return UploadResult{}, classifyTransportErr(err)
	}
	if resp.IsError() {
		return UploadResult{}, classifyStatusErr(resp.StatusCode())
	}
	return UploadResult{RemoteMTime: out.RemoteMTime, Fingerprint: out.Fingerprint}, nil
}

func (c *HTTPClient) Download(ctx context.Context, remotePath, localTempPath string) (DownloadResult, error) {
	if !c.IsAuthenticated() {
		return DownloadResult{}, ErrNotAuthenticated
	}
	resp, err := c.authedRequest(ctx).
		SetQueryParam("path", remotePath).
		SetOutput(localTempPath).
		Get("/api/v1/files/content")
	if err != nil {
		return DownloadResult{}, classifyTransportErr(err)
	}
	if resp.IsError() {
		return DownloadResult{}, classifyStatusErr(resp.StatusCode())
	}

	var mtime time.Time
	if lm := resp.Header().Get("X-Remote-Mtime"); lm != "" {
		if t, perr := time.Parse(time.RFC3339, lm); perr == nil {
			mtime = t
		}
	}
	return DownloadResult{
		RemoteMTime: mtime,
		Fingerprint: resp.Header().Get("X-Fingerprint"),
	}, nil
}

func (c *HTTPClient) Delete(ctx context.Context, remotePath string) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	resp, err := c.authedRequest(ctx).
		SetQueryParam("path", remotePath).
		Delete("/api/v1/files")
	if err != nil {
		return classifyTransportErr(err)
	}
	// treating 404 as success: the remote side is already gone
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return classifyStatusErr(resp.StatusCode())
	}
	return nil
}

type changesSinceResponse struct {
	Changes []struct {
		RelPath     string     `json:"relative_path"`
		Kind        ChangeKind `json:"kind"`
		RemoteMTime time.Time  `json:"remote_mtime"`
		Size        int64      `json:"size"`
		Fingerprint string     `json:"fingerprint"`
	} `json:"changes"`
}

func (c *HTTPClient) ChangesSince(ctx context.Context, remoteRoot string, since time.Time) ([]Change, error) {
	if !c.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	var out changesSinceResponse
	resp, err := c.authedRequest(ctx).
		SetQueryParam("path", remoteRoot).
		SetQueryParam("since", since.UTC().Format(time.RFC3339Nano)).
		SetResult(&out).
		Get("/api/v1/changes")
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode() == http.StatusNotImplemented {
		return nil, ErrChangesSinceUnsupported
	}
	if resp.IsError() {
		return nil, classifyStatusErr(resp.StatusCode())
	}

	changes := make([]Change, 0, len(out.Changes))
	for _, ch := range out.Changes {
		changes = append(changes, Change{
			RelPath:     ch.RelPath,
			Kind:        ch.Kind,
			RemoteMTime: ch.RemoteMTime,
			Size:        ch.Size,
			Fingerprint: ch.Fingerprint,
		})
	}
	return changes, nil
}

// classifyTransportErr maps a resty/net transport failure onto
// ErrNetworkTransient or ErrNetworkFatal, preserving the underlying cause
// through pkg/errors' Cause chain (resty wraps its own errors in ways
// that predate %w, so errors.Is alone can't always see through them). A
// timeout is assumed to be a passing condition on an otherwise-reachable
// server and is retried; a transport that can't even establish a
// connection (DNS failure, connection refused, TLS handshake failure, a
// malformed URL) will fail identically on every retry, so it's reported
// fatal instead of burning the executor's full backoff schedule.
func classifyTransportErr(err error) error {
	cause := pkgerrors.Cause(err)

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pkgerrors.Wrap(ErrNetworkTransient, cause.Error())
	}

	if isFatalTransportErr(err) {
		return pkgerrors.Wrap(ErrNetworkFatal, cause.Error())
	}
	return pkgerrors.Wrap(ErrNetworkTransient, cause.Error())
}

// isFatalTransportErr recognizes the transport failures that won't
// resolve themselves on retry: the request never reached a server at
// all, or it reached one that can never be trusted.
func isFatalTransportErr(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &tlsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return true
	}

	// A *url.Error whose cause is neither a DNS lookup nor a dial/op
	// failure never made it past parsing the request (bad scheme,
	// malformed URL) — it fails the same way on every retry.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !errors.As(urlErr.Err, &dnsErr) && !errors.As(urlErr.Err, &opErr) {
		return true
	}

	return false
}

func classifyStatusErr(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return ErrPermissionDenied
	case status == http.StatusTooManyRequests:
		return ErrNetworkTransient
	case status >= 500:
		return ErrNetworkTransient
	case status >= 400:
		return ErrValidation
	default:
		return fmt.Errorf("remote: unexpected status %d", status)
	}
}
