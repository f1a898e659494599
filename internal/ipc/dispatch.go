package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/baludesk/baludesk-core/internal/model"
)

// maxLineBytes bounds one request line, guarding against a misbehaving
// client streaming an unbounded line into bufio.Scanner's buffer.
const maxLineBytes = 4 << 20

// Dispatcher reads line-delimited Requests from a reader and writes one
// Response per request to a writer, serializing writes since responses
// may be produced by handler calls running on different goroutines.
type Dispatcher struct {
	handler Handler
	mu      sync.Mutex
	enc     *json.Encoder
}

// NewDispatcher returns a Dispatcher that answers requests via handler.
func NewDispatcher(handler Handler, w io.Writer) *Dispatcher {
	return &Dispatcher{handler: handler, enc: json.NewEncoder(w)}
}

// Serve reads requests from r until EOF, ctx cancellation, or a read
// error, dispatching each one synchronously. Callers wanting concurrent
// request handling should run multiple Serve loops over independent
// connections rather than parallelizing within one.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			d.write(Response{OK: false, Error: "malformed request"})
			continue
		}
		d.write(d.dispatch(ctx, req))
	}
	return scanner.Err()
}

// Handle decodes and dispatches a single request line, returning the
// response instead of writing it — useful for transports (e.g. a
// WebSocket per-message handler) that don't fit Serve's read loop.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{OK: false, Error: "malformed request"}
	}
	return d.dispatch(ctx, req)
}

func (d *Dispatcher) write(resp Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enc.Encode(resp); err != nil {
		slog.Error("ipc: write response", "error", err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	resp := Response{RequestID: req.RequestID}

	result, err := d.call(ctx, req)
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	resp.Result = result
	return resp
}

func (d *Dispatcher) call(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case ReqPing:
		return nil, d.handler.Ping(ctx)

	case ReqAddSyncFolder:
		var p AddSyncFolderPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return d.handler.AddSyncFolder(ctx, p)

	case ReqRemoveSyncFolder:
		var p FolderIDPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return nil, d.handler.RemoveSyncFolder(ctx, p.FolderID)

	case ReqUpdateSyncFolder:
		var p UpdateSyncFolderPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return d.handler.UpdateSyncFolder(ctx, p)

	case ReqPauseSync:
		var p FolderIDPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return nil, d.handler.PauseSync(ctx, p.FolderID)

	case ReqResumeSync:
		var p FolderIDPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return nil, d.handler.ResumeSync(ctx, p.FolderID)

	case ReqGetSyncState:
		var p FolderIDPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return d.handler.GetSyncState(ctx, p.FolderID)

	case ReqGetFolders:
		return d.handler.GetFolders(ctx)

	case ReqGetPendingConflicts:
		var p GetPendingConflictsPayload
		if len(req.Payload) > 0 {
			if err := decodePayload(req, &p); err != nil {
				return nil, err
			}
		}
		return d.handler.GetPendingConflicts(ctx, p.FolderID)

	case ReqResolveConflict:
		var p ResolveConflictPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		resolution := model.ConflictResolution(p.Resolution)
		return nil, d.handler.ResolveConflict(ctx, p.ConflictID, resolution)

	default:
		return nil, fmt.Errorf("ipc: unknown request type %q", req.Type)
	}
}
