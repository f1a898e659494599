// Package engine wires the watcher, metadata store, change detector,
// reconciler, and transfer executor into the folder lifecycle the IPC
// surface drives: a timer-driven full-sync loop plus a watcher-event
// loop per folder, each funneled through its own per-folder mutex so
// folders never block on each other.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/baludesk/baludesk-core/internal/clock"
	"github.com/baludesk/baludesk-core/internal/detect"
	"github.com/baludesk/baludesk-core/internal/fswatch"
	"github.com/baludesk/baludesk-core/internal/hashutil"
	"github.com/baludesk/baludesk-core/internal/ignore"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/notifier"
	"github.com/baludesk/baludesk-core/internal/remote"
	"github.com/baludesk/baludesk-core/internal/store"
	"github.com/baludesk/baludesk-core/internal/transfer"
)

// Config holds the engine-wide tunables the configuration surface
// exposes.
type Config struct {
	SyncInterval           time.Duration
	MaxConcurrentTransfers int
	DefaultConflictPolicy  model.ConflictPolicy
	IgnorePatterns         []string
}

// DefaultConfig mirrors the documented configuration defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:           60 * time.Second,
		MaxConcurrentTransfers: 4,
		DefaultConflictPolicy:  model.PolicyAskUser,
	}
}

// Engine owns every configured folder's runtime state and drives its
// reconcile loop.
type Engine struct {
	cfg    Config
	store  *store.Store
	remote remote.Client
	notify notifier.Notifier
	clock  clock.Clock
	hasher hashutil.Hasher
	watch  *fswatch.Watcher

	mu      sync.Mutex
	folders map[string]*folderRuntime

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// folderRuntime is the in-memory state one configured folder carries
// while the engine is running; it never outlives a Start/Stop cycle.
type folderRuntime struct {
	folder *model.SyncFolder
	ignore *ignore.List
	exec   *transfer.Executor

	runMu sync.Mutex // at most one builder running per folder at a time

	mu      sync.Mutex
	dirty   bool
	paused  bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an Engine. The store, remote client, notifier, clock and
// hasher are capabilities the caller wires in; cfg controls the
// reconcile cadence and worker-pool size.
func New(cfg Config, st *store.Store, rc remote.Client, n notifier.Notifier, clk clock.Clock, hasher hashutil.Hasher) *Engine {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = DefaultConfig().MaxConcurrentTransfers
	}
	if n == nil {
		n = notifier.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		remote:  rc,
		notify:  n,
		clock:   clk,
		hasher:  hasher,
		watch:   fswatch.New(),
		folders: make(map[string]*folderRuntime),
	}
}

// Start loads every configured folder from the store and begins
// reconciling the enabled ones.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.watch.SetIgnoreFunc(func(root, relPath string) bool {
		e.mu.Lock()
		rt, ok := e.folderByRoot(root)
		e.mu.Unlock()
		if !ok {
			return false
		}
		return rt.ignore.ShouldIgnore(relPath)
	})
	e.watch.SetOnFailure(e.onWatchFailure)
	e.watch.SetCallback(e.onFileEvent)

	folders, err := e.store.ListFolders()
	if err != nil {
		return fmt.Errorf("engine: list folders: %w", err)
	}
	for _, f := range folders {
		if !f.Enabled {
			continue
		}
		if err := e.startFolder(f); err != nil {
			slog.Error("engine: start folder failed", "folder", f.ID, "error", err)
		}
	}
	return nil
}

// Stop cancels every folder's reconcile loop, waits for in-flight work to
// finish (or hit its own timeout), and tears down the watcher. It does
// not close the store — the caller owns that handle's lifetime.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.watch.StopAll()
	e.wg.Wait()
}

func (e *Engine) folderByRoot(root string) (*folderRuntime, bool) {
	for _, rt := range e.folders {
		if rt.folder.LocalPath == root {
			return rt, true
		}
	}
	return nil, false
}

func (e *Engine) startFolder(f *model.SyncFolder) error {
	e.mu.Lock()
	if _, exists := e.folders[f.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: folder %s already started", f.ID)
	}
	e.mu.Unlock()

	rtCtx, cancel := context.WithCancel(e.ctx)
	rt := &folderRuntime{
		folder: f,
		ignore: ignore.New(f.LocalPath, e.cfg.IgnorePatterns...),
		exec:   transfer.New(e.remote, e.store, e.hasher, e.clock, e.notify, e.cfg.MaxConcurrentTransfers),
		ctx:    rtCtx,
		cancel: cancel,
	}

	e.mu.Lock()
	e.folders[f.ID] = rt
	e.mu.Unlock()

	if err := e.watch.StartWatch(f.LocalPath); err != nil {
		return fmt.Errorf("engine: watch %s: %w", f.LocalPath, err)
	}

	e.wg.Add(1)
	go e.runFolder(rt)

	return nil
}

func (e *Engine) stopFolder(folderID string) {
	e.mu.Lock()
	rt, exists := e.folders[folderID]
	if exists {
		delete(e.folders, folderID)
	}
	e.mu.Unlock()
	if !exists {
		return
	}

	rt.mu.Lock()
	rt.stopped = true
	rt.mu.Unlock()

	rt.cancel()
	e.watch.StopWatch(rt.folder.LocalPath)
}

// runFolder is the per-folder loop: an immediate reconcile, then a timer
// tick every cfg.SyncInterval, woken early whenever the dirty flag is set
// by a watcher event. One goroutine drives this loop per folder.
func (e *Engine) runFolder(rt *folderRuntime) {
	defer e.wg.Done()

	e.reconcileWithLogging(rt)

	timer := time.NewTimer(e.cfg.SyncInterval)
	defer timer.Stop()

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-timer.C:
			e.reconcileWithLogging(rt)
			timer.Reset(e.cfg.SyncInterval)
		case <-poll.C:
			if rt.consumeDirty() {
				e.reconcileWithLogging(rt)
			}
		}
	}
}

func (rt *folderRuntime) consumeDirty() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.paused || !rt.dirty {
		return false
	}
	rt.dirty = false
	return true
}

func (rt *folderRuntime) markDirty() {
	rt.mu.Lock()
	rt.dirty = true
	rt.mu.Unlock()
}

func (e *Engine) reconcileWithLogging(rt *folderRuntime) {
	rt.mu.Lock()
	paused := rt.paused
	rt.mu.Unlock()
	if paused {
		return
	}

	if err := e.reconcileFolder(rt.ctx, rt); err != nil {
		slog.Error("engine: reconcile failed", "folder", rt.folder.ID, "error", err)
	}
}

func (e *Engine) onFileEvent(ev fswatch.FileEvent) {
	e.mu.Lock()
	rt, ok := e.folderByRoot(ev.Root)
	e.mu.Unlock()
	if !ok {
		return
	}
	rt.markDirty()
}

func (e *Engine) onWatchFailure(root string, cause error) {
	e.mu.Lock()
	rt, ok := e.folderByRoot(root)
	e.mu.Unlock()
	if !ok {
		return
	}
	slog.Error("engine: watch lost", "folder", rt.folder.ID, "root", root, "error", cause)
	rt.mu.Lock()
	rt.paused = true
	rt.mu.Unlock()
	e.notify.Notify(notifier.Event{
		Type:    notifier.EventError,
		Folder:  rt.folder.ID,
		Message: "filesystem watch lost; folder paused until restart",
	})
}

// detectorFor builds a fresh Detector bound to this engine's hasher; the
// detector itself carries no per-folder state so one per reconcile pass
// is cheap and avoids any cross-folder sharing concerns.
func (e *Engine) detectorFor() *detect.Detector {
	return detect.New(e.hasher)
}
