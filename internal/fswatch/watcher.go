package fswatch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

// DebounceWindow is the facade-enforced coalescing window applied on top
// of every backend: macOS's FSEvents already coalesces at a similar
// latency, Windows and Linux do not, so the facade enforces it uniformly
// rather than relying on the backend.
const DebounceWindow = 500 * time.Millisecond

// IgnoreFunc reports whether relPath beneath root should be filtered out
// before it ever reaches the installed callback.
type IgnoreFunc func(root, relPath string) bool

// Callback receives one coalesced FileEvent. It is invoked from the
// watcher's internal goroutines and must not block.
type Callback func(FileEvent)

// FailureFunc is invoked when a root's backend watch dies unexpectedly;
// the caller should treat that folder's baseline as stale and re-scan it
// on the next reconcile.
type FailureFunc func(root string, cause error)

// Watcher is the cross-platform facade over rjeczalik/notify: one
// (root, relative-path) debounce timer per path, supporting many
// concurrently watched roots behind startWatch/stopWatch/stopAll.
type Watcher struct {
	mu    sync.Mutex
	roots map[string]*rootWatch

	callback  Callback
	ignore    IgnoreFunc
	onFailure FailureFunc
	debounce  time.Duration
}

type rootWatch struct {
	root string
	raw  chan notify.EventInfo
	done chan struct{}
	wg   sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]*pendingEvent
}

type pendingEvent struct {
	action Action
	size   int64
	timer  *time.Timer
}

// New returns a Watcher with no roots registered. Install a callback with
// SetCallback before calling StartWatch.
func New() *Watcher {
	return &Watcher{
		roots:    make(map[string]*rootWatch),
		debounce: DebounceWindow,
	}
}

// SetCallback installs the single sink for coalesced events.
func (w *Watcher) SetCallback(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
}

// SetIgnoreFunc installs the ignore-rule predicate applied before an
// event reaches the callback.
func (w *Watcher) SetIgnoreFunc(fn IgnoreFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignore = fn
}

// SetOnFailure installs the callback invoked when a root's backend watch
// dies and the folder needs a fresh baseline scan.
func (w *Watcher) SetOnFailure(fn FailureFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFailure = fn
}

// StartWatch begins watching root. It fails if root does not exist, is
// not a directory, or the backend refuses to watch it.
func (w *Watcher) StartWatch(root string) error {
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("fswatch: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fswatch: %s is not a directory", root)
	}

	w.mu.Lock()
	if _, exists := w.roots[root]; exists {
		w.mu.Unlock()
		return fmt.Errorf("fswatch: already watching %s", root)
	}
	w.mu.Unlock()

	rw := &rootWatch{
		root:    root,
		raw:     make(chan notify.EventInfo, 256),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingEvent),
	}

	recursive := filepath.Join(root, "...")
	if err := notify.Watch(recursive, rw.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		if fallbackErr := notify.Watch(root, rw.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); fallbackErr != nil {
			return fmt.Errorf("fswatch: watch %s: %w", root, err)
		}
		slog.Warn("fswatch recursive watch unavailable, falling back to non-recursive", "root", root, "error", err)
	}

	w.mu.Lock()
	w.roots[root] = rw
	w.mu.Unlock()

	rw.wg.Add(1)
	go w.dispatch(rw)

	return nil
}

// StopWatch stops watching root. Idempotent: stopping an unwatched root
// is a no-op.
func (w *Watcher) StopWatch(root string) {
	root = filepath.Clean(root)

	w.mu.Lock()
	rw, exists := w.roots[root]
	if exists {
		delete(w.roots, root)
	}
	w.mu.Unlock()

	if !exists {
		return
	}
	w.stopRoot(rw)
}

// StopAll stops every watched root and releases all backend handles.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	roots := make([]*rootWatch, 0, len(w.roots))
	for _, rw := range w.roots {
		roots = append(roots, rw)
	}
	w.roots = make(map[string]*rootWatch)
	w.mu.Unlock()

	for _, rw := range roots {
		w.stopRoot(rw)
	}
}

func (w *Watcher) stopRoot(rw *rootWatch) {
	close(rw.done)
	notify.Stop(rw.raw)
	rw.wg.Wait()
}

// IsWatching reports whether root currently has an active watch.
func (w *Watcher) IsWatching(root string) bool {
	root = filepath.Clean(root)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.roots[root]
	return ok
}

func (w *Watcher) dispatch(rw *rootWatch) {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return
		case ev, ok := <-rw.raw:
			if !ok {
				w.mu.Lock()
				onFailure := w.onFailure
				w.mu.Unlock()
				if onFailure != nil {
					onFailure(rw.root, fmt.Errorf("fswatch: backend channel closed for %s", rw.root))
				}
				return
			}
			w.handleRaw(rw, ev)
		}
	}
}

func (w *Watcher) handleRaw(rw *rootWatch, ev notify.EventInfo) {
	path := ev.Path()

	w.mu.Lock()
	ignore := w.ignore
	w.mu.Unlock()

	relPath, err := filepath.Rel(rw.root, path)
	if err != nil {
		return
	}
	if ignore != nil && ignore(rw.root, relPath) {
		return
	}

	action := classify(ev.Event())
	size := statSizeBestEffort(path)

	rw.pendingMu.Lock()
	defer rw.pendingMu.Unlock()

	if p, exists := rw.pending[relPath]; exists {
		p.timer.Stop()
		p.action = mergeAction(p.action, action)
		p.size = size
		p.timer = time.AfterFunc(w.debounce, func() { w.flush(rw, relPath) })
		return
	}

	rw.pending[relPath] = &pendingEvent{
		action: action,
		size:   size,
		timer:  time.AfterFunc(w.debounce, func() { w.flush(rw, relPath) }),
	}
}

func (w *Watcher) flush(rw *rootWatch, relPath string) {
	rw.pendingMu.Lock()
	p, exists := rw.pending[relPath]
	if exists {
		delete(rw.pending, relPath)
	}
	rw.pendingMu.Unlock()

	if !exists {
		return
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb == nil {
		return
	}

	cb(FileEvent{
		Root:     rw.root,
		Path:     filepath.Join(rw.root, relPath),
		Action:   p.action,
		Detected: time.Now(),
		Size:     p.size,
	})
}

// classify maps a raw backend event to a best-effort Action. Consumers
// must re-stat to be certain.
func classify(ev notify.Event) Action {
	switch ev {
	case notify.Create:
		return ActionCreated
	case notify.Remove:
		return ActionDeleted
	case notify.Rename:
		return ActionDeleted
	default:
		return ActionModified
	}
}

// mergeAction folds a new raw classification into the action already
// pending for this path within the debounce window, implementing spec
// §4.1 rule 2: delete-then-create collapses to modified, create-then-
// delete collapses to deleted. Once a delete or a create has been
// observed it takes priority over later writes in the same window.
func mergeAction(pending, raw Action) Action {
	switch pending {
	case ActionDeleted:
		if raw == ActionCreated {
			return ActionModified
		}
		return ActionDeleted
	case ActionCreated:
		if raw == ActionDeleted {
			return ActionDeleted
		}
		return ActionCreated
	default: // ActionModified
		if raw == ActionDeleted {
			return ActionDeleted
		}
		return ActionModified
	}
}

func statSizeBestEffort(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
