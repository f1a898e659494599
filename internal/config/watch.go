package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path on every write/create event and
// hands the validated result to onChange. The daemon's onChange only logs
// the reloaded values; they take effect on the next daemon start.
// Malformed edits are logged and skipped rather than handed to onChange,
// so a half-written save never reaches the callback.
//
// The returned stop func closes the underlying watcher; callers should
// defer it alongside the daemon's other teardown steps.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					reloadConfig(path, onChange)
				})

			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "error", werr)

			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}

func reloadConfig(path string, onChange func(*Config)) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "path", path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("config reload failed validation, keeping previous config", "path", path, "error", err)
		return
	}
	onChange(cfg)
}
