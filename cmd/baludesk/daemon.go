package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/baludesk/baludesk-core/internal/clock"
	"github.com/baludesk/baludesk-core/internal/config"
	"github.com/baludesk/baludesk-core/internal/credential"
	"github.com/baludesk/baludesk-core/internal/engine"
	"github.com/baludesk/baludesk-core/internal/hashutil"
	"github.com/baludesk/baludesk-core/internal/ipc"
	"github.com/baludesk/baludesk-core/internal/notifier"
	"github.com/baludesk/baludesk-core/internal/remote"
	"github.com/baludesk/baludesk-core/internal/store"
	"github.com/baludesk/baludesk-core/internal/utils"
	"github.com/baludesk/baludesk-core/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

// errAlreadyRunning is returned when dbPath+".lock" is already held by
// another daemon process against the same metadata store.
var errAlreadyRunning = errors.New("another baludesk daemon is already running against this database")

// newDaemonCmd builds the long-running process the desktop UI spawns:
// one engine driving every configured folder, answering requests as
// line-delimited JSON over stdin/stdout.
func newDaemonCmd() *cobra.Command {
	var username string
	var hashCacheEntries int
	var notifyWSAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync engine and serve its IPC surface over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			slog.Info("baludesk starting", "version", version.Version, "revision", version.Revision)

			if username != "" && !utils.IsValidEmail(username) {
				return fmt.Errorf("--username %q is not a valid account identifier", username)
			}

			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			slog.Info("loaded config", "config", cfg)

			dbPath := databasePath(cfg)

			lock := flock.New(dbPath + ".lock")
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire instance lock: %w", err)
			}
			if !locked {
				return errAlreadyRunning
			}
			defer lock.Unlock()

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			creds, err := credential.NewFileStore(filepath.Join(filepath.Dir(config.DefaultConfigPath), "credentials"))
			if err != nil {
				return err
			}

			rc := remote.NewHTTPClient(cfg.ServerURL, 30*time.Second)
			if username != "" && creds.HasToken(username) {
				token, err := creds.LoadToken(username)
				if err != nil {
					return err
				}
				rc.SetToken(token)
				slog.Info("loaded saved token", "username", username, "token", utils.MaskSecret(token))
			}

			hasher, err := hashutil.NewSHA256Hasher(hashCacheEntries)
			if err != nil {
				return err
			}

			var notify notifier.Notifier
			if notifyWSAddr != "" {
				wsNotify := notifier.NewWebSocketNotifier()
				stopWS, err := serveWebSocketNotifier(notifyWSAddr, wsNotify)
				if err != nil {
					return fmt.Errorf("start websocket notifier: %w", err)
				}
				defer stopWS()
				notify = wsNotify
				slog.Info("broadcasting events over websocket", "addr", notifyWSAddr)
			} else {
				notify = notifier.NewStdioNotifier(os.Stderr)
			}

			if cfg.Path != "" {
				stopWatch, err := config.Watch(cfg.Path, func(reloaded *config.Config) {
					slog.Info("config file changed on disk; restart the daemon to pick it up",
						"path", cfg.Path, "ignore_patterns", reloaded.IgnorePatterns, "conflict_resolution", reloaded.ConflictResolution)
				})
				if err != nil {
					slog.Warn("config hot-reload watch unavailable", "error", err)
				} else {
					defer stopWatch()
				}
			}

			e := engine.New(engine.Config{
				SyncInterval:           time.Duration(cfg.SyncIntervalSeconds) * time.Second,
				MaxConcurrentTransfers: cfg.MaxConcurrentTransfers,
				DefaultConflictPolicy:  cfg.ConflictResolution,
				IgnorePatterns:         cfg.IgnorePatterns,
			}, st, rc, notify, clock.New(), hasher)

			if err := e.Start(cmd.Context()); err != nil {
				return err
			}
			defer e.Stop()

			dispatcher := ipc.NewDispatcher(e, os.Stdout)
			defer slog.Info("bye")

			err = dispatcher.Serve(cmd.Context(), os.Stdin)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account whose saved token to load before starting")
	cmd.Flags().IntVar(&hashCacheEntries, "hash-cache-entries", 4096, "LRU capacity for the content-fingerprint cache")
	cmd.Flags().StringVar(&notifyWSAddr, "notify-ws-addr", "", "listen address (e.g. 127.0.0.1:7777) for broadcasting events over websocket instead of stdio")

	return cmd
}

// serveWebSocketNotifier starts a local HTTP server that upgrades every
// incoming request to a websocket connection and registers it with
// wsNotify, returning a func to shut the server down. Used instead of
// line-delimited JSON over stdio when a desktop UI wants to connect over
// a socket rather than own the daemon's stdin/stdout pair.
func serveWebSocketNotifier(addr string, wsNotify *notifier.WebSocketNotifier) (func(), error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("notifier: websocket accept failed", "error", err)
			return
		}
		wsNotify.AddClient(conn)
		defer wsNotify.RemoveClient(conn)

		// Block on reads purely to detect the client going away; the
		// daemon never expects any inbound messages on this connection.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("notifier: websocket server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// databasePath resolves cfg.DatabasePath against the config directory
// when it's a bare filename, so a fresh install doesn't scatter
// baludesk.db into whatever directory the daemon happened to start in.
func databasePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.DatabasePath) || cfg.DatabasePath == ":memory:" {
		return cfg.DatabasePath
	}
	return filepath.Join(filepath.Dir(config.DefaultConfigPath), cfg.DatabasePath)
}
