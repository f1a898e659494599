package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/baludesk/baludesk-core/internal/config"
	"github.com/baludesk/baludesk-core/internal/utils"
	"github.com/baludesk/baludesk-core/internal/version"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "baludesk",
	Short:   "Bidirectional file-sync agent core",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "baludesk config file")
	rootCmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "remote server URL")
	rootCmd.PersistentFlags().StringP("database", "d", "", "path to the local metadata database")
}

func main() {
	logDir := filepath.Dir(defaultLogFilePath())
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		slog.Error("create log directory", "error", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(defaultLogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("open log file", "error", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func defaultLogFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".baludesk", "baludesk.log")
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(filepath.Dir(config.DefaultConfigPath))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return err
			}
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("database_path", cmd.Flags().Lookup("database"))
	viper.SetEnvPrefix("BALUDESK")
	viper.AutomaticEnv()
	return nil
}

// loadEngineConfig merges the on-disk config.Config with whatever viper
// picked up from flags/env, the way loadConfig's PersistentPreRunE primed
// it for every subcommand.
func loadEngineConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if v := viper.GetString("server_url"); v != "" {
		cfg.ServerURL = v
	}
	if v := viper.GetString("database_path"); v != "" {
		cfg.DatabasePath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
