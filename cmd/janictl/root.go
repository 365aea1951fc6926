package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/runixer/janiproxy/internal/app"
	"github.com/runixer/janiproxy/internal/config"
	"github.com/runixer/janiproxy/internal/storage"
)

const defaultConfigSubPath = "configs/config.yaml"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey int

const (
	envKey contextKey = iota
	optionsKey
)

// ctlOptions holds persistent flag values, passed via context.
type ctlOptions struct {
	cfgFile string
	dbPath  string
	verbose bool
}

// ctlEnv is everything a subcommand needs.
type ctlEnv struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    *storage.SQLiteStore
	services *app.Services
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "janictl",
		Short: "Operator CLI for janiproxy",
		Long: `Janictl manages the presets and regex rules stored in the janiproxy database
and renders Janitor requests offline, printing the body that would be sent upstream.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := &ctlOptions{
				cfgFile: mustGetString(cmd, "config"),
				dbPath:  mustGetString(cmd, "db"),
				verbose: mustGetBool(cmd, "verbose"),
			}

			// Fail on a broken .env only if a config was explicitly provided
			if err := app.LoadEnv(); err != nil {
				if opts.cfgFile != "" {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			resolvedCfgPath, err := findConfigPath(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to find config: %w", err)
			}

			cfg, err := config.Load(resolvedCfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.dbPath != "" {
				cfg.Database.Path = opts.dbPath
			}

			// Quiet by default, verbose shows all logs
			var logger *slog.Logger
			if opts.verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			} else {
				logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			}

			env, err := setupEnv(cfg, logger)
			if err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), envKey, env)
			ctx = context.WithValue(ctx, optionsKey, opts)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if env := getEnv(cmd); env != nil {
				return env.close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: auto-detect)")
	rootCmd.PersistentFlags().String("db", "", "Database path (default: database.path from config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose debug output (shows all logs)")

	rootCmd.AddCommand(newRenderCmd(), newPresetCmd(), newRegexCmd())
	return rootCmd
}

// setupEnv opens the store and builds the pipeline.
func setupEnv(cfg *config.Config, logger *slog.Logger) (*ctlEnv, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." && cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := app.OpenStore(logger, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	services, err := app.SetupServices(logger, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup services: %w", err)
	}

	return &ctlEnv{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		services: services,
	}, nil
}

func (e *ctlEnv) close() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("store.Close: %w", err)
	}
	return nil
}

// getEnv retrieves the ctlEnv from context.
func getEnv(cmd *cobra.Command) *ctlEnv {
	if cmd.Context() == nil {
		return nil
	}
	if env := cmd.Context().Value(envKey); env != nil {
		return env.(*ctlEnv)
	}
	return nil
}

// mustEnv is getEnv for RunE bodies, where PersistentPreRunE has run.
func mustEnv(cmd *cobra.Command) (*ctlEnv, error) {
	env := getEnv(cmd)
	if env == nil {
		return nil, fmt.Errorf("janictl not initialized")
	}
	return env, nil
}

// findConfigPath resolves the config file path.
// Searches in order: provided path, CWD/configs/config.yaml, then defaults.
func findConfigPath(providedPath string) (string, error) {
	if providedPath != "" {
		if _, err := os.Stat(providedPath); err == nil {
			return providedPath, nil
		}
		return "", fmt.Errorf("config file not found: %s", providedPath)
	}

	if _, err := os.Stat(defaultConfigSubPath); err == nil {
		return defaultConfigSubPath, nil
	}

	// Config not found - empty path means embedded defaults
	return "", nil
}

// mustGetString gets a string flag value or panics.
// Flags are defined by the command itself, so a lookup failure is a programming error.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag %q: %v", name, err))
	}
	return val
}

// mustGetBool gets a bool flag value or panics.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag %q: %v", name, err))
	}
	return val
}
