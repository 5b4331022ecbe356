package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/tinct"
	"github.com/jward/tinct/internal/config"
	"github.com/jward/tinct/internal/logger"
	"github.com/jward/tinct/internal/store/redis"
)

var (
	flagConfig  string
	flagFormat  string
	flagProject string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// Populated by the root command's PersistentPreRunE.
var (
	cfg  *config.Config
	zlog *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tinct",
	Short:         "Cached semantic classification for source files",
	Long:          "Tinct classifies source code with tree-sitter and Risor scripts and caches the results in memory and in SQLite or Redis.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		c, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		l, err := logger.NewLogger(c.Logging.Env, c.Logging.Level)
		if err != nil {
			return err
		}
		cfg, zlog = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			_ = zlog.Sync()
		}
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: tinct.yaml in . or .tinct/)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text|yaml")
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "workspace id (default: repository directory name)")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(statsCmd)
}

// backend is the part of a persistent tier the maintenance commands use.
type backend interface {
	Purge(ctx context.Context, name string) (int64, error)
	StreamCount(ctx context.Context, name string) (int, error)
	DocumentsWithStream(ctx context.Context, project, name string) ([]tinct.DocumentKey, error)
}

// openEngine builds an Engine over the persistence backend selected by cfg.
// The returned backend is nil when persistence is disabled.
func openEngine(ctx context.Context, repoRoot string, reg prometheus.Registerer) (*tinct.Engine, backend, error) {
	opts := []tinct.Option{
		tinct.WithLogger(zlog),
		tinct.WithMaxCachedDocuments(cfg.Cache.MaxDocuments),
		tinct.WithWorkers(cfg.Workers),
	}
	if reg != nil {
		opts = append(opts, tinct.WithRegisterer(reg))
	}

	switch cfg.Persistence.Backend {
	case config.BackendRedis:
		rc := cfg.Persistence.Redis
		rs, err := redis.NewStore(redis.Config{
			Addrs:    rc.Addrs,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		if err := rs.WaitForReady(ctx, 5*time.Second); err != nil {
			rs.Close()
			return nil, nil, err
		}
		opts = append(opts, tinct.WithPersistence(rs, func() error {
			rs.Close()
			return nil
		}))
		engine, err := tinct.New("", cfg.Scripts.Dir, opts...)
		if err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("creating engine: %w", err)
		}
		return engine, rs, nil

	case config.BackendNone:
		engine, err := tinct.New("", cfg.Scripts.Dir, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating engine: %w", err)
		}
		return engine, nil, nil

	default:
		dbPath := resolveDBPath(repoRoot, cfg.Database.Path)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
		}
		engine, err := tinct.New(dbPath, cfg.Scripts.Dir, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating engine: %w", err)
		}
		return engine, engine.Store(), nil
	}
}

// resolveTargetDir returns the absolute path of the directory to process.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath anchors a relative database path at the repository root.
func resolveDBPath(repoRoot, dbPath string) string {
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath
	}
	if filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(repoRoot, dbPath)
}

// projectName returns the --project flag, or the repository directory name.
func projectName(repoRoot string) string {
	if flagProject != "" {
		return flagProject
	}
	return filepath.Base(repoRoot)
}
