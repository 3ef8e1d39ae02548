// Package cmd provides the notepatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/adalundhe/notepatch/core/config"
	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/idempotency"
	"github.com/adalundhe/notepatch/core/storage"
	"github.com/adalundhe/notepatch/core/store"
	"github.com/adalundhe/notepatch/core/transaction"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	rootConfigFile string
	rootHome       string
	rootProject    string
	rootLogLevel   string
	rootLogFormat  string
	rootBackend    string
	rootStorePath  string
)

var rootCmd = &cobra.Command{
	Use:   "notepatch",
	Short: "Transactional structured edits for markdown notes",
	Long: `notepatch applies batches of targeted edits to markdown notes.

Edits address text by heading path, regular expression, character offset or
named anchor, run as a single transaction with optimistic concurrency, and can
be previewed as a dry run before they are committed.`,
	SilenceUsage: true,
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&rootConfigFile, "config", "", "Explicit config file (YAML or TOML)")
	pflags.StringVar(&rootHome, "home", "", "Root all notepatch directories under this path")
	pflags.StringVar(&rootProject, "project", ".", "Project root holding a .notepatch directory")
	pflags.StringVar(&rootLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pflags.StringVar(&rootLogFormat, "log-format", "", "Log format (text, json)")
	pflags.StringVar(&rootBackend, "store", "", "Note store backend (sqlite, file, memory)")
	pflags.StringVar(&rootStorePath, "store-path", "", "SQLite database or notes root directory")
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Runtime
// =============================================================================

// noteStore is what the commands need from a backend.
type noteStore interface {
	store.DocumentStore
	store.Lister
	store.Creator
}

// runtime bundles the wired components a command works with.
type runtime struct {
	dirs    *storage.Dirs
	configs *config.Manager
	cfg     *config.Config
	logger  *slog.Logger
	store   noteStore
	ledger  idempotency.Ledger
	closers []func() error
}

// loadRuntime resolves directories, loads configuration and builds the
// logger. Stores are opened separately so read-only commands stay cheap.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	dirs := storage.ResolveDirs()
	if rootHome != "" {
		dirs = storage.NewDirs(rootHome)
	}
	if err := dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	configs := config.NewManager(dirs)
	configs.SetProjectRoot(rootProject)
	if rootConfigFile != "" {
		configs.SetFile(rootConfigFile)
	}
	if err := configs.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := *configs.Get()
	config.Overlay(&cfg, &config.Config{
		Store: config.StoreConfig{Backend: rootBackend, Path: rootStorePath},
		Log:   config.LogConfig{Level: rootLogLevel, Format: rootLogFormat},
	})
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = dirs.NotesDB()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return nil, err
	}
	configs.SetLogger(logger)

	return &runtime{dirs: dirs, configs: configs, cfg: &cfg, logger: logger}, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openStore opens the configured backend.
func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Store.Backend {
	case "memory":
		rt.store = store.NewMemoryStore()
	case "file":
		fs, err := store.NewFileStore(rt.cfg.Store.Path, rt.dirs.LockDir())
		if err != nil {
			return err
		}
		rt.store = fs
	default:
		s, err := store.OpenSQLiteStore(ctx, rt.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open note store: %w", err)
		}
		rt.store = s
		rt.closers = append(rt.closers, s.Close)
	}
	rt.logger.Debug("note store opened", "backend", rt.cfg.Store.Backend, "path", rt.cfg.Store.Path)
	return nil
}

// openLedger opens the tiered idempotency ledger when enabled.
func (rt *runtime) openLedger() error {
	if !rt.cfg.Ledger.Enabled {
		return nil
	}
	lc := idempotency.DefaultTieredConfig(rt.cfg.Ledger.Path)
	if rt.cfg.Ledger.NumCounters > 0 {
		lc.NumCounters = rt.cfg.Ledger.NumCounters
	}
	if rt.cfg.Ledger.MaxCost > 0 {
		lc.MaxCost = rt.cfg.Ledger.MaxCost
	}
	lc.Retention = config.Duration(rt.cfg.Ledger.Retention, lc.Retention)

	ledger, err := idempotency.NewTieredLedger(lc)
	if err != nil {
		return fmt.Errorf("open idempotency ledger: %w", err)
	}
	rt.ledger = ledger
	rt.closers = append(rt.closers, ledger.Close)
	return nil
}

func (rt *runtime) engine(docs store.DocumentStore) (*transaction.Engine, error) {
	ec := rt.cfg.Engine
	return transaction.NewEngine(transaction.Config{
		Store:            docs,
		Ledger:           rt.ledger,
		Limits:           ec.Limits(),
		RegexTimeout:     ec.RegexTimeoutDuration(),
		RegexCacheSize:   ec.RegexCacheSize,
		PreviewRadius:    ec.PreviewRadius,
		DiffContextLines: ec.DiffContextLines,
		Logger:           rt.logger,
	})
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.configs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ExitCode maps an error returned by Execute onto a process exit status.
// Engine errors get distinct codes so scripts can tell rejections apart.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *content.Error
	var ve *content.ValidationError
	if !errors.As(err, &ce) && !errors.As(err, &ve) {
		return 1
	}
	switch content.CodeOf(err) {
	case content.CodeSchema:
		return 2
	case content.CodePreconditionFailed:
		return 3
	case content.CodeNoteNotFound, content.CodeTargetNotFound:
		return 4
	default:
		return 1
	}
}
