package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/notepatch/core/api"
	"github.com/adalundhe/notepatch/core/config"
	"github.com/adalundhe/notepatch/core/idempotency"
	"github.com/adalundhe/notepatch/core/transaction"
)

const (
	// ServeShutdownTimeout bounds graceful shutdown.
	ServeShutdownTimeout = 10 * time.Second

	// ServePruneInterval is how often expired idempotency records are dropped.
	ServePruneInterval = time.Hour
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the content API over HTTP",
	Long: `Serve POST /api/v2/note/{ref}/content:apply and GET /api/v2/note/{ref}/content
backed by the configured note store and idempotency ledger.

Configuration files are watched and engine limits are swapped on change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload configuration when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.openStore(ctx); err != nil {
		return err
	}
	if err := rt.openLedger(); err != nil {
		return err
	}
	engine, err := rt.engine(rt.store)
	if err != nil {
		return err
	}

	if serveWatch {
		rt.configs.OnChange(func(cfg *config.Config) {
			applyEngineConfig(engine, cfg, rt.logger)
		})
		if err := rt.configs.Watch(ctx); err != nil {
			rt.logger.Warn("config watch unavailable", "error", err)
		}
	}
	if tiered, ok := rt.ledger.(*idempotency.TieredLedger); ok {
		go pruneLoop(ctx, tiered, ServePruneInterval, rt.logger)
	}

	sc := rt.cfg.Server
	addr := sc.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	handler := api.NewHandler(api.HandlerConfig{
		Engine:       engine,
		Store:        rt.store,
		MaxBodyBytes: sc.MaxBodyBytes,
		Logger:       rt.logger,
	})
	server := api.NewServer(api.ServerConfig{
		Addr:         addr,
		ReadTimeout:  config.Duration(sc.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(sc.WriteTimeout, 30*time.Second),
		Logger:       rt.logger,
	}, handler)

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), ServeShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

// applyEngineConfig swaps the engine limits after a config reload. Regex and
// store settings need a restart.
func applyEngineConfig(engine *transaction.Engine, cfg *config.Config, logger *slog.Logger) {
	limits := cfg.Engine.Limits()
	engine.SetLimits(limits)
	logger.Info("engine limits updated",
		"max_ops", limits.MaxOps,
		"max_content_length", limits.MaxContentLength,
		"max_pattern_length", limits.MaxPatternLength)
}

func pruneLoop(ctx context.Context, ledger *idempotency.TieredLedger, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.Prune(ctx)
			if err != nil {
				logger.Warn("ledger prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("ledger pruned", "records", n)
			}
		}
	}
}
