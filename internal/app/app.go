// Package app wires the ledger's dependencies (journal and projection
// stores, signal bus, writer lock, snapshot archive, notifications) and
// runs the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/storeledger/internal/config"
)

// modeFunc runs one ledgerd mode against wired dependencies.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"serve":    (*App).ServeMode,
	"replay":   (*App).ReplayMode,
	"snapshot": (*App).SnapshotMode,
}

// App holds the configuration and the cleanup of whatever Wire opened.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
	once    sync.Once
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies for the configured mode and blocks until the mode
// returns. An unknown mode fails before any backend is contacted.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting ledgerd",
		slog.String("mode", mode),
		slog.Int64("chain_id", a.cfg.Ledger.ChainID),
	)
	started := time.Now()

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire %s: %w", mode, err)
	}
	a.cleanup = cleanup

	err = run(a, ctx, deps)
	a.logger.InfoContext(ctx, "mode finished",
		slog.String("mode", mode),
		slog.Duration("elapsed", time.Since(started)),
	)
	return err
}

// Close releases wired resources. Only the first call has an effect.
func (a *App) Close() {
	a.once.Do(func() {
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
