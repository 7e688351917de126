package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/pipeline"
	"github.com/alanyoungcy/storeledger/internal/server"
	"github.com/alanyoungcy/storeledger/internal/server/handler"
	"github.com/alanyoungcy/storeledger/internal/server/ws"
	"github.com/alanyoungcy/storeledger/internal/service"
)

// writerLockKey guards the single-writer invariant across processes.
const writerLockKey = "ledger:writer"

// ServeMode takes the writer lock, rebuilds the ledger and serves the API
// until ctx is cancelled or the lock is lost.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	var snap *pipeline.Snapshotter
	if deps.Archive != nil && (a.cfg.Ledger.SnapshotInterval.Duration > 0 || a.cfg.Ledger.SnapshotCron != "") {
		var err error
		snap, err = pipeline.NewSnapshotter(deps.Ledger, a.cfg.Ledger.SnapshotInterval.Duration, a.cfg.Ledger.SnapshotCron, a.logger)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	proxies, err := a.cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	ttl := a.cfg.Ledger.WriterLockTTL.Duration
	lease, err := deps.LockManager.Acquire(ctx, writerLockKey, ttl)
	if err != nil {
		return fmt.Errorf("serve: acquire writer lock: %w", err)
	}

	summary, err := deps.Ledger.Replay(ctx)
	if err != nil {
		lease.Release()
		return fmt.Errorf("serve: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger ready",
		slog.Uint64("last_seq", summary.Status.LastSeq),
		slog.String("operator", deps.Operator.Hex()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.KeepLease(ctx, lease, ttl/3, a.logger)
	})
	g.Go(func() error {
		return ignoreCanceled(deps.Outbox.Run(ctx))
	})

	if snap != nil {
		g.Go(func() error {
			return snap.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, proxies)
	}

	a.alert(ctx, deps, domain.Alert{
		Event:    "writer_started",
		Severity: domain.SeverityInfo,
		Title:    "Ledger writer started",
		Message: fmt.Sprintf("Serving at seq %d (%d stores, %d open trades)",
			summary.Status.LastSeq, summary.Status.Ledger.Stores, summary.Status.Ledger.OpenTrades),
		Fields: []domain.AlertField{{Name: "operator", Value: deps.Operator.Hex()}},
	})

	err = g.Wait()
	if err != nil {
		a.alert(context.WithoutCancel(ctx), deps, domain.Alert{
			Event:    "writer_stopped",
			Severity: domain.SeverityCritical,
			Title:    "Ledger writer stopped",
			Message:  err.Error(),
		})
	}
	return err
}

// startHTTPServer adds the API server and the WebSocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, proxies []netip.Prefix) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, service.DecodeEvent, a.logger, ws.Config{
		StartedAt: startedAt,
		Status:    func() any { return deps.Ledger.Status() },
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var snapshots handler.SnapshotTrigger
	if deps.Archive != nil {
		snapshots = deps.Ledger
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Ledger, snapshots, a.logger).WithChecks(deps.Checks),
		Ledger:  handler.NewLedgerHandler(deps.Ledger, uint64(a.cfg.Ledger.DefaultPageSize), a.logger),
		History: handler.NewHistoryHandler(deps.Trades, deps.Audit, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
		TrustedProxies:   proxies,
	}, handlers, hub, deps.RateLimiter, deps.ReplayGuard, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ReplayMode rebuilds the ledger, verifies it and prints the summary.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	summary, err := deps.Ledger.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return printJSON(summary)
}

// SnapshotMode rebuilds the ledger and archives a snapshot of it.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	summary, err := deps.Ledger.Replay(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	path, err := deps.Ledger.Snapshot(ctx, true)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return printJSON(map[string]any{
		"path": path,
		"seq":  summary.Status.LastSeq,
	})
}

func (a *App) alert(ctx context.Context, deps *Dependencies, alert domain.Alert) {
	if !deps.Notifier.Enabled() {
		return
	}
	if err := deps.Notifier.NotifyAll(ctx, alert); err != nil {
		a.logger.WarnContext(ctx, "operator alert failed", slog.String("error", err.Error()))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
