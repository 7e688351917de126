// Package pipeline runs the background jobs of a serving ledger: periodic
// snapshots and the writer-lock lease.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// SnapshotTaker produces and archives a ledger snapshot. It returns "" when
// nothing changed since the previous snapshot and force is false.
type SnapshotTaker interface {
	Snapshot(ctx context.Context, force bool) (string, error)
}

// Snapshotter takes snapshots on a fixed interval or a cron schedule.
type Snapshotter struct {
	taker    SnapshotTaker
	interval time.Duration
	schedule cron.Schedule
	now      func() time.Time
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter. A non-empty cronExpr wins over
// interval.
func NewSnapshotter(taker SnapshotTaker, interval time.Duration, cronExpr string, logger *slog.Logger) (*Snapshotter, error) {
	s := &Snapshotter{
		taker:    taker,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "snapshotter")),
	}
	if cronExpr != "" {
		sched, err := parseSchedule(cronExpr, s.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("pipeline: snapshot cron %q: %w", cronExpr, err)
		}
		s.schedule = sched
	} else if interval <= 0 {
		return nil, fmt.Errorf("pipeline: snapshot interval must be positive, got %s", interval)
	}
	return s, nil
}

// RunOnce takes one snapshot.
func (s *Snapshotter) RunOnce(ctx context.Context) error {
	start := s.now()
	path, err := s.taker.Snapshot(ctx, false)
	if err != nil {
		return err
	}
	if path == "" {
		s.logger.DebugContext(ctx, "ledger unchanged, snapshot skipped")
		return nil
	}
	s.logger.InfoContext(ctx, "snapshot uploaded",
		slog.String("path", path),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	return nil
}

// wait returns how long to sleep before the next run.
func (s *Snapshotter) wait() (time.Duration, error) {
	if s.schedule == nil {
		return s.interval, nil
	}
	now := s.now().UTC()
	next := s.schedule.Next(now)
	if next.IsZero() {
		return 0, errNeverFires
	}
	return next.Sub(now), nil
}

// Run snapshots on schedule until ctx is cancelled, then takes a final
// snapshot. Failed runs are logged and retried on the next tick.
func (s *Snapshotter) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "snapshotter started", slog.Duration("interval", s.interval), slog.Bool("cron", s.schedule != nil))
	for {
		d, err := s.wait()
		if err != nil {
			return fmt.Errorf("pipeline: snapshot schedule: %w", err)
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if err := s.RunOnce(final); err != nil {
				s.logger.ErrorContext(final, "final snapshot failed", slog.String("error", err.Error()))
			}
			cancel()
			s.logger.Info("snapshotter stopped")
			return nil
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// KeepLease refreshes lease every interval until ctx is cancelled, then
// releases it. A lost lease ends the loop with an error wrapping
// domain.ErrLockHeld.
func KeepLease(ctx context.Context, lease domain.Lease, interval time.Duration, logger *slog.Logger) error {
	defer lease.Release()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.ErrorContext(ctx, "writer lease lost", slog.String("error", err.Error()))
				return fmt.Errorf("pipeline: writer lease: %w", err)
			}
		}
	}
}
