// Package notify fans ledger alerts out to chat channels (Telegram,
// Discord), filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, alert domain.Alert) error
	Name() string
}

// Notifier delivers each alert to all senders in parallel.
type Notifier struct {
	senders []Sender
	// events is the allow-list for Notify; empty allows everything.
	events map[string]bool
	logger *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends alert when its Event passes the allow-list. Critical alerts
// always pass.
func (n *Notifier) Notify(ctx context.Context, alert domain.Alert) error {
	if alert.Severity != domain.SeverityCritical && len(n.events) > 0 && !n.events[alert.Event] {
		n.logger.DebugContext(ctx, "alert filtered", slog.String("event", alert.Event))
		return nil
	}
	return n.NotifyAll(ctx, alert)
}

// NotifyAll sends alert to every sender regardless of the allow-list. A
// failing sender does not stop the others; all failures are joined.
func (n *Notifier) NotifyAll(ctx context.Context, alert domain.Alert) error {
	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, alert); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", alert.Event),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
