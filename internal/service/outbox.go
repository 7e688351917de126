package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Notifier delivers operator alerts. notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Committed is everything a committed command produced that downstream
// consumers care about.
type Committed struct {
	Command domain.Command
	Events  []domain.Event
	// Trades holds the post-commit state of every trade the command touched.
	Trades []domain.Trade
}

// Outbox fans committed commands out to the signal bus, the trade
// projection, the audit log and the notifier. Delivery is best-effort and
// in commit order; failures are logged and never affect the ledger.
type Outbox struct {
	bus      domain.SignalBus
	trades   domain.TradeStore
	audit    domain.AuditStore
	notifier Notifier
	queue    chan Committed
	logger   *slog.Logger
}

// NewOutbox creates an Outbox with a queue of the given size. Any of the
// sinks may be nil.
func NewOutbox(
	bus domain.SignalBus,
	trades domain.TradeStore,
	audit domain.AuditStore,
	notifier Notifier,
	size int,
	logger *slog.Logger,
) *Outbox {
	if size <= 0 {
		size = 256
	}
	return &Outbox{
		bus:      bus,
		trades:   trades,
		audit:    audit,
		notifier: notifier,
		queue:    make(chan Committed, size),
		logger:   logger.With(slog.String("component", "outbox")),
	}
}

// backfillLimit caps how many lost deliveries one startup repairs.
const backfillLimit = 10_000

// enqueue never blocks the writer. A full queue drops the delivery; the
// journal still holds the command, and the next Replay restores its audit
// row and trade projection.
func (o *Outbox) enqueue(ctx context.Context, c Committed) {
	select {
	case o.queue <- c:
	default:
		o.logger.WarnContext(ctx, "outbox full, dropping delivery",
			slog.Uint64("seq", c.Command.Seq),
			slog.String("op", string(c.Command.Op)),
		)
	}
}

// Run delivers queued commands until ctx is cancelled, then drains what is
// already queued.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.drain(ctx)
			return ctx.Err()
		case c := <-o.queue:
			o.deliver(ctx, c)
		}
	}
}

func (o *Outbox) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for {
		select {
		case c := <-o.queue:
			o.deliver(dctx, c)
		default:
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, c Committed) {
	seq := slog.Uint64("seq", c.Command.Seq)

	if o.bus != nil {
		for _, ev := range c.Events {
			payload, err := EncodeEvent(ev)
			if err != nil {
				o.logger.ErrorContext(ctx, "encode event failed", seq, slog.String("error", err.Error()))
				continue
			}
			if _, err := o.bus.Emit(ctx, ev.Channel(), payload); err != nil {
				o.logger.WarnContext(ctx, "emit event failed",
					seq,
					slog.String("channel", ev.Channel()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	o.project(ctx, c)

	if o.notifier != nil {
		for _, ev := range c.Events {
			alert, ok := alertFor(ev)
			if !ok {
				continue
			}
			if err := o.notifier.Notify(ctx, alert); err != nil {
				o.logger.WarnContext(ctx, "notify failed", seq, slog.String("event", alert.Event), slog.String("error", err.Error()))
			}
		}
	}
}

// project writes the trade projection and the audit row for c.
func (o *Outbox) project(ctx context.Context, c Committed) {
	seq := slog.Uint64("seq", c.Command.Seq)

	if o.trades != nil {
		for _, t := range c.Trades {
			if err := o.trades.Upsert(ctx, t); err != nil {
				o.logger.WarnContext(ctx, "trade projection upsert failed",
					seq,
					slog.Uint64("trade_id", t.TradeID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if o.audit != nil {
		if err := o.audit.Record(ctx, auditEntry(c)); err != nil {
			o.logger.WarnContext(ctx, "audit record failed", seq, slog.String("error", err.Error()))
		}
	}
}

// missingAudit returns the seqs in [from, to] that have no audit row. Every
// committed command gets one, so a gap marks a delivery that was lost.
func (o *Outbox) missingAudit(ctx context.Context, from, to uint64) (map[uint64]bool, error) {
	if o.audit == nil || from > to {
		return nil, nil
	}
	seqs, err := o.audit.MissingSeqs(ctx, from, to, backfillLimit)
	if err != nil {
		return nil, err
	}
	if len(seqs) == backfillLimit {
		o.logger.WarnContext(ctx, "audit backfill capped", slog.Int("limit", backfillLimit), slog.Uint64("from", from))
	}
	out := make(map[uint64]bool, len(seqs))
	for _, s := range seqs {
		out[s] = true
	}
	return out, nil
}

// Backfill rewrites the audit rows and trade projections of commits whose
// delivery was lost. Events and alerts are not sent again.
func (o *Outbox) Backfill(ctx context.Context, commits []Committed) {
	for _, c := range commits {
		o.project(ctx, c)
	}
	if len(commits) > 0 {
		o.logger.InfoContext(ctx, "outbox backfilled",
			slog.Int("commands", len(commits)),
			slog.Uint64("first_seq", commits[0].Command.Seq),
			slog.Uint64("last_seq", commits[len(commits)-1].Command.Seq),
		)
	}
}

// alertFor renders the operator alert for an event, if it has one. The
// alert's Event is the kind with dots replaced, e.g. "trade_completed".
func alertFor(ev domain.Event) (domain.Alert, bool) {
	f := ev.Fields
	alert := domain.Alert{
		Event:    strings.ReplaceAll(string(ev.Kind), ".", "_"),
		Severity: domain.SeverityInfo,
	}
	fields := func(names ...string) []domain.AlertField {
		out := make([]domain.AlertField, 0, len(names))
		for _, n := range names {
			if v, ok := f[n]; ok && v != "" {
				out = append(out, domain.AlertField{Name: n, Value: v})
			}
		}
		return out
	}

	switch ev.Kind {
	case domain.EventStoreCreated:
		alert.Title = "Store created"
		alert.Message = fmt.Sprintf("Store #%s %q (%s)", f["store_id"], f["name"], f["symbol"])
		alert.Fields = fields("owner", "store_address")
	case domain.EventTradeCompleted:
		alert.Title = "Trade completed"
		alert.Message = fmt.Sprintf("Trade #%s in store %s settled", f["trade_id"], f["store_id"])
		alert.Fields = fields("type_id", "quantity", "seller", "buyer", "unit_price_total", "payment_token")
	case domain.EventTradeClosed:
		alert.Title = "Trade closed"
		alert.Message = fmt.Sprintf("Trade #%s in store %s withdrawn", f["trade_id"], f["store_id"])
		alert.Fields = fields("closed_by")
	default:
		return domain.Alert{}, false
	}
	return alert, true
}

func auditEntry(c Committed) domain.AuditEntry {
	kinds := make([]domain.EventKind, len(c.Events))
	for i, ev := range c.Events {
		kinds[i] = ev.Kind
	}
	return domain.AuditEntry{
		Seq:       c.Command.Seq,
		CommandID: c.Command.ID,
		Op:        c.Command.Op,
		Caller:    c.Command.Caller,
		Events:    kinds,
		Args:      c.Command.Args,
		At:        c.Command.Time,
	}
}
