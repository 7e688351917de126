package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu     sync.Mutex
	pubs   []published
	stream [][]byte
}

func (b *fakeBus) Emit(_ context.Context, channel string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{channel: channel, payload: payload})
	b.stream = append(b.stream, payload)
	return fmt.Sprintf("%d-0", len(b.stream)), nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) ReadAfter(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeTrades struct {
	upserts []domain.Trade
}

func (f *fakeTrades) Upsert(_ context.Context, t domain.Trade) error {
	f.upserts = append(f.upserts, t)
	return nil
}

func (f *fakeTrades) GetByID(context.Context, uint64) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}

func (f *fakeTrades) ListBySeller(context.Context, common.Address, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTrades) ListByBuyer(context.Context, common.Address, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries map[uint64]domain.AuditEntry
}

func (m *memAudit) Record(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[uint64]domain.AuditEntry{}
	}
	if _, ok := m.entries[e.Seq]; !ok {
		m.entries[e.Seq] = e
	}
	return nil
}

func (m *memAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) MissingSeqs(_ context.Context, from, to uint64, limit int) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for s := from; s <= to && len(out) < limit; s++ {
		if _, ok := m.entries[s]; !ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, alert domain.Alert) error {
	f.events = append(f.events, alert.Event)
	return nil
}

func TestEventCodecRoundTrip(t *testing.T) {
	ev := domain.Event{
		Kind: domain.EventTradeCompleted,
		Seq:  1 << 60,
		At:   time.Date(2023, 3, 30, 4, 21, 28, 5, time.UTC),
		Fields: map[string]string{
			"trade_id":         "1",
			"unit_price_total": "340282366920938463463374607431768211455",
		},
	}
	b, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = DecodeEvent([]byte{0xff, 0x01})
	assert.Error(t, err)
}

func TestOutbox_DeliversToAllSinks(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	trades := &fakeTrades{}
	notifier := &fakeNotifier{}
	ob := NewOutbox(bus, trades, nil, notifier, 16, testLogger())

	c := &clock{t: time.Unix(1680000000, 0)}
	svc := newService(&memCommands{}, c, WithOutbox(ob))
	seed(t, ctx, svc)

	for len(ob.queue) > 0 {
		ob.deliver(ctx, <-ob.queue)
	}

	// create_store, mint+list, mint+list, deposit, complete
	var channels []string
	for _, p := range bus.pubs {
		channels = append(channels, p.channel)
	}
	assert.Contains(t, channels, "ledger:store.created")
	assert.Contains(t, channels, "ledger:trade.completed")
	assert.Len(t, bus.stream, len(bus.pubs))

	ev, err := DecodeEvent(bus.pubs[len(bus.pubs)-1].payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTradeCompleted, ev.Kind)
	assert.Equal(t, uint64(5), ev.Seq)
	assert.Equal(t, buyer.Hex(), ev.Fields["buyer"])

	require.NotEmpty(t, trades.upserts)
	last := trades.upserts[len(trades.upserts)-1]
	assert.Equal(t, uint64(1), last.TradeID)
	assert.Equal(t, domain.TradeStatusCompleted, last.Status)

	assert.Equal(t, []string{"store_created", "trade_completed"}, notifier.events)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	ob := NewOutbox(nil, nil, nil, nil, 1, testLogger())
	ob.enqueue(context.Background(), Committed{Command: domain.Command{Seq: 1}})
	ob.enqueue(context.Background(), Committed{Command: domain.Command{Seq: 2}})
	require.Len(t, ob.queue, 1)
	assert.Equal(t, uint64(1), (<-ob.queue).Command.Seq)
}

func TestReplay_BackfillsDroppedDeliveries(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1680000000, 0)}
	cmds := &memCommands{}
	audit := &memAudit{}

	// A one-slot queue that nobody drains keeps seq 1 and drops 2..5.
	live := NewOutbox(nil, nil, audit, nil, 1, testLogger())
	seed(t, ctx, newService(cmds, c, WithOutbox(live)))
	live.deliver(ctx, <-live.queue)
	require.Len(t, audit.entries, 1)

	bus := &fakeBus{}
	trades := &fakeTrades{}
	notifier := &fakeNotifier{}
	restarted := NewOutbox(bus, trades, audit, notifier, 16, testLogger())
	summary, err := newService(cmds, c, WithOutbox(restarted)).Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Backfilled)

	require.Len(t, audit.entries, 5)
	assert.Equal(t, domain.OpCompleteTrade, audit.entries[5].Op)
	assert.Contains(t, audit.entries[5].Events, domain.EventTradeCompleted)

	// Trade 1 was listed at seq 2 and sold at seq 5; both repairs write
	// its final state.
	require.NotEmpty(t, trades.upserts)
	for _, tr := range trades.upserts {
		if tr.TradeID == 1 {
			assert.Equal(t, domain.TradeStatusCompleted, tr.Status)
		}
	}
	assert.Empty(t, bus.pubs, "repairs do not re-emit events")
	assert.Empty(t, notifier.events)

	summary, err = newService(cmds, c, WithOutbox(restarted)).Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Backfilled)
}

func TestOutbox_RunDrainsOnShutdown(t *testing.T) {
	bus := &fakeBus{}
	ob := NewOutbox(bus, nil, nil, nil, 8, testLogger())
	ob.enqueue(context.Background(), Committed{
		Command: domain.Command{Seq: 1},
		Events:  []domain.Event{{Kind: domain.EventStoreCreated, Seq: 1, Fields: map[string]string{}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ob.Run(ctx), context.Canceled)
	assert.Len(t, bus.pubs, 1)
}

func TestAlertFor(t *testing.T) {
	alert, ok := alertFor(domain.Event{
		Kind: domain.EventTradeClosed,
		Fields: map[string]string{
			"trade_id":  "4",
			"store_id":  "1",
			"closed_by": seller.Hex(),
		},
	})
	require.True(t, ok)
	assert.Equal(t, "trade_closed", alert.Event)
	assert.Equal(t, domain.SeverityInfo, alert.Severity)
	assert.Equal(t, "Trade #4 in store 1 withdrawn", alert.Message)
	assert.Equal(t, []domain.AlertField{{Name: "closed_by", Value: seller.Hex()}}, alert.Fields)

	_, ok = alertFor(domain.Event{Kind: domain.EventTokenApproved})
	assert.False(t, ok)
}
