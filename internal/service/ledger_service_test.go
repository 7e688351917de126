package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/ledger"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	seller   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

type memCommands struct {
	mu       sync.Mutex
	cmds     []domain.Command
	failNext error
}

func (m *memCommands) Append(_ context.Context, cmd domain.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.cmds = append(m.cmds, cmd)
	return nil
}

func (m *memCommands) ListAfter(_ context.Context, seq uint64, limit int) ([]domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Command
	for _, c := range m.cmds {
		if c.Seq > seq && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCommands) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cmds) == 0 {
		return 0, nil
	}
	return m.cmds[len(m.cmds)-1].Seq, nil
}

type memArchive struct {
	snaps []domain.LedgerSnapshot
}

func (m *memArchive) Upload(_ context.Context, snap domain.LedgerSnapshot) (string, error) {
	m.snaps = append(m.snaps, snap)
	return fmt.Sprintf("mem/ledger-%d.json", snap.Seq), nil
}

func (m *memArchive) Latest(context.Context) (domain.LedgerSnapshot, error) {
	if len(m.snaps) == 0 {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	return m.snaps[len(m.snaps)-1], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() ledger.Config {
	return ledger.Config{ChainID: 31337, Operator: operator, NativeSymbol: "ETH", MaxPageSize: 50}
}

func newService(cmds domain.CommandStore, c *clock, opts ...Option) *LedgerService {
	opts = append(opts, WithNow(c.now))
	return NewLedgerService(testConfig(), cmds, testLogger(), opts...)
}

// seed runs a representative history: a store, two listings, a deposit and
// one purchase.
func seed(t *testing.T, ctx context.Context, svc *LedgerService) {
	t.Helper()
	storeID, err := svc.CreateStore(ctx, seller, domain.StoreMetadata{Name: "s", Symbol: "SYM"})
	require.NoError(t, err)
	_, tradeID, err := svc.MintAndListNewType(ctx, seller, domain.MintNewTypeArgs{
		StoreID: storeID, URI: "uri", Quantity: 10, Price: "1000", Expiration: 1680150088,
	})
	require.NoError(t, err)
	_, err = svc.MintAndListExistingType(ctx, seller, domain.MintExistingTypeArgs{StoreID: storeID, TypeID: 0, Quantity: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, operator, domain.DepositArgs{To: buyer, Amount: "5000"}))
	require.NoError(t, svc.CompleteTrade(ctx, buyer, domain.TradeArgs{TradeID: tradeID, Payment: "1000"}))
}

func TestExecute_JournalsCommittedCallsOnly(t *testing.T) {
	ctx := context.Background()
	cmds := &memCommands{}
	svc := newService(cmds, &clock{t: time.Unix(1680000000, 0)})

	seed(t, ctx, svc)
	require.Len(t, cmds.cmds, 5)
	for i, c := range cmds.cmds {
		assert.Equal(t, uint64(i+1), c.Seq)
		assert.NotEmpty(t, c.ID)
	}
	assert.Equal(t, domain.OpCompleteTrade, cmds.cmds[4].Op)
	assert.Equal(t, buyer, cmds.cmds[4].Caller)

	err := svc.CloseTrade(ctx, buyer, 2)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Len(t, cmds.cmds, 5)
	assert.Equal(t, uint64(5), svc.Status().LastSeq)
}

func TestExecute_JournalFailureRollsBackLedger(t *testing.T) {
	ctx := context.Background()
	cmds := &memCommands{}
	svc := newService(cmds, &clock{t: time.Unix(1680000000, 0)})
	seed(t, ctx, svc)

	cmds.failNext = errors.New("connection reset")
	err := svc.CloseTrade(ctx, seller, 2)
	require.Error(t, err)
	assert.False(t, domain.IsLedgerError(err))

	tr, err := svc.TradeInfo(2)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, tr.Status)
	assert.Equal(t, uint64(5), svc.Status().LastSeq)

	require.NoError(t, svc.CloseTrade(ctx, seller, 2))
	assert.Equal(t, uint64(6), cmds.cmds[5].Seq)
}

func TestExecute_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	svc := newService(&memCommands{}, &clock{t: time.Unix(1680000000, 0)})

	err := svc.Deposit(ctx, operator, domain.DepositArgs{To: buyer, Amount: "12abc"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	err = svc.Approve(ctx, buyer, domain.ApproveArgs{Token: seller, Amount: "-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestReplay_ReproducesState(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1680000000, 0)}
	cmds := &memCommands{}
	origArchive := &memArchive{}
	orig := newService(cmds, c, WithArchive(origArchive))
	seed(t, ctx, orig)

	// Replay long after the listing expired: the pinned clock must still
	// accept the purchase that happened before the deadline.
	c.t = time.Unix(1700000000, 0)
	replayArchive := &memArchive{}
	replayed := newService(cmds, c, WithArchive(replayArchive))
	summary, err := replayed.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Applied)
	assert.Equal(t, uint64(5), summary.Status.LastSeq)
	assert.Equal(t, 2, summary.Status.Ledger.Trades)

	_, err = orig.Snapshot(ctx, true)
	require.NoError(t, err)
	_, err = replayed.Snapshot(ctx, true)
	require.NoError(t, err)

	want, err := json.Marshal(origArchive.snaps[0])
	require.NoError(t, err)
	got, err := json.Marshal(replayArchive.snaps[0])
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestReplay_FromSnapshot(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1680000000, 0)}
	cmds := &memCommands{}
	archive := &memArchive{}
	svc := newService(cmds, c, WithArchive(archive))
	seed(t, ctx, svc)

	path, err := svc.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	path, err = svc.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, path, "nothing committed since the last snapshot")

	require.NoError(t, svc.CloseTrade(ctx, seller, 2))

	fresh := newService(cmds, c, WithArchive(archive))
	summary, err := fresh.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), summary.FromSnapshot)
	assert.Equal(t, 1, summary.Applied)
	assert.Empty(t, fresh.OpenTradeIDs())
	assert.NoError(t, fresh.CheckInvariants())
}

func TestReplay_DetectsJournalGap(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1680000000, 0)}
	cmds := &memCommands{}
	seed(t, ctx, newService(cmds, c))
	cmds.cmds = append(cmds.cmds[:2], cmds.cmds[3:]...)

	_, err := newService(cmds, c).Replay(ctx)
	assert.ErrorIs(t, err, domain.ErrJournalGap)
}

func TestSnapshot_RequiresArchive(t *testing.T) {
	svc := newService(&memCommands{}, &clock{t: time.Unix(1680000000, 0)})
	_, err := svc.Snapshot(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestAccount(t *testing.T) {
	ctx := context.Background()
	svc := newService(&memCommands{}, &clock{t: time.Unix(1680000000, 0)})
	seed(t, ctx, svc)

	token := common.HexToAddress("0x00000000000000000000000000000000000000e4")
	require.NoError(t, svc.CreditToken(ctx, operator, domain.CreditTokenArgs{Token: token, To: buyer, Amount: "70"}))
	require.NoError(t, svc.Approve(ctx, buyer, domain.ApproveArgs{Token: token, Amount: "30"}))

	acct := svc.Account(buyer, []common.Address{token})
	assert.Equal(t, "4000", acct.Native.String())
	require.Len(t, acct.Tokens, 1)
	assert.Equal(t, "70", acct.Tokens[0].Balance.String())
	assert.Equal(t, "30", acct.Tokens[0].Allowance.String())
}
