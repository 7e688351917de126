package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

func populated(t *testing.T) *Ledger {
	t.Helper()
	l := newTestLedger(t, domain.OverpaymentRetain)
	listed(t, l)
	_, err := l.CreateStore(stranger, meta())
	require.NoError(t, err)
	_, _, err = l.MintAndListNewTypeID(stranger, 1, "tok", 5, wei(50), usdc, 0)
	require.NoError(t, err)
	_, err = l.MintAndListExistingTypeID(seller, 0, 0, 3)
	require.NoError(t, err)
	fund(t, l, buyer, 4000)
	require.NoError(t, l.CreditToken(operator, usdc, buyer, wei(70)))
	require.NoError(t, l.Approve(buyer, usdc, wei(60)))
	require.NoError(t, l.CompleteTrade(buyer, 1, wei(1200)))
	require.NoError(t, l.CompleteTrade(buyer, 2, nil))
	return l
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := populated(t)
	snap := l.Snapshot(9)
	assert.Equal(t, uint64(9), snap.Seq)
	assert.Equal(t, uint64(4), snap.NextTradeID)
	assert.Equal(t, []uint64{3}, snap.OpenTrades)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded domain.LedgerSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := Restore(Config{
		ChainID:      31337,
		Operator:     operator,
		NativeSymbol: "ETH",
		Overpayment:  domain.OverpaymentRetain,
		MaxPageSize:  100,
	}, decoded, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	again, err := json.Marshal(restored.Snapshot(9))
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))

	// the restored ledger keeps allocating where the original left off
	id, err := restored.MintAndListExistingTypeID(seller, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
	assert.Equal(t, wei(200), restored.NativeBalance(restored.Deployment().Registry))
	assert.Equal(t, wei(10), restored.Allowance(usdc, buyer))
}

func TestRestore_RejectsCorruptSnapshot(t *testing.T) {
	l := populated(t)
	cfg := Config{Operator: operator}

	snap := l.Snapshot(1)
	snap.Version = 99
	_, err := Restore(cfg, snap)
	assert.Error(t, err)

	snap = l.Snapshot(1)
	snap.OpenTrades = append(snap.OpenTrades, 1)
	_, err = Restore(cfg, snap)
	assert.ErrorContains(t, err, "global open index")

	snap = l.Snapshot(1)
	snap.Stores[0].Types[0].MintedSupply++
	_, err = Restore(cfg, snap)
	assert.ErrorContains(t, err, "balances sum")

	_, err = Restore(Config{Operator: stranger}, l.Snapshot(1))
	assert.ErrorContains(t, err, "address", "store addresses derive from the operator")
}

func TestCheckInvariants_DetectsIndexDrift(t *testing.T) {
	l := populated(t)
	require.NoError(t, l.CheckInvariants())

	l.registry.openAll.ids = append(l.registry.openAll.ids, 2)
	err := l.CheckInvariants()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global open index")
}
