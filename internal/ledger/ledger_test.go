package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	seller   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000d3")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000e4")
)

// fixedNow is before the expiration used in the listing scenarios.
var fixedNow = time.Unix(1680000000, 0).UTC()

func newTestLedger(t *testing.T, policy domain.OverpaymentPolicy) *Ledger {
	t.Helper()
	return New(Config{
		ChainID:      31337,
		Operator:     operator,
		NativeSymbol: "ETH",
		Overpayment:  policy,
		MaxPageSize:  100,
	}, WithClock(func() time.Time { return fixedNow }))
}

func meta() domain.StoreMetadata {
	return domain.StoreMetadata{
		Name:        "s",
		Symbol:      "SYM",
		ImageURI:    "img",
		ProfileURI:  "prof",
		Description: "desc",
	}
}

func wei(n int64) *big.Int { return big.NewInt(n) }

// listed creates store 0 owned by seller with one native listing of 10 units
// for 1000 (trade 1).
func listed(t *testing.T, l *Ledger) {
	t.Helper()
	storeID, err := l.CreateStore(seller, meta())
	require.NoError(t, err)
	require.Equal(t, uint64(0), storeID)
	_, _, err = l.MintAndListNewTypeID(seller, 0, "uri", 10, wei(1000), domain.NativeToken, 1680150088)
	require.NoError(t, err)
}

func fund(t *testing.T, l *Ledger, who common.Address, amount int64) {
	t.Helper()
	require.NoError(t, l.Deposit(operator, who, wei(amount)))
}

func TestCreateStore_AssignsSequentialIDs(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)

	for want := uint64(0); want < 3; want++ {
		id, err := l.CreateStore(seller, meta())
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	info, err := l.StoreInfo(0)
	require.NoError(t, err)
	assert.Equal(t, "s", info.Name)
	assert.Equal(t, "SYM", info.Symbol)
	assert.Equal(t, "img", info.ImageURI)
	assert.Equal(t, "prof", info.ProfileURI)
	assert.Equal(t, "desc", info.Description)
	assert.Equal(t, seller, info.Owner)
	assert.Equal(t, StoreAddress(l.Deployment().Factory, 0), info.StoreAddress)

	byAddr, err := l.StoreByAddress(info.StoreAddress)
	require.NoError(t, err)
	assert.Equal(t, info, byAddr)
	assert.Len(t, l.Stores(), 3)

	_, err = l.StoreInfo(3)
	assert.ErrorIs(t, err, domain.ErrStoreNotFound)
}

func TestMintAndListNewType(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	_, err := l.CreateStore(seller, meta())
	require.NoError(t, err)

	typeID, tradeID, err := l.MintAndListNewTypeID(seller, 0, "uri", 10, wei(1000), domain.NativeToken, 1680150088)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), typeID)
	assert.Equal(t, uint64(1), tradeID)

	tr, err := l.TradeInfo(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tr.Quantity)
	assert.Equal(t, 0, tr.UnitPriceTotal.Cmp(wei(1000)))
	assert.Equal(t, domain.TradeStatusOpen, tr.Status)
	assert.Equal(t, seller, tr.Seller)
	assert.Equal(t, uint64(1680150088), tr.Expiration)

	bal, err := l.BalanceOf(0, 0, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)

	tt, err := l.TokenType(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "uri", tt.URI)
	assert.Equal(t, uint64(10), tt.MintedSupply)
	assert.Equal(t, uint64(10), tt.Terms.LotQuantity)

	typeID, tradeID, err = l.MintAndListNewTypeID(seller, 0, "uri2", 4, wei(40), domain.NativeToken, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), typeID)
	assert.Equal(t, uint64(2), tradeID)
	assert.Equal(t, []uint64{1, 2}, l.OpenTradeIDs())
}

func TestMintAndListNewType_Errors(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)

	_, _, err := l.MintAndListNewTypeID(seller, 0, "uri", 10, wei(1), domain.NativeToken, 0)
	assert.ErrorIs(t, err, domain.ErrStoreNotFound)

	_, err = l.CreateStore(seller, meta())
	require.NoError(t, err)
	_, _, err = l.MintAndListNewTypeID(seller, 0, "uri", 0, wei(1), domain.NativeToken, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = l.TokenType(0, 0)
	assert.ErrorIs(t, err, domain.ErrTypeNotFound, "failed mint must not allocate a type")
	assert.Empty(t, l.OpenTradeIDs())
}

func TestCompleteTrade_InsufficientPaymentLeavesLedgerUnchanged(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	fund(t, l, buyer, 5000)
	l.TakeEvents()
	before := l.Snapshot(0)

	err := l.CompleteTrade(buyer, 1, wei(999))
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)
	assert.Equal(t, before, l.Snapshot(0))
	assert.Empty(t, l.TakeEvents())

	require.NoError(t, l.CompleteTrade(buyer, 1, wei(1000)))
	tr, err := l.TradeInfo(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusCompleted, tr.Status)
	require.NotNil(t, tr.Buyer)
	assert.Equal(t, buyer, *tr.Buyer)
	assert.NotContains(t, l.OpenTradeIDs(), uint64(1))
	assert.NotContains(t, l.OpenTradeIDsByStore(tr.StoreAddress), uint64(1))

	bal, _ := l.BalanceOf(0, 0, buyer)
	assert.Equal(t, uint64(10), bal)
	bal, _ = l.BalanceOf(0, 0, seller)
	assert.Equal(t, uint64(0), bal)
	assert.Equal(t, wei(4000), l.NativeBalance(buyer))
	assert.Equal(t, wei(1000), l.NativeBalance(seller))
	assert.NoError(t, l.CheckInvariants())
}

func TestCompleteTrade_Preconditions(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	fund(t, l, buyer, 5000)

	err := l.CompleteTrade(buyer, 99, wei(1000))
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)

	err = l.CompleteTrade(stranger, 1, wei(1000))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, l.CompleteTrade(buyer, 1, wei(1000)))
	err = l.CompleteTrade(buyer, 1, wei(1000))
	assert.ErrorIs(t, err, domain.ErrTradeNotOpen)
}

func TestCompleteTrade_Expired(t *testing.T) {
	now := fixedNow
	l := New(Config{Operator: operator}, WithClock(func() time.Time { return now }))
	listed(t, l)
	fund(t, l, buyer, 5000)

	now = time.Unix(1680150089, 0)
	err := l.CompleteTrade(buyer, 1, wei(1000))
	assert.ErrorIs(t, err, domain.ErrTradeExpired)

	tr, err := l.TradeInfo(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, tr.Status)
}

func TestCompleteTrade_DeadlineIsInclusive(t *testing.T) {
	now := time.Unix(1680150088, 0)
	l := New(Config{Operator: operator}, WithClock(func() time.Time { return now }))
	listed(t, l)
	fund(t, l, buyer, 1000)

	require.NoError(t, l.CompleteTrade(buyer, 1, wei(1000)))
}

func TestOverpaymentPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      domain.OverpaymentPolicy
		wantBuyer   int64
		wantRetains int64
	}{
		{name: "refund", policy: domain.OverpaymentRefund, wantBuyer: 4000, wantRetains: 0},
		{name: "retain", policy: domain.OverpaymentRetain, wantBuyer: 3500, wantRetains: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, tt.policy)
			listed(t, l)
			fund(t, l, buyer, 5000)

			require.NoError(t, l.CompleteTrade(buyer, 1, wei(1500)))
			assert.Equal(t, wei(tt.wantBuyer), l.NativeBalance(buyer))
			assert.Equal(t, wei(1000), l.NativeBalance(seller))
			assert.Equal(t, wei(tt.wantRetains), l.NativeBalance(l.Deployment().Registry))
		})
	}
}

func TestTokenDenominatedTrade(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	_, err := l.CreateStore(seller, meta())
	require.NoError(t, err)
	_, tradeID, err := l.MintAndListNewTypeID(seller, 0, "uri", 3, wei(300), usdc, 0)
	require.NoError(t, err)

	require.NoError(t, l.CreditToken(operator, usdc, buyer, wei(500)))

	err = l.CompleteTrade(buyer, tradeID, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment, "no allowance granted")

	require.NoError(t, l.Approve(buyer, usdc, wei(300)))
	require.NoError(t, l.CompleteTrade(buyer, tradeID, nil))

	assert.Equal(t, wei(200), l.TokenBalance(usdc, buyer))
	assert.Equal(t, wei(300), l.TokenBalance(usdc, seller))
	assert.Equal(t, wei(0), l.Allowance(usdc, buyer))
	bal, _ := l.BalanceOf(0, 0, buyer)
	assert.Equal(t, uint64(3), bal)
}

func TestTreasury_Authorization(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)

	assert.ErrorIs(t, l.Deposit(stranger, buyer, wei(1)), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.CreditToken(stranger, usdc, buyer, wei(1)), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.Deposit(operator, buyer, wei(0)), domain.ErrInvalidArgument)
	assert.ErrorIs(t, l.CreditToken(operator, domain.NativeToken, buyer, wei(1)), domain.ErrInvalidArgument)
	assert.ErrorIs(t, l.Approve(buyer, domain.NativeToken, wei(1)), domain.ErrInvalidArgument)
	assert.Equal(t, wei(0), l.NativeBalance(buyer))
}

func TestMintAndListExistingType_CloseOne(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)

	idA, err := l.MintAndListExistingTypeID(seller, 0, 0, 2)
	require.NoError(t, err)
	idB, err := l.MintAndListExistingTypeID(seller, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), idA)
	assert.Equal(t, uint64(3), idB)

	trB, err := l.TradeInfo(idB)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trB.Quantity)
	assert.Equal(t, 0, trB.UnitPriceTotal.Cmp(wei(200)), "price scales from the 10-unit lot of 1000")
	assert.True(t, trB.IsNative())
	assert.Equal(t, uint64(0), trB.Expiration)

	require.NoError(t, l.CloseTrade(seller, idA))

	trA, err := l.TradeInfo(idA)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, trA.Status)
	assert.Nil(t, trA.Buyer)

	byStore := l.OpenTradeIDsByStore(trA.StoreAddress)
	assert.NotContains(t, byStore, idA)
	assert.Contains(t, byStore, idB)
	assert.Equal(t, []uint64{1, idB}, l.OpenTradeIDs())

	tt, err := l.TokenType(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), tt.MintedSupply)
}

func TestMintAndListExistingType_Errors(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)

	_, err := l.MintAndListExistingTypeID(seller, 0, 131072, 10)
	assert.ErrorIs(t, err, domain.ErrTypeNotFound)

	_, err = l.MintAndListExistingTypeID(seller, 0, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = l.MintAndListExistingTypeID(seller, 7, 0, 1)
	assert.ErrorIs(t, err, domain.ErrStoreNotFound)

	assert.Equal(t, []uint64{1}, l.OpenTradeIDs())
}

func TestSetListingTerms(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)

	terms := domain.ListingTerms{PaymentToken: usdc, LotPrice: wei(90), LotQuantity: 3, Expiration: 1680150088}
	assert.ErrorIs(t, l.SetListingTerms(stranger, 0, 0, terms), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.SetListingTerms(seller, 0, 5, terms), domain.ErrTypeNotFound)
	assert.ErrorIs(t, l.SetListingTerms(seller, 0, 0, domain.ListingTerms{}), domain.ErrInvalidQuantity)
	require.NoError(t, l.SetListingTerms(seller, 0, 0, terms))

	id, err := l.MintAndListExistingTypeID(seller, 0, 0, 5)
	require.NoError(t, err)
	tr, err := l.TradeInfo(id)
	require.NoError(t, err)
	assert.Equal(t, usdc, tr.PaymentToken)
	assert.Equal(t, 0, tr.UnitPriceTotal.Cmp(wei(150)))
	assert.Equal(t, uint64(1680150088), tr.Expiration)
}

func TestCloseTrade_Authorization(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)

	// stranger lists into seller's store; the store owner may still close it.
	_, strangerTrade, err := l.MintAndListNewTypeID(stranger, 0, "x", 1, wei(1), domain.NativeToken, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, l.CloseTrade(buyer, 1), domain.ErrUnauthorized)
	assert.ErrorIs(t, l.CloseTrade(stranger, 1), domain.ErrUnauthorized)
	require.NoError(t, l.CloseTrade(seller, strangerTrade))
	assert.ErrorIs(t, l.CloseTrade(seller, strangerTrade), domain.ErrTradeNotOpen)
	assert.ErrorIs(t, l.CloseTrade(seller, 42), domain.ErrTradeNotFound)
}

func TestBatchCloseTrade_AbortsOnClosedMember(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	idA, err := l.MintAndListExistingTypeID(seller, 0, 0, 1)
	require.NoError(t, err)
	idB, err := l.MintAndListExistingTypeID(seller, 0, 0, 1)
	require.NoError(t, err)
	require.NoError(t, l.CloseTrade(seller, idA))
	before := l.Snapshot(0)

	err = l.BatchCloseTrade(seller, []uint64{idB, idA})
	require.ErrorIs(t, err, domain.ErrTradeNotOpen)

	var ce *domain.CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Index)

	trB, err := l.TradeInfo(idB)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, trB.Status)
	assert.Equal(t, before, l.Snapshot(0))

	require.NoError(t, l.BatchCloseTrade(seller, []uint64{1, idB}))
	assert.Empty(t, l.OpenTradeIDs())
}

func TestBatchCompleteTrade(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	id2, err := l.MintAndListExistingTypeID(seller, 0, 0, 10)
	require.NoError(t, err)
	fund(t, l, buyer, 5000)

	t.Run("aggregate payment short", func(t *testing.T) {
		before := l.Snapshot(0)
		err := l.BatchCompleteTrade(buyer, []uint64{1, id2}, wei(1999))
		assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
		assert.Equal(t, before, l.Snapshot(0))
	})

	t.Run("duplicate id rejects whole batch", func(t *testing.T) {
		before := l.Snapshot(0)
		err := l.BatchCompleteTrade(buyer, []uint64{1, 1, 1}, wei(3000))
		assert.ErrorIs(t, err, domain.ErrTradeNotOpen)
		assert.Equal(t, before, l.Snapshot(0))
	})

	t.Run("empty batch", func(t *testing.T) {
		assert.ErrorIs(t, l.BatchCompleteTrade(buyer, nil, wei(0)), domain.ErrInvalidArgument)
	})

	t.Run("success", func(t *testing.T) {
		require.NoError(t, l.BatchCompleteTrade(buyer, []uint64{1, id2}, wei(2000)))
		assert.Empty(t, l.OpenTradeIDs())
		bal, _ := l.BalanceOf(0, 0, buyer)
		assert.Equal(t, uint64(20), bal)
		assert.Equal(t, wei(3000), l.NativeBalance(buyer))
		assert.Equal(t, wei(2000), l.NativeBalance(seller))
	})

	t.Run("already settled", func(t *testing.T) {
		err := l.BatchCompleteTrade(buyer, []uint64{1, 1, 1}, wei(3000))
		assert.ErrorIs(t, err, domain.ErrTradeNotOpen)
	})

	assert.NoError(t, l.CheckInvariants())
}

func TestCloseTrade_UnitsStayWithSeller(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	require.NoError(t, l.CloseTrade(seller, 1))

	bal, err := l.BalanceOf(0, 0, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)
	assert.Equal(t, wei(0), l.NativeBalance(seller))

	id, err := l.MintAndListExistingTypeID(seller, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, l.OpenTradeIDs())
	assert.NoError(t, l.CheckInvariants())
}

func TestOpenTradesByStorePage(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	_, err := l.CreateStore(seller, meta())
	require.NoError(t, err)
	_, err = l.CreateStore(stranger, meta())
	require.NoError(t, err)

	var want []uint64
	for i := 0; i < 7; i++ {
		_, id, err := l.MintAndListNewTypeID(seller, 0, "u", 1, wei(1), domain.NativeToken, 0)
		require.NoError(t, err)
		want = append(want, id)
		// interleave another store's listings
		_, _, err = l.MintAndListNewTypeID(stranger, 1, "v", 1, wei(1), domain.NativeToken, 0)
		require.NoError(t, err)
	}
	store, err := l.StoreInfo(0)
	require.NoError(t, err)

	page1 := l.OpenTradesByStorePage(store.StoreAddress, 1, 5)
	page2 := l.OpenTradesByStorePage(store.StoreAddress, 2, 5)
	page3 := l.OpenTradesByStorePage(store.StoreAddress, 3, 5)
	require.Len(t, page1, 5)
	require.Len(t, page2, 2)
	assert.Empty(t, page3)

	var got []uint64
	for _, tr := range append(page1, page2...) {
		got = append(got, tr.TradeID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, want, l.OpenTradeIDsByStore(store.StoreAddress))

	assert.Empty(t, l.OpenTradesByStorePage(store.StoreAddress, 0, 5))
	assert.Empty(t, l.OpenTradesByStorePage(store.StoreAddress, 1, 0))
	assert.Empty(t, l.OpenTradesByStorePage(store.StoreAddress, ^uint64(0), 5))
	assert.Empty(t, l.OpenTradesByStorePage(common.HexToAddress("0x01"), 1, 5))
	assert.Len(t, l.OpenTradesPage(1, 1000), 14, "page size is capped, not rejected")
	assert.Len(t, l.OpenTradesPage(2, 10), 4)
}

func TestPaginationReproducesIndex(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	_, err := l.CreateStore(seller, meta())
	require.NoError(t, err)
	for i := 0; i < 11; i++ {
		_, _, err := l.MintAndListNewTypeID(seller, 0, "u", 1, wei(1), domain.NativeToken, 0)
		require.NoError(t, err)
	}
	require.NoError(t, l.BatchCloseTrade(seller, []uint64{2, 5, 9}))
	store, _ := l.StoreInfo(0)

	for size := uint64(1); size <= 9; size++ {
		var got []uint64
		for page := uint64(1); ; page++ {
			trades := l.OpenTradesByStorePage(store.StoreAddress, page, size)
			if len(trades) == 0 {
				break
			}
			for _, tr := range trades {
				got = append(got, tr.TradeID)
			}
		}
		assert.Equal(t, l.OpenTradeIDsByStore(store.StoreAddress), got, "size %d", size)
	}
}

func TestAtomically_RollsBackEverything(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	l.TakeEvents()
	before := l.Snapshot(0)

	boom := errors.New("journal down")
	err := l.Atomically(func() error {
		if _, err := l.CreateStore(buyer, meta()); err != nil {
			return err
		}
		if err := l.CloseTrade(seller, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, l.Snapshot(0))
	assert.Empty(t, l.TakeEvents())

	// a failing inner call inside a committed scope undoes only itself
	require.NoError(t, l.Atomically(func() error {
		_, err := l.CreateStore(buyer, meta())
		require.NoError(t, err)
		assert.Error(t, l.CloseTrade(buyer, 1))
		return nil
	}))
	assert.Len(t, l.Stores(), 2)
	tr, _ := l.TradeInfo(1)
	assert.Equal(t, domain.TradeStatusOpen, tr.Status)
	assert.NoError(t, l.CheckInvariants())
}

func TestEvents(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	listed(t, l)
	fund(t, l, buyer, 1000)
	require.NoError(t, l.CompleteTrade(buyer, 1, wei(1000)))

	var kinds []domain.EventKind
	for _, ev := range l.TakeEvents() {
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, fixedNow, ev.At)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventStoreCreated,
		domain.EventTypeMinted,
		domain.EventTradeCreated,
		domain.EventNativeDeposited,
		domain.EventTradeCompleted,
	}, kinds)
	assert.Empty(t, l.TakeEvents())
}

func TestCallErrorCarriesOperation(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	err := l.CloseTrade(seller, 5)

	var ce *domain.CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, string(domain.OpCloseTrade), ce.Op)
	assert.Equal(t, -1, ce.Index)
	assert.True(t, domain.IsLedgerError(err))
}

func TestDeploymentAddresses(t *testing.T) {
	l := newTestLedger(t, domain.OverpaymentRefund)
	d := l.Deployment()
	assert.Equal(t, operator, d.Operator)
	assert.NotEqual(t, d.Registry, d.Factory)
	assert.NotEqual(t, common.Address{}, d.Registry)
	assert.Equal(t, domain.OverpaymentRefund, d.Overpayment)
	assert.Equal(t, "ETH", d.NativeSymbol)
}
