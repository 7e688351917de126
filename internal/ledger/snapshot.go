package ledger

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Snapshot captures the full ledger state. seq is the journal sequence of
// the last command applied. Output ordering is deterministic so two ledgers
// with equal state produce identical snapshots.
func (l *Ledger) Snapshot(seq uint64) domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{
		Version:     domain.SnapshotVersion,
		Seq:         seq,
		TakenAt:     l.clock(),
		NextTradeID: l.registry.nextID,
		Stores:      make([]domain.StoreSnapshot, 0, len(l.factory.stores)),
		Trades:      make([]domain.Trade, 0, len(l.registry.trades)),
		OpenTrades:  l.registry.openAll.all(),
		OpenByStore: make(map[uint64][]uint64),
	}

	for _, s := range l.factory.stores {
		ss := domain.StoreSnapshot{
			Record:   s.record,
			Types:    make([]domain.TokenType, 0, len(s.types)),
			Balances: make([]domain.Balance, 0, len(s.balances)),
		}
		for _, t := range s.types {
			ss.Types = append(ss.Types, cloneType(*t))
		}
		for k, q := range s.balances {
			ss.Balances = append(ss.Balances, domain.Balance{
				StoreID:  s.record.StoreID,
				TypeID:   k.typeID,
				Owner:    k.owner,
				Quantity: q,
			})
		}
		slices.SortFunc(ss.Balances, func(a, b domain.Balance) int {
			if c := cmp.Compare(a.TypeID, b.TypeID); c != 0 {
				return c
			}
			return bytes.Compare(a.Owner.Bytes(), b.Owner.Bytes())
		})
		snap.Stores = append(snap.Stores, ss)

		if ix, ok := l.registry.openByStore[s.record.StoreAddress]; ok && ix.len() > 0 {
			snap.OpenByStore[s.record.StoreID] = ix.all()
		}
	}

	for _, t := range l.registry.trades {
		snap.Trades = append(snap.Trades, t.Clone())
	}
	slices.SortFunc(snap.Trades, func(a, b domain.Trade) int {
		return cmp.Compare(a.TradeID, b.TradeID)
	})

	for owner, amt := range l.treasury.native {
		snap.Treasury.Native = append(snap.Treasury.Native, domain.Holding{
			Token: domain.NativeToken, Owner: owner, Amount: new(big.Int).Set(amt),
		})
	}
	snap.Treasury.Tokens = holdings(l.treasury.tokens)
	snap.Treasury.Allowances = holdings(l.treasury.allowances)
	sortHoldings(snap.Treasury.Native)
	return snap
}

func holdings(m map[holdingKey]*big.Int) []domain.Holding {
	out := make([]domain.Holding, 0, len(m))
	for k, amt := range m {
		out = append(out, domain.Holding{Token: k.token, Owner: k.owner, Amount: new(big.Int).Set(amt)})
	}
	sortHoldings(out)
	return out
}

func sortHoldings(h []domain.Holding) {
	slices.SortFunc(h, func(a, b domain.Holding) int {
		if c := bytes.Compare(a.Token.Bytes(), b.Token.Bytes()); c != 0 {
			return c
		}
		return bytes.Compare(a.Owner.Bytes(), b.Owner.Bytes())
	})
}

// Restore rebuilds a ledger from a snapshot and verifies the result with
// CheckInvariants.
func Restore(cfg Config, snap domain.LedgerSnapshot, opts ...Option) (*Ledger, error) {
	if snap.Version != domain.SnapshotVersion {
		return nil, fmt.Errorf("ledger: restore: unsupported snapshot version %d", snap.Version)
	}
	l := New(cfg, opts...)

	for i, ss := range snap.Stores {
		if ss.Record.StoreID != uint64(i) {
			return nil, fmt.Errorf("ledger: restore: store at position %d has id %d", i, ss.Record.StoreID)
		}
		s := newStore(ss.Record)
		for _, t := range ss.Types {
			tt := cloneType(t)
			s.types = append(s.types, &tt)
		}
		for _, b := range ss.Balances {
			if b.Quantity > 0 {
				s.balances[balanceKey{typeID: b.TypeID, owner: b.Owner}] = b.Quantity
			}
		}
		l.factory.stores = append(l.factory.stores, s)
		l.factory.byAddress[ss.Record.StoreAddress] = ss.Record.StoreID
	}

	for _, t := range snap.Trades {
		tc := t.Clone()
		l.registry.trades[t.TradeID] = &tc
	}
	l.registry.nextID = max(snap.NextTradeID, 1)
	l.registry.openAll.ids = slices.Clone(snap.OpenTrades)
	for storeID, ids := range snap.OpenByStore {
		if storeID >= uint64(len(l.factory.stores)) {
			return nil, fmt.Errorf("ledger: restore: open index for unknown store %d", storeID)
		}
		addr := l.factory.stores[storeID].record.StoreAddress
		l.registry.openByStore[addr] = &openIndex{ids: slices.Clone(ids)}
	}

	for _, h := range snap.Treasury.Native {
		if h.Amount != nil && h.Amount.Sign() > 0 {
			l.treasury.native[h.Owner] = new(big.Int).Set(h.Amount)
		}
	}
	restoreHoldings(l.treasury.tokens, snap.Treasury.Tokens)
	restoreHoldings(l.treasury.allowances, snap.Treasury.Allowances)

	if err := l.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("ledger: restore: %w", err)
	}
	return l, nil
}

func restoreHoldings(m map[holdingKey]*big.Int, hs []domain.Holding) {
	for _, h := range hs {
		if h.Amount != nil && h.Amount.Sign() > 0 {
			m[holdingKey{token: h.Token, owner: h.Owner}] = new(big.Int).Set(h.Amount)
		}
	}
}

// CheckInvariants verifies the structural properties the ledger maintains:
// sequential store, type and trade ids, derived store addresses, conserved
// token supply, and open indices that hold exactly the Open trades in
// creation order. It returns every violation found, joined.
func (l *Ledger) CheckInvariants() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for i, s := range l.factory.stores {
		rec := s.record
		if rec.StoreID != uint64(i) {
			fail("store at position %d has id %d", i, rec.StoreID)
		}
		if want := StoreAddress(l.factory.address, rec.StoreID); rec.StoreAddress != want {
			fail("store %d address %s, want %s", rec.StoreID, rec.StoreAddress.Hex(), want.Hex())
		}
		if id, ok := l.factory.byAddress[rec.StoreAddress]; !ok || id != rec.StoreID {
			fail("store %d missing from address lookup", rec.StoreID)
		}

		held := make(map[uint64]uint64, len(s.types))
		for k, q := range s.balances {
			if k.typeID >= uint64(len(s.types)) {
				fail("store %d holds balance of unknown type %d", rec.StoreID, k.typeID)
				continue
			}
			held[k.typeID] += q
		}
		for j, t := range s.types {
			if t.TypeID != uint64(j) || t.StoreID != rec.StoreID {
				fail("store %d type at position %d is (%d, %d)", rec.StoreID, j, t.StoreID, t.TypeID)
			}
			if held[t.TypeID] != t.MintedSupply {
				fail("store %d type %d: balances sum to %d, minted %d",
					rec.StoreID, t.TypeID, held[t.TypeID], t.MintedSupply)
			}
		}
	}
	if len(l.factory.byAddress) != len(l.factory.stores) {
		fail("address lookup has %d entries for %d stores", len(l.factory.byAddress), len(l.factory.stores))
	}

	r := l.registry
	if uint64(len(r.trades)) != r.nextID-1 {
		fail("%d trades recorded, next id is %d", len(r.trades), r.nextID)
	}
	var wantAll []uint64
	wantByStore := make(map[common.Address][]uint64)
	for id := uint64(1); id < r.nextID; id++ {
		t, ok := r.trades[id]
		if !ok {
			fail("trade %d missing", id)
			continue
		}
		if t.TradeID != id {
			fail("trade keyed %d has id %d", id, t.TradeID)
		}
		if t.StoreID >= uint64(len(l.factory.stores)) {
			fail("trade %d refers to unknown store %d", id, t.StoreID)
		} else if l.factory.stores[t.StoreID].record.StoreAddress != t.StoreAddress {
			fail("trade %d store address does not match store %d", id, t.StoreID)
		}
		if t.Status == domain.TradeStatusOpen {
			wantAll = append(wantAll, id)
			wantByStore[t.StoreAddress] = append(wantByStore[t.StoreAddress], id)
		}
	}
	if !slices.Equal(r.openAll.ids, wantAll) {
		fail("global open index %v, want %v", r.openAll.ids, wantAll)
	}
	for addr, ix := range r.openByStore {
		if !slices.Equal(ix.ids, wantByStore[addr]) {
			fail("open index of store %s is %v, want %v", addr.Hex(), ix.ids, wantByStore[addr])
		}
	}
	for addr, ids := range wantByStore {
		if _, ok := r.openByStore[addr]; !ok {
			fail("open index of store %s missing, want %v", addr.Hex(), ids)
		}
	}

	return errors.Join(errs...)
}
