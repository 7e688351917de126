package ledger

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// storeLookup resolves the stores trades refer to.
type storeLookup interface {
	storeByID(storeID uint64) (*Store, error)
}

// Registry is the trade state machine. It owns the global and per-store open
// indices and is the only component that moves payment for ownership.
type Registry struct {
	address     common.Address
	policy      domain.OverpaymentPolicy
	stores      storeLookup
	treasury    *Treasury
	trades      map[uint64]*domain.Trade
	nextID      uint64
	openAll     *openIndex
	openByStore map[common.Address]*openIndex
}

func newRegistry(address common.Address, policy domain.OverpaymentPolicy, stores storeLookup, treasury *Treasury) *Registry {
	return &Registry{
		address:     address,
		policy:      policy,
		stores:      stores,
		treasury:    treasury,
		trades:      make(map[uint64]*domain.Trade),
		nextID:      1,
		openAll:     &openIndex{},
		openByStore: make(map[common.Address]*openIndex),
	}
}

// Address returns the registry's own account, which receives retained
// overpayments.
func (r *Registry) Address() common.Address {
	return r.address
}

// Trade returns a copy of trade tradeID.
func (r *Registry) Trade(tradeID uint64) (domain.Trade, error) {
	t, ok := r.trades[tradeID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("%w: %d", domain.ErrTradeNotFound, tradeID)
	}
	return t.Clone(), nil
}

// OpenTradeIDs returns the global open index in insertion order.
func (r *Registry) OpenTradeIDs() []uint64 {
	return r.openAll.all()
}

// OpenTradeIDsByStore returns the open index of one store. Unknown store
// addresses have an empty index.
func (r *Registry) OpenTradeIDsByStore(store common.Address) []uint64 {
	return r.openByStore[store].all()
}

// OpenTradesByStorePage resolves one 1-based page of a store's open index.
func (r *Registry) OpenTradesByStorePage(store common.Address, page, size uint64) []domain.Trade {
	ix, ok := r.openByStore[store]
	if !ok {
		return []domain.Trade{}
	}
	return r.resolve(ix.page(page, size))
}

// OpenTradesPage resolves one 1-based page of the global open index.
func (r *Registry) OpenTradesPage(page, size uint64) []domain.Trade {
	return r.resolve(r.openAll.page(page, size))
}

func (r *Registry) resolve(ids []uint64) []domain.Trade {
	out := make([]domain.Trade, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.trades[id].Clone())
	}
	return out
}

func (r *Registry) storeIndex(store common.Address) *openIndex {
	ix, ok := r.openByStore[store]
	if !ok {
		ix = &openIndex{}
		r.openByStore[store] = ix
	}
	return ix
}

// createTrade registers a new Open trade and inserts it into both indices.
func (r *Registry) createTrade(
	tx *txn,
	store domain.StoreRecord,
	typeID uint64,
	seller common.Address,
	quantity uint64,
	price *big.Int,
	paymentToken common.Address,
	expiration uint64,
) (uint64, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("%w: trade of zero units", domain.ErrInvalidQuantity)
	}
	if price == nil {
		price = new(big.Int)
	}

	id := r.nextID
	r.nextID++
	tx.onRollback(func() { r.nextID-- })

	r.trades[id] = &domain.Trade{
		TradeID:        id,
		StoreID:        store.StoreID,
		StoreAddress:   store.StoreAddress,
		TypeID:         typeID,
		Seller:         seller,
		Quantity:       quantity,
		UnitPriceTotal: new(big.Int).Set(price),
		PaymentToken:   paymentToken,
		Expiration:     expiration,
		Status:         domain.TradeStatusOpen,
		CreatedAt:      tx.now,
	}
	tx.onRollback(func() { delete(r.trades, id) })

	r.openAll.add(tx, id)
	r.storeIndex(store.StoreAddress).add(tx, id)

	tx.emit(domain.EventTradeCreated, map[string]string{
		"trade_id":         strconv.FormatUint(id, 10),
		"store_id":         strconv.FormatUint(store.StoreID, 10),
		"store_address":    store.StoreAddress.Hex(),
		"type_id":          strconv.FormatUint(typeID, 10),
		"seller":           seller.Hex(),
		"quantity":         strconv.FormatUint(quantity, 10),
		"unit_price_total": price.String(),
		"payment_token":    paymentToken.Hex(),
		"expiration":       strconv.FormatUint(expiration, 10),
	})
	return id, nil
}

// transition is the only path that changes a trade's status. It moves an
// Open trade to a final status and removes it from both indices.
func (r *Registry) transition(tx *txn, t *domain.Trade, to domain.TradeStatus, buyer *common.Address) error {
	if t.Status != domain.TradeStatusOpen {
		return fmt.Errorf("%w: trade %d is %s", domain.ErrTradeNotOpen, t.TradeID, t.Status)
	}
	prev := *t
	settledAt := tx.now
	t.Status = to
	t.Buyer = buyer
	t.SettledAt = &settledAt
	tx.onRollback(func() { *t = prev })

	r.openAll.remove(tx, t.TradeID)
	r.openByStore[t.StoreAddress].remove(tx, t.TradeID)
	return nil
}

func (r *Registry) openTrade(tradeID uint64) (*domain.Trade, error) {
	t, ok := r.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrTradeNotFound, tradeID)
	}
	if t.Status != domain.TradeStatusOpen {
		return nil, fmt.Errorf("%w: trade %d is %s", domain.ErrTradeNotOpen, tradeID, t.Status)
	}
	return t, nil
}

// settle completes one trade for buyer. Native prices are added to owed,
// which the caller must cover from the attached value; token prices are
// pulled from the buyer's allowance immediately.
func (r *Registry) settle(tx *txn, buyer common.Address, tradeID uint64, owed *big.Int) error {
	t, err := r.openTrade(tradeID)
	if err != nil {
		return err
	}
	if t.Expired(tx.now) {
		return fmt.Errorf("%w: trade %d expired at %d", domain.ErrTradeExpired, tradeID, t.Expiration)
	}
	store, err := r.stores.storeByID(t.StoreID)
	if err != nil {
		return err
	}

	if t.IsNative() {
		owed.Add(owed, t.UnitPriceTotal)
		r.treasury.creditNative(tx, t.Seller, t.UnitPriceTotal)
	} else if err := r.treasury.pullToken(tx, t.PaymentToken, buyer, t.Seller, t.UnitPriceTotal); err != nil {
		return err
	}

	if err := store.transfer(tx, t.TypeID, t.Seller, buyer, t.Quantity); err != nil {
		return err
	}
	b := buyer
	if err := r.transition(tx, t, domain.TradeStatusCompleted, &b); err != nil {
		return err
	}

	tx.emit(domain.EventTradeCompleted, map[string]string{
		"trade_id":         strconv.FormatUint(tradeID, 10),
		"store_id":         strconv.FormatUint(t.StoreID, 10),
		"store_address":    t.StoreAddress.Hex(),
		"type_id":          strconv.FormatUint(t.TypeID, 10),
		"seller":           t.Seller.Hex(),
		"buyer":            buyer.Hex(),
		"quantity":         strconv.FormatUint(t.Quantity, 10),
		"unit_price_total": t.UnitPriceTotal.String(),
		"payment_token":    t.PaymentToken.Hex(),
	})
	return nil
}

// collect takes the attached native value from the payer once every trade in
// the call has settled, and routes the excess over owed per policy.
func (r *Registry) collect(tx *txn, payer common.Address, attached, owed *big.Int) error {
	if attached.Cmp(owed) < 0 {
		return fmt.Errorf("%w: attached %s, required %s", domain.ErrInsufficientPayment, attached, owed)
	}
	if err := r.treasury.debitNative(tx, payer, attached); err != nil {
		return err
	}
	excess := new(big.Int).Sub(attached, owed)
	if excess.Sign() == 0 {
		return nil
	}
	switch r.policy {
	case domain.OverpaymentRetain:
		r.treasury.creditNative(tx, r.address, excess)
	default:
		r.treasury.creditNative(tx, payer, excess)
	}
	return nil
}

func (r *Registry) completeTrade(tx *txn, buyer common.Address, tradeID uint64, payment *big.Int) error {
	owed := new(big.Int)
	if err := r.settle(tx, buyer, tradeID, owed); err != nil {
		return err
	}
	return r.collect(tx, buyer, payment, owed)
}

func (r *Registry) batchCompleteTrade(tx *txn, buyer common.Address, tradeIDs []uint64, payment *big.Int) error {
	if len(tradeIDs) == 0 {
		return fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument)
	}
	owed := new(big.Int)
	for i, id := range tradeIDs {
		if err := r.settle(tx, buyer, id, owed); err != nil {
			return &domain.CallError{Op: string(domain.OpBatchCompleteTrade), Index: i, Err: err}
		}
	}
	return r.collect(tx, buyer, payment, owed)
}

// closeTrade withdraws an Open trade. Only the seller or the owner of the
// trade's store may close it.
func (r *Registry) closeTrade(tx *txn, caller common.Address, tradeID uint64) error {
	t, err := r.openTrade(tradeID)
	if err != nil {
		return err
	}
	store, err := r.stores.storeByID(t.StoreID)
	if err != nil {
		return err
	}
	if caller != t.Seller && caller != store.Record().Owner {
		return fmt.Errorf("%w: %s may not close trade %d", domain.ErrUnauthorized, caller.Hex(), tradeID)
	}
	if err := r.transition(tx, t, domain.TradeStatusClosed, nil); err != nil {
		return err
	}
	tx.emit(domain.EventTradeClosed, map[string]string{
		"trade_id":      strconv.FormatUint(tradeID, 10),
		"store_id":      strconv.FormatUint(t.StoreID, 10),
		"store_address": t.StoreAddress.Hex(),
		"seller":        t.Seller.Hex(),
		"closed_by":     caller.Hex(),
	})
	return nil
}

func (r *Registry) batchCloseTrade(tx *txn, caller common.Address, tradeIDs []uint64) error {
	if len(tradeIDs) == 0 {
		return fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument)
	}
	for i, id := range tradeIDs {
		if err := r.closeTrade(tx, caller, id); err != nil {
			return &domain.CallError{Op: string(domain.OpBatchCloseTrade), Index: i, Err: err}
		}
	}
	return nil
}
