// Package ledger implements the marketplace ledger: per-seller token stores,
// the store factory with its mint-and-list workflow, the trade registry with
// its open-trade indices, and the treasury that holds payment value.
//
// Every mutating method is atomic: it either applies all of its changes or,
// on any error, none of them. A Ledger is not safe for concurrent use; the
// service layer serialises access to it.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Config fixes the deployment identity and settlement policy of a ledger.
type Config struct {
	ChainID        int64
	Operator       common.Address
	Project        common.Address
	AdminRouter    common.Address
	TransferRouter common.Address
	NativeSymbol   string
	Overpayment    domain.OverpaymentPolicy
	// MaxPageSize caps pageSize in paginated queries; 0 means uncapped.
	MaxPageSize uint64
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used for expiration checks and
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = now
	}
}

// Ledger is the single authority over stores, token types, balances, trades
// and payment accounts.
type Ledger struct {
	cfg        Config
	deployment domain.Deployment
	clock      func() time.Time
	factory    *Factory
	registry   *Registry
	treasury   *Treasury

	tx     *txn
	events []domain.Event
}

// New creates an empty ledger. The registry and factory addresses are
// derived from the operator the way the original deployment created them:
// registry first, factory second.
func New(cfg Config, opts ...Option) *Ledger {
	if cfg.Overpayment == "" {
		cfg.Overpayment = domain.OverpaymentRefund
	}
	registryAddr := ethcrypto.CreateAddress(cfg.Operator, 0)
	factoryAddr := ethcrypto.CreateAddress(cfg.Operator, 1)

	l := &Ledger{
		cfg:   cfg,
		clock: func() time.Time { return time.Now().UTC() },
		deployment: domain.Deployment{
			ChainID:        cfg.ChainID,
			Operator:       cfg.Operator,
			Registry:       registryAddr,
			Factory:        factoryAddr,
			Project:        cfg.Project,
			AdminRouter:    cfg.AdminRouter,
			TransferRouter: cfg.TransferRouter,
			NativeSymbol:   cfg.NativeSymbol,
			Overpayment:    cfg.Overpayment,
		},
		treasury: newTreasury(),
		factory:  newFactory(factoryAddr),
	}
	l.registry = newRegistry(registryAddr, cfg.Overpayment, l.factory, l.treasury)
	l.factory.registry = l.registry
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Deployment returns the ledger's component addresses and policy.
func (l *Ledger) Deployment() domain.Deployment {
	return l.deployment
}

// exec runs fn as one atomic call. Inside Atomically it joins the enclosing
// transaction but still undoes its own partial changes on failure.
func (l *Ledger) exec(op domain.CommandOp, fn func(tx *txn) error) error {
	tx := l.tx
	outer := tx == nil
	if outer {
		tx = newTxn(l.clock())
		l.tx = tx
		defer func() { l.tx = nil }()
	}
	sp := tx.mark()
	if err := fn(tx); err != nil {
		tx.rollbackTo(sp)
		return callError(op, err)
	}
	if outer {
		l.events = append(l.events, tx.events...)
	}
	return nil
}

// Atomically runs fn, which may call any number of mutating methods, as one
// unit: if fn returns an error every change made inside it is undone and no
// events are released.
func (l *Ledger) Atomically(fn func() error) error {
	if l.tx != nil {
		sp := l.tx.mark()
		if err := fn(); err != nil {
			l.tx.rollbackTo(sp)
			return err
		}
		return nil
	}
	tx := newTxn(l.clock())
	l.tx = tx
	defer func() { l.tx = nil }()
	if err := fn(); err != nil {
		tx.rollbackTo(savepoint{})
		return err
	}
	l.events = append(l.events, tx.events...)
	return nil
}

// TakeEvents returns and clears the events of calls committed so far.
func (l *Ledger) TakeEvents() []domain.Event {
	out := l.events
	l.events = nil
	return out
}

func callError(op domain.CommandOp, err error) error {
	var ce *domain.CallError
	if errors.As(err, &ce) {
		return err
	}
	return domain.NewCallError(string(op), err)
}

func amountOrZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

// ---------------------------------------------------------------------------
// Factory operations
// ---------------------------------------------------------------------------

// CreateStore allocates the next store id and records caller as its owner.
func (l *Ledger) CreateStore(caller common.Address, meta domain.StoreMetadata) (uint64, error) {
	var storeID uint64
	err := l.exec(domain.OpCreateStore, func(tx *txn) error {
		var err error
		storeID, err = l.factory.createStore(tx, caller, meta)
		return err
	})
	return storeID, err
}

// MintAndListNewTypeID mints quantity units of a new type to caller and lists
// all of them for price. The price and token become the type's default
// listing terms.
func (l *Ledger) MintAndListNewTypeID(
	caller common.Address,
	storeID uint64,
	uri string,
	quantity uint64,
	price *big.Int,
	paymentToken common.Address,
	expiration uint64,
) (typeID, tradeID uint64, err error) {
	err = l.exec(domain.OpMintAndListNewType, func(tx *txn) error {
		var err error
		typeID, tradeID, err = l.factory.mintAndListNewType(tx, caller, storeID, uri, quantity,
			amountOrZero(price), paymentToken, expiration)
		return err
	})
	return typeID, tradeID, err
}

// MintAndListExistingTypeID mints quantity more units of an existing type to
// caller and lists them using the type's stored listing terms.
func (l *Ledger) MintAndListExistingTypeID(caller common.Address, storeID, typeID, quantity uint64) (uint64, error) {
	var tradeID uint64
	err := l.exec(domain.OpMintAndListExisting, func(tx *txn) error {
		var err error
		tradeID, err = l.factory.mintAndListExistingType(tx, caller, storeID, typeID, quantity)
		return err
	})
	return tradeID, err
}

// SetListingTerms replaces the default listing terms of a type.
func (l *Ledger) SetListingTerms(caller common.Address, storeID, typeID uint64, terms domain.ListingTerms) error {
	return l.exec(domain.OpSetListingTerms, func(tx *txn) error {
		return l.factory.setListingTerms(tx, caller, storeID, typeID, terms)
	})
}

// StoreInfo returns store storeID.
func (l *Ledger) StoreInfo(storeID uint64) (domain.StoreRecord, error) {
	s, err := l.factory.storeByID(storeID)
	if err != nil {
		return domain.StoreRecord{}, err
	}
	return s.Record(), nil
}

// StoreByAddress returns the store with the given handle.
func (l *Ledger) StoreByAddress(addr common.Address) (domain.StoreRecord, error) {
	s, err := l.factory.storeByAddress(addr)
	if err != nil {
		return domain.StoreRecord{}, err
	}
	return s.Record(), nil
}

// Stores returns every store in id order.
func (l *Ledger) Stores() []domain.StoreRecord {
	out := make([]domain.StoreRecord, 0, len(l.factory.stores))
	for _, s := range l.factory.stores {
		out = append(out, s.Record())
	}
	return out
}

// TokenType returns a type of a store.
func (l *Ledger) TokenType(storeID, typeID uint64) (domain.TokenType, error) {
	s, err := l.factory.storeByID(storeID)
	if err != nil {
		return domain.TokenType{}, err
	}
	return s.TokenType(typeID)
}

// BalanceOf returns owner's balance of a type.
func (l *Ledger) BalanceOf(storeID, typeID uint64, owner common.Address) (uint64, error) {
	s, err := l.factory.storeByID(storeID)
	if err != nil {
		return 0, err
	}
	if _, err := s.tokenType(typeID); err != nil {
		return 0, err
	}
	return s.BalanceOf(typeID, owner), nil
}

// ---------------------------------------------------------------------------
// Registry operations
// ---------------------------------------------------------------------------

// CompleteTrade settles an Open trade for caller, who attaches payment in
// native value.
func (l *Ledger) CompleteTrade(caller common.Address, tradeID uint64, payment *big.Int) error {
	return l.exec(domain.OpCompleteTrade, func(tx *txn) error {
		return l.registry.completeTrade(tx, caller, tradeID, amountOrZero(payment))
	})
}

// BatchCompleteTrade settles every listed trade for caller as one unit. The
// attached payment must cover the sum of all native prices.
func (l *Ledger) BatchCompleteTrade(caller common.Address, tradeIDs []uint64, payment *big.Int) error {
	return l.exec(domain.OpBatchCompleteTrade, func(tx *txn) error {
		return l.registry.batchCompleteTrade(tx, caller, tradeIDs, amountOrZero(payment))
	})
}

// CloseTrade withdraws an Open trade.
func (l *Ledger) CloseTrade(caller common.Address, tradeID uint64) error {
	return l.exec(domain.OpCloseTrade, func(tx *txn) error {
		return l.registry.closeTrade(tx, caller, tradeID)
	})
}

// BatchCloseTrade withdraws every listed trade as one unit.
func (l *Ledger) BatchCloseTrade(caller common.Address, tradeIDs []uint64) error {
	return l.exec(domain.OpBatchCloseTrade, func(tx *txn) error {
		return l.registry.batchCloseTrade(tx, caller, tradeIDs)
	})
}

// TradeInfo returns trade tradeID.
func (l *Ledger) TradeInfo(tradeID uint64) (domain.Trade, error) {
	return l.registry.Trade(tradeID)
}

// OpenTradeIDs returns all open trade ids in creation order.
func (l *Ledger) OpenTradeIDs() []uint64 {
	return l.registry.OpenTradeIDs()
}

// OpenTradeIDsByStore returns a store's open trade ids in creation order.
func (l *Ledger) OpenTradeIDsByStore(store common.Address) []uint64 {
	return l.registry.OpenTradeIDsByStore(store)
}

// OpenTradesByStorePage returns the page-th (1-based) page of a store's
// open trades. Out-of-range pages are empty.
func (l *Ledger) OpenTradesByStorePage(store common.Address, page, size uint64) []domain.Trade {
	return l.registry.OpenTradesByStorePage(store, page, l.capPage(size))
}

// OpenTradesPage returns the page-th (1-based) page of all open trades.
func (l *Ledger) OpenTradesPage(page, size uint64) []domain.Trade {
	return l.registry.OpenTradesPage(page, l.capPage(size))
}

func (l *Ledger) capPage(size uint64) uint64 {
	if l.cfg.MaxPageSize > 0 && size > l.cfg.MaxPageSize {
		return l.cfg.MaxPageSize
	}
	return size
}

// ---------------------------------------------------------------------------
// Treasury operations
// ---------------------------------------------------------------------------

// Deposit credits native value to an account. Only the operator may deposit.
func (l *Ledger) Deposit(caller, to common.Address, amount *big.Int) error {
	return l.exec(domain.OpDeposit, func(tx *txn) error {
		if err := l.requireOperator(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: deposit must be positive", domain.ErrInvalidArgument)
		}
		l.treasury.creditNative(tx, to, amount)
		tx.emit(domain.EventNativeDeposited, map[string]string{
			"to":     to.Hex(),
			"amount": amount.String(),
		})
		return nil
	})
}

// CreditToken credits a fungible payment token to an account. Only the
// operator may credit.
func (l *Ledger) CreditToken(caller, token, to common.Address, amount *big.Int) error {
	return l.exec(domain.OpCreditToken, func(tx *txn) error {
		if err := l.requireOperator(caller); err != nil {
			return err
		}
		if token == domain.NativeToken {
			return fmt.Errorf("%w: native value is deposited, not credited", domain.ErrInvalidArgument)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: credit must be positive", domain.ErrInvalidArgument)
		}
		l.treasury.creditToken(tx, token, to, amount)
		tx.emit(domain.EventTokenCredited, map[string]string{
			"token":  token.Hex(),
			"to":     to.Hex(),
			"amount": amount.String(),
		})
		return nil
	})
}

// Approve sets how much of token the registry may pull from caller when
// caller buys token-denominated trades.
func (l *Ledger) Approve(caller, token common.Address, amount *big.Int) error {
	return l.exec(domain.OpApprove, func(tx *txn) error {
		if token == domain.NativeToken {
			return fmt.Errorf("%w: native value is attached, not approved", domain.ErrInvalidArgument)
		}
		amount := amountOrZero(amount)
		if amount.Sign() < 0 {
			return fmt.Errorf("%w: allowance must not be negative", domain.ErrInvalidArgument)
		}
		l.treasury.approve(tx, token, caller, amount)
		tx.emit(domain.EventTokenApproved, map[string]string{
			"token":  token.Hex(),
			"owner":  caller.Hex(),
			"amount": amount.String(),
		})
		return nil
	})
}

// NativeBalance returns an account's native balance.
func (l *Ledger) NativeBalance(owner common.Address) *big.Int {
	return l.treasury.NativeBalance(owner)
}

// TokenBalance returns an account's balance of a payment token.
func (l *Ledger) TokenBalance(token, owner common.Address) *big.Int {
	return l.treasury.TokenBalance(token, owner)
}

// Allowance returns how much of token the registry may pull from owner.
func (l *Ledger) Allowance(token, owner common.Address) *big.Int {
	return l.treasury.Allowance(token, owner)
}

func (l *Ledger) requireOperator(caller common.Address) error {
	if caller != l.cfg.Operator {
		return fmt.Errorf("%w: %s is not the operator", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Stats summarises ledger size.
type Stats struct {
	Stores     int `json:"stores"`
	Trades     int `json:"trades"`
	OpenTrades int `json:"open_trades"`
}

// Stats returns counts of stores, trades and open trades.
func (l *Ledger) Stats() Stats {
	return Stats{
		Stores:     len(l.factory.stores),
		Trades:     len(l.registry.trades),
		OpenTrades: l.registry.openAll.len(),
	}
}
