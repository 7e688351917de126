package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

type holdingKey struct {
	token common.Address
	owner common.Address
}

// Treasury holds payment value: native balances, fungible payment token
// balances and the allowances owners grant the registry. Amounts stored in
// the maps are never mutated in place, so an undo step can restore the old
// pointer.
type Treasury struct {
	native     map[common.Address]*big.Int
	tokens     map[holdingKey]*big.Int
	allowances map[holdingKey]*big.Int
}

func newTreasury() *Treasury {
	return &Treasury{
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[holdingKey]*big.Int),
		allowances: make(map[holdingKey]*big.Int),
	}
}

// NativeBalance returns owner's native balance.
func (t *Treasury) NativeBalance(owner common.Address) *big.Int {
	return amountOf(t.native, owner)
}

// TokenBalance returns owner's balance of a fungible payment token.
func (t *Treasury) TokenBalance(token, owner common.Address) *big.Int {
	return amountOf(t.tokens, holdingKey{token: token, owner: owner})
}

// Allowance returns how much of token the registry may pull from owner.
func (t *Treasury) Allowance(token, owner common.Address) *big.Int {
	return amountOf(t.allowances, holdingKey{token: token, owner: owner})
}

func (t *Treasury) creditNative(tx *txn, to common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	setAmount(tx, t.native, to, new(big.Int).Add(t.NativeBalance(to), amount))
}

func (t *Treasury) debitNative(tx *txn, from common.Address, amount *big.Int) error {
	have := t.NativeBalance(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s native, needs %s",
			domain.ErrInsufficientFunds, from.Hex(), have, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	setAmount(tx, t.native, from, have.Sub(have, amount))
	return nil
}

func (t *Treasury) creditToken(tx *txn, token, to common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	key := holdingKey{token: token, owner: to}
	setAmount(tx, t.tokens, key, new(big.Int).Add(t.TokenBalance(token, to), amount))
}

func (t *Treasury) approve(tx *txn, token, owner common.Address, amount *big.Int) {
	setAmount(tx, t.allowances, holdingKey{token: token, owner: owner}, new(big.Int).Set(amount))
}

// pullToken moves amount of token from one owner to another, consuming the
// source owner's allowance.
func (t *Treasury) pullToken(tx *txn, token, from, to common.Address, amount *big.Int) error {
	allowed := t.Allowance(token, from)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance of %s for token %s is %s, needs %s",
			domain.ErrInsufficientPayment, from.Hex(), token.Hex(), allowed, amount)
	}
	have := t.TokenBalance(token, from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of token %s, needs %s",
			domain.ErrInsufficientPayment, from.Hex(), have, token.Hex(), amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	setAmount(tx, t.allowances, holdingKey{token: token, owner: from}, allowed.Sub(allowed, amount))
	setAmount(tx, t.tokens, holdingKey{token: token, owner: from}, have.Sub(have, amount))
	t.creditToken(tx, token, to, amount)
	return nil
}

// amountOf returns a copy of m[k], or zero.
func amountOf[K comparable](m map[K]*big.Int, k K) *big.Int {
	if v, ok := m[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func setAmount[K comparable](tx *txn, m map[K]*big.Int, k K, v *big.Int) {
	prev, had := m[k]
	if v.Sign() == 0 {
		delete(m, k)
	} else {
		m[k] = v
	}
	tx.onRollback(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}
