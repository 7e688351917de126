package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeStatus tracks the trade lifecycle. A trade leaves Open exactly once.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "open"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusClosed    TradeStatus = "closed"
)

// Trade is a sale offer for a fixed quantity of one token type at a fixed
// total price. Settlement is all-or-nothing.
type Trade struct {
	TradeID        uint64          `json:"trade_id"`
	StoreID        uint64          `json:"store_id"`
	StoreAddress   common.Address  `json:"store_address"`
	TypeID         uint64          `json:"type_id"`
	Seller         common.Address  `json:"seller"`
	Quantity       uint64          `json:"quantity"`
	UnitPriceTotal *big.Int        `json:"unit_price_total"`
	PaymentToken   common.Address  `json:"payment_token"`
	Expiration     uint64          `json:"expiration"` // unix seconds, 0 = none
	Status         TradeStatus     `json:"status"`
	Buyer          *common.Address `json:"buyer,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
}

// IsNative reports whether the trade settles in the native currency.
func (t Trade) IsNative() bool {
	return t.PaymentToken == NativeToken
}

// Expired reports whether the trade's deadline has passed at now.
func (t Trade) Expired(now time.Time) bool {
	if t.Expiration == 0 {
		return false
	}
	unix := now.Unix()
	return unix < 0 || uint64(unix) > t.Expiration
}

// Clone returns a deep copy so callers cannot mutate ledger state.
func (t Trade) Clone() Trade {
	out := t
	if t.UnitPriceTotal != nil {
		out.UnitPriceTotal = new(big.Int).Set(t.UnitPriceTotal)
	}
	if t.Buyer != nil {
		b := *t.Buyer
		out.Buyer = &b
	}
	if t.SettledAt != nil {
		s := *t.SettledAt
		out.SettledAt = &s
	}
	return out
}
