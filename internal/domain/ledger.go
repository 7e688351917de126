package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the reserved payment token denoting settlement in the
// chain-native currency.
var NativeToken = common.Address{}

// StoreMetadata is the opaque, immutable descriptive data of a store.
type StoreMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	ImageURI    string `json:"image_uri"`
	ProfileURI  string `json:"profile_uri"`
	Description string `json:"description"`
}

// StoreRecord is the identity and metadata of a seller's catalogue.
type StoreRecord struct {
	StoreID      uint64         `json:"store_id"`
	StoreAddress common.Address `json:"store_address"`
	Owner        common.Address `json:"owner"`
	StoreMetadata
	CreatedAt time.Time `json:"created_at"`
}

// ListingTerms are the default terms reused when an existing type is
// re-listed. Price for a lot of q units is LotPrice*q/LotQuantity.
type ListingTerms struct {
	PaymentToken common.Address `json:"payment_token"`
	LotPrice     *big.Int       `json:"lot_price"`
	LotQuantity  uint64         `json:"lot_quantity"`
	Expiration   uint64         `json:"expiration"`
}

// PriceFor scales the stored lot price to a lot of quantity units.
func (t ListingTerms) PriceFor(quantity uint64) *big.Int {
	if t.LotPrice == nil || t.LotQuantity == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(t.LotPrice, new(big.Int).SetUint64(quantity))
	return p.Quo(p, new(big.Int).SetUint64(t.LotQuantity))
}

// TokenType is a mintable catalogue entry within one store.
type TokenType struct {
	StoreID      uint64       `json:"store_id"`
	TypeID       uint64       `json:"type_id"`
	URI          string       `json:"uri"`
	MintedSupply uint64       `json:"minted_supply"`
	Terms        ListingTerms `json:"listing_terms"`
}

// Balance is the quantity of a token type held by one owner.
type Balance struct {
	StoreID  uint64         `json:"store_id"`
	TypeID   uint64         `json:"type_id"`
	Owner    common.Address `json:"owner"`
	Quantity uint64         `json:"quantity"`
}

// OverpaymentPolicy selects where native value attached beyond the required
// price goes when a trade settles.
type OverpaymentPolicy string

const (
	// OverpaymentRefund credits the excess back to the buyer.
	OverpaymentRefund OverpaymentPolicy = "refund"
	// OverpaymentRetain credits the excess to the registry account.
	OverpaymentRetain OverpaymentPolicy = "retain"
)

// Deployment identifies the ledger's components by address.
type Deployment struct {
	ChainID        int64             `json:"chain_id"`
	Operator       common.Address    `json:"operator"`
	Registry       common.Address    `json:"registry"`
	Factory        common.Address    `json:"factory"`
	Project        common.Address    `json:"project"`
	AdminRouter    common.Address    `json:"admin_router"`
	TransferRouter common.Address    `json:"transfer_router"`
	NativeSymbol   string            `json:"native_symbol"`
	Overpayment    OverpaymentPolicy `json:"overpayment_policy"`
}
