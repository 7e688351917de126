package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CommandOp names a mutating ledger operation.
type CommandOp string

const (
	OpCreateStore         CommandOp = "create_store"
	OpMintAndListNewType  CommandOp = "mint_and_list_new_type"
	OpMintAndListExisting CommandOp = "mint_and_list_existing_type"
	OpSetListingTerms     CommandOp = "set_listing_terms"
	OpCompleteTrade       CommandOp = "complete_trade"
	OpCloseTrade          CommandOp = "close_trade"
	OpBatchCompleteTrade  CommandOp = "batch_complete_trade"
	OpBatchCloseTrade     CommandOp = "batch_close_trade"
	OpDeposit             CommandOp = "deposit"
	OpApprove             CommandOp = "approve"
	OpCreditToken         CommandOp = "credit_token"
)

// Command is one committed mutating call. The journal of commands, replayed
// in Seq order with the clock pinned to Time, reproduces the ledger state.
type Command struct {
	Seq    uint64          `json:"seq"`
	ID     string          `json:"id"`
	Op     CommandOp       `json:"op"`
	Caller common.Address  `json:"caller"`
	Args   json.RawMessage `json:"args"`
	Time   time.Time       `json:"time"`
}

// CommandResult carries the identifiers allocated by a command.
type CommandResult struct {
	StoreID uint64 `json:"store_id,omitempty"`
	TypeID  uint64 `json:"type_id,omitempty"`
	TradeID uint64 `json:"trade_id,omitempty"`
}

// Journalled argument shapes. Amounts are decimal strings so the journal
// round-trips values wider than 64 bits.

type CreateStoreArgs struct {
	StoreMetadata
}

type MintNewTypeArgs struct {
	StoreID      uint64         `json:"store_id"`
	URI          string         `json:"uri"`
	Quantity     uint64         `json:"quantity"`
	Price        string         `json:"unit_price_total"`
	PaymentToken common.Address `json:"payment_token"`
	Expiration   uint64         `json:"expiration"`
}

type MintExistingTypeArgs struct {
	StoreID  uint64 `json:"store_id"`
	TypeID   uint64 `json:"type_id"`
	Quantity uint64 `json:"quantity"`
}

type ListingTermsArgs struct {
	StoreID      uint64         `json:"store_id"`
	TypeID       uint64         `json:"type_id"`
	PaymentToken common.Address `json:"payment_token"`
	LotPrice     string         `json:"lot_price"`
	LotQuantity  uint64         `json:"lot_quantity"`
	Expiration   uint64         `json:"expiration"`
}

type TradeArgs struct {
	TradeID uint64 `json:"trade_id"`
	Payment string `json:"payment,omitempty"`
}

type BatchTradeArgs struct {
	TradeIDs []uint64 `json:"trade_ids"`
	Payment  string   `json:"payment,omitempty"`
}

type DepositArgs struct {
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type CreditTokenArgs struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type ApproveArgs struct {
	Token  common.Address `json:"token"`
	Amount string         `json:"amount"`
}
