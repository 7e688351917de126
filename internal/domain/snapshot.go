package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotVersion is the current LedgerSnapshot schema version.
const SnapshotVersion = 1

// LedgerSnapshot is a complete, deterministic image of ledger state after
// the command with sequence Seq was applied.
type LedgerSnapshot struct {
	Version     int                 `json:"version"`
	Seq         uint64              `json:"seq"`
	TakenAt     time.Time           `json:"taken_at"`
	NextTradeID uint64              `json:"next_trade_id"`
	Stores      []StoreSnapshot     `json:"stores"`
	Trades      []Trade             `json:"trades"`
	OpenTrades  []uint64            `json:"open_trades"`
	OpenByStore map[uint64][]uint64 `json:"open_by_store"`
	Treasury    TreasurySnapshot    `json:"treasury"`
}

// StoreSnapshot holds one store with its types and non-zero balances.
type StoreSnapshot struct {
	Record   StoreRecord `json:"record"`
	Types    []TokenType `json:"types"`
	Balances []Balance   `json:"balances"`
}

// TreasurySnapshot holds all non-zero payment accounts.
type TreasurySnapshot struct {
	Native     []Holding `json:"native"`
	Tokens     []Holding `json:"tokens"`
	Allowances []Holding `json:"allowances"`
}

// Holding is an amount of a payment token held (or, for allowances,
// authorised) by an owner. Token is NativeToken for native accounts.
type Holding struct {
	Token  common.Address `json:"token"`
	Owner  common.Address `json:"owner"`
	Amount *big.Int       `json:"amount"`
}
