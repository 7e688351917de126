package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CommandStore persists the append-only command journal.
type CommandStore interface {
	Append(ctx context.Context, cmd Command) error
	ListAfter(ctx context.Context, seq uint64, limit int) ([]Command, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// TradeStore persists a queryable projection of trades.
type TradeStore interface {
	Upsert(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, tradeID uint64) (Trade, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Trade, error)
	ListByBuyer(ctx context.Context, buyer common.Address, opts ListOpts) ([]Trade, error)
}

// AuditEntry records one committed command and the events it emitted.
type AuditEntry struct {
	Seq       uint64          `json:"seq"`
	CommandID string          `json:"command_id"`
	Op        CommandOp       `json:"op"`
	Caller    common.Address  `json:"caller"`
	Events    []EventKind     `json:"events"`
	Args      json.RawMessage `json:"args"`
	At        time.Time       `json:"at"`
}

// AuditFilter narrows an audit listing. Zero fields match everything.
type AuditFilter struct {
	Op     CommandOp
	Caller *common.Address
	ListOpts
}

// AuditStore persists an append-only audit log keyed by journal seq.
// Recording the same seq twice keeps the first row.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	// MissingSeqs returns, ascending, up to limit seqs in [from, to] that
	// have no row.
	MissingSeqs(ctx context.Context, from, to uint64, limit int) ([]uint64, error)
}
