package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

var _ domain.TradeStore = (*TradeStore)(nil)

// TradeStore implements domain.TradeStore using PostgreSQL. Rows are a
// projection of ledger trades keyed by trade id.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Wide integers travel as text so uint64 and 256-bit values survive.
const tradeSelectCols = `trade_id, store_id, store_address, type_id, seller,
	quantity::text, unit_price_total::text, payment_token, expiration::text,
	status, buyer, created_at, settled_at`

// tradeRow mirrors the trades table before conversion to domain types.
type tradeRow struct {
	tradeID, storeID, typeID int64
	storeAddress, seller     string
	quantity, price, expiry  string
	paymentToken, status     string
	buyer                    *string
	createdAt                time.Time
	settledAt                *time.Time
}

func (r tradeRow) toDomain() (domain.Trade, error) {
	qty, err := strconv.ParseUint(r.quantity, 10, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("quantity %q: %w", r.quantity, err)
	}
	exp, err := strconv.ParseUint(r.expiry, 10, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("expiration %q: %w", r.expiry, err)
	}
	price, ok := new(big.Int).SetString(r.price, 10)
	if !ok {
		return domain.Trade{}, fmt.Errorf("unit_price_total %q is not an integer", r.price)
	}

	t := domain.Trade{
		TradeID:        uint64(r.tradeID),
		StoreID:        uint64(r.storeID),
		StoreAddress:   common.HexToAddress(r.storeAddress),
		TypeID:         uint64(r.typeID),
		Seller:         common.HexToAddress(r.seller),
		Quantity:       qty,
		UnitPriceTotal: price,
		PaymentToken:   common.HexToAddress(r.paymentToken),
		Expiration:     exp,
		Status:         domain.TradeStatus(r.status),
		CreatedAt:      r.createdAt.UTC(),
	}
	if r.buyer != nil {
		b := common.HexToAddress(*r.buyer)
		t.Buyer = &b
	}
	if r.settledAt != nil {
		at := r.settledAt.UTC()
		t.SettledAt = &at
	}
	return t, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var r tradeRow
	if err := row.Scan(
		&r.tradeID, &r.storeID, &r.storeAddress, &r.typeID, &r.seller,
		&r.quantity, &r.price, &r.paymentToken, &r.expiry,
		&r.status, &r.buyer, &r.createdAt, &r.settledAt,
	); err != nil {
		return domain.Trade{}, err
	}
	return r.toDomain()
}

// Upsert writes the current state of a trade. Status only moves forward:
// a settled row is never overwritten by a stale open one.
func (s *TradeStore) Upsert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			trade_id, store_id, store_address, type_id, seller,
			quantity, unit_price_total, payment_token, expiration,
			status, buyer, created_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8, $9::numeric,
			$10, $11, $12, $13
		)
		ON CONFLICT (trade_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit_price_total = EXCLUDED.unit_price_total,
			payment_token = EXCLUDED.payment_token,
			expiration = EXCLUDED.expiration,
			status = EXCLUDED.status,
			buyer = EXCLUDED.buyer,
			settled_at = EXCLUDED.settled_at,
			updated_at = NOW()
		WHERE trades.status = 'open'`

	var buyer *string
	if t.Buyer != nil {
		b := t.Buyer.Hex()
		buyer = &b
	}
	price := "0"
	if t.UnitPriceTotal != nil {
		price = t.UnitPriceTotal.String()
	}

	if _, err := s.pool.Exec(ctx, query,
		int64(t.TradeID), int64(t.StoreID), t.StoreAddress.Hex(), int64(t.TypeID), t.Seller.Hex(),
		strconv.FormatUint(t.Quantity, 10), price, t.PaymentToken.Hex(), strconv.FormatUint(t.Expiration, 10),
		string(t.Status), buyer, t.CreatedAt, t.SettledAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert trade %d: %w", t.TradeID, err)
	}
	return nil
}

// GetByID returns a trade by id, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, tradeID uint64) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE trade_id = $1`, int64(tradeID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %d: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %d: %w", tradeID, err)
	}
	return t, nil
}

// ListBySeller returns trades listed by seller, newest first.
func (s *TradeStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE seller = $1`,
		[]any{seller.Hex()}, "created_at", opts)
	return s.list(ctx, "seller", query, args)
}

// ListByBuyer returns trades completed by buyer, most recently settled first.
func (s *TradeStore) ListByBuyer(ctx context.Context, buyer common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE buyer = $1`,
		[]any{buyer.Hex()}, "settled_at", opts)
	return s.list(ctx, "buyer", query, args)
}

func (s *TradeStore) list(ctx context.Context, by, query string, args []any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s: %w", by, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s rows: %w", by, err)
	}
	return trades, nil
}
