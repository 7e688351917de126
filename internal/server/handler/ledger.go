package handler

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/service"
)

// LedgerAPI is what the ledger handlers need from the service layer.
type LedgerAPI interface {
	CreateStore(ctx context.Context, caller common.Address, meta domain.StoreMetadata) (uint64, error)
	MintAndListNewType(ctx context.Context, caller common.Address, args domain.MintNewTypeArgs) (typeID, tradeID uint64, err error)
	MintAndListExistingType(ctx context.Context, caller common.Address, args domain.MintExistingTypeArgs) (uint64, error)
	SetListingTerms(ctx context.Context, caller common.Address, args domain.ListingTermsArgs) error
	CompleteTrade(ctx context.Context, caller common.Address, args domain.TradeArgs) error
	CloseTrade(ctx context.Context, caller common.Address, tradeID uint64) error
	BatchCompleteTrade(ctx context.Context, caller common.Address, args domain.BatchTradeArgs) error
	BatchCloseTrade(ctx context.Context, caller common.Address, tradeIDs []uint64) error
	Deposit(ctx context.Context, caller common.Address, args domain.DepositArgs) error
	CreditToken(ctx context.Context, caller common.Address, args domain.CreditTokenArgs) error
	Approve(ctx context.Context, caller common.Address, args domain.ApproveArgs) error

	Deployment() domain.Deployment
	StoreInfo(storeID uint64) (domain.StoreRecord, error)
	StoreByAddress(addr common.Address) (domain.StoreRecord, error)
	Stores() []domain.StoreRecord
	TokenType(storeID, typeID uint64) (domain.TokenType, error)
	BalanceOf(storeID, typeID uint64, owner common.Address) (uint64, error)
	TradeInfo(tradeID uint64) (domain.Trade, error)
	OpenTradeIDs() []uint64
	OpenTradeIDsByStore(store common.Address) []uint64
	OpenTradesByStorePage(store common.Address, page, size uint64) []domain.Trade
	OpenTradesPage(page, size uint64) []domain.Trade
	Account(owner common.Address, tokens []common.Address) service.Account
	Status() service.Status
}

var _ LedgerAPI = (*service.LedgerService)(nil)

// LedgerHandler serves the store, trade and treasury endpoints.
type LedgerHandler struct {
	api             LedgerAPI
	defaultPageSize uint64
	logger          *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. defaultPageSize applies when a
// paged query omits size.
func NewLedgerHandler(api LedgerAPI, defaultPageSize uint64, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		api:             api,
		defaultPageSize: defaultPageSize,
		logger:          logger.With(slog.String("handler", "ledger")),
	}
}
