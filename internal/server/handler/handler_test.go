package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/server/middleware"
	"github.com/alanyoungcy/storeledger/internal/service"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	seller   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	storeA   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI implements only what each test exercises; other calls panic via
// the nil embedded interface.
type fakeAPI struct {
	LedgerAPI

	createCaller common.Address
	completeArgs domain.TradeArgs
	batchArgs    domain.BatchTradeArgs
	closedIDs    []uint64
	err          error
	trades       map[uint64]domain.Trade
	pageArgs     [2]uint64
}

func (f *fakeAPI) CreateStore(_ context.Context, caller common.Address, _ domain.StoreMetadata) (uint64, error) {
	f.createCaller = caller
	return 7, f.err
}

func (f *fakeAPI) StoreInfo(id uint64) (domain.StoreRecord, error) {
	if id != 7 {
		return domain.StoreRecord{}, domain.NewCallError("getStoreInfo", domain.ErrStoreNotFound)
	}
	return domain.StoreRecord{StoreID: 7, StoreAddress: storeA, Owner: seller}, nil
}

func (f *fakeAPI) TradeInfo(id uint64) (domain.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return domain.Trade{}, domain.NewCallError("getTradeInfoById", domain.ErrTradeNotFound)
	}
	return t, nil
}

func (f *fakeAPI) CompleteTrade(_ context.Context, _ common.Address, args domain.TradeArgs) error {
	f.completeArgs = args
	return f.err
}

func (f *fakeAPI) BatchCompleteTrade(_ context.Context, _ common.Address, args domain.BatchTradeArgs) error {
	f.batchArgs = args
	return f.err
}

func (f *fakeAPI) BatchCloseTrade(_ context.Context, _ common.Address, ids []uint64) error {
	f.closedIDs = ids
	return f.err
}

func (f *fakeAPI) OpenTradeIDs() []uint64 { return nil }

func (f *fakeAPI) OpenTradesPage(page, size uint64) []domain.Trade {
	f.pageArgs = [2]uint64{page, size}
	return []domain.Trade{f.trades[1]}
}

func (f *fakeAPI) Account(owner common.Address, tokens []common.Address) service.Account {
	return service.Account{Address: owner}
}

func newFake() *fakeAPI {
	return &fakeAPI{trades: map[uint64]domain.Trade{
		1: {TradeID: 1, StoreID: 7, StoreAddress: storeA, Seller: seller, Quantity: 5,
			UnitPriceTotal: big.NewInt(500), Status: domain.TradeStatusOpen},
	}}
}

// serve routes a single request through a mux with the given pattern,
// optionally as an authenticated caller.
func serve(t *testing.T, pattern string, fn http.HandlerFunc, method, target, body string, caller *common.Address) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, fn)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if caller != nil {
		req = req.WithContext(middleware.WithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateStore(t *testing.T) {
	api := newFake()
	h := NewLedgerHandler(api, 20, testLogger())

	rec := serve(t, "POST /api/stores", h.CreateStore, http.MethodPost, "/api/stores",
		`{"name":"Shop","symbol":"SHP"}`, &seller)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, seller, api.createCaller)
	body := decode(t, rec)
	assert.EqualValues(t, 7, body["store_id"])
	assert.Equal(t, strings.ToLower(storeA.Hex()), strings.ToLower(body["store_address"].(string)))
}

func TestCreateStoreRequiresCaller(t *testing.T) {
	h := NewLedgerHandler(newFake(), 20, testLogger())
	rec := serve(t, "POST /api/stores", h.CreateStore, http.MethodPost, "/api/stores", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateStoreRejectsUnknownFields(t *testing.T) {
	h := NewLedgerHandler(newFake(), 20, testLogger())
	rec := serve(t, "POST /api/stores", h.CreateStore, http.MethodPost, "/api/stores", `{"owner":"x"}`, &seller)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStoreNotFound(t *testing.T) {
	h := NewLedgerHandler(newFake(), 20, testLogger())
	rec := serve(t, "GET /api/stores/{storeId}", h.GetStore, http.MethodGet, "/api/stores/9", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "store_not_found", body["kind"])
	assert.Equal(t, "getStoreInfo", body["op"])
	assert.NotContains(t, body, "index")
}

func TestGetTradeBadID(t *testing.T) {
	h := NewLedgerHandler(newFake(), 20, testLogger())
	rec := serve(t, "GET /api/trades/{tradeId}", h.GetTrade, http.MethodGet, "/api/trades/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteTradeWithoutBody(t *testing.T) {
	api := newFake()
	h := NewLedgerHandler(api, 20, testLogger())

	rec := serve(t, "POST /api/trades/{tradeId}/complete", h.CompleteTrade,
		http.MethodPost, "/api/trades/1/complete", "", &seller)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TradeArgs{TradeID: 1}, api.completeArgs)
	assert.EqualValues(t, 1, decode(t, rec)["trade_id"])
}

func TestCompleteTradePaymentError(t *testing.T) {
	api := newFake()
	api.err = domain.NewCallError("completeTrade", domain.ErrInsufficientPayment)
	h := NewLedgerHandler(api, 20, testLogger())

	rec := serve(t, "POST /api/trades/{tradeId}/complete", h.CompleteTrade,
		http.MethodPost, "/api/trades/1/complete", `{"payment":"10"}`, &seller)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "10", api.completeArgs.Payment)
	assert.Equal(t, "insufficient_payment", decode(t, rec)["kind"])
}

func TestBatchCompleteReportsIndex(t *testing.T) {
	api := newFake()
	api.err = &domain.CallError{Op: "batchCompleteTrade", Index: 2, Err: domain.ErrTradeNotOpen}
	h := NewLedgerHandler(api, 20, testLogger())

	rec := serve(t, "POST /api/trades/batch/complete", h.BatchCompleteTrade,
		http.MethodPost, "/api/trades/batch/complete", `{"trade_ids":[1,2,3],"payment":"900"}`, &seller)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []uint64{1, 2, 3}, api.batchArgs.TradeIDs)
	body := decode(t, rec)
	assert.Equal(t, "trade_not_open", body["kind"])
	assert.EqualValues(t, 2, body["index"])
}

func TestBatchCloseRejectsPayment(t *testing.T) {
	api := newFake()
	h := NewLedgerHandler(api, 20, testLogger())

	rec := serve(t, "POST /api/trades/batch/close", h.BatchCloseTrade,
		http.MethodPost, "/api/trades/batch/close", `{"trade_ids":[1],"payment":"1"}`, &seller)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, api.closedIDs)
}

func TestListOpenTrades(t *testing.T) {
	api := newFake()
	h := NewLedgerHandler(api, 20, testLogger())

	t.Run("ids", func(t *testing.T) {
		rec := serve(t, "GET /api/trades/open", h.ListOpenTrades, http.MethodGet, "/api/trades/open", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{}, decode(t, rec)["trade_ids"])
	})

	t.Run("page defaults size", func(t *testing.T) {
		rec := serve(t, "GET /api/trades/open", h.ListOpenTrades, http.MethodGet, "/api/trades/open?page=2", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, [2]uint64{2, 20}, api.pageArgs)
		trades := decode(t, rec)["trades"].([]any)
		assert.Len(t, trades, 1)
	})

	t.Run("bad page", func(t *testing.T) {
		rec := serve(t, "GET /api/trades/open", h.ListOpenTrades, http.MethodGet, "/api/trades/open?page=-1", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetAccountRejectsBadToken(t *testing.T) {
	h := NewLedgerHandler(newFake(), 20, testLogger())
	rec := serve(t, "GET /api/treasury/{address}", h.GetAccount, http.MethodGet,
		"/api/treasury/"+seller.Hex()+"?tokens=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeStatus struct{ dep domain.Deployment }

func (f fakeStatus) Deployment() domain.Deployment { return f.dep }
func (f fakeStatus) Status() service.Status        { return service.Status{} }

type fakeSnapshots struct{ calls int }

func (f *fakeSnapshots) Snapshot(context.Context, bool) (string, error) {
	f.calls++
	return "snapshots/ledger-00000000000000000003.json", nil
}

func TestTriggerSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{}
	h := NewHealthHandler(fakeStatus{dep: domain.Deployment{Operator: operator}}, snaps, testLogger())

	rec := serve(t, "POST /api/snapshots", h.TriggerSnapshot, http.MethodPost, "/api/snapshots", "", &seller)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, snaps.calls)

	rec = serve(t, "POST /api/snapshots", h.TriggerSnapshot, http.MethodPost, "/api/snapshots", "", &operator)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, snaps.calls)
	assert.Contains(t, decode(t, rec)["path"], "ledger-")
}

func TestTriggerSnapshotWithoutArchive(t *testing.T) {
	h := NewHealthHandler(fakeStatus{dep: domain.Deployment{Operator: operator}}, nil, testLogger())
	rec := serve(t, "POST /api/snapshots", h.TriggerSnapshot, http.MethodPost, "/api/snapshots", "", &operator)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

type fakeTrades struct {
	domain.TradeStore
	role string
}

func (f *fakeTrades) ListBySeller(context.Context, common.Address, domain.ListOpts) ([]domain.Trade, error) {
	f.role = "seller"
	return nil, nil
}

func (f *fakeTrades) ListByBuyer(context.Context, common.Address, domain.ListOpts) ([]domain.Trade, error) {
	f.role = "buyer"
	return nil, nil
}

func TestListAccountTradesRole(t *testing.T) {
	trades := &fakeTrades{}
	h := NewHistoryHandler(trades, nil, testLogger())
	pattern := "GET /api/accounts/{address}/trades"

	rec := serve(t, pattern, h.ListAccountTrades, http.MethodGet, "/api/accounts/"+seller.Hex()+"/trades?role=buyer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer", trades.role)
	assert.Equal(t, []any{}, decode(t, rec)["trades"])

	rec = serve(t, pattern, h.ListAccountTrades, http.MethodGet, "/api/accounts/"+seller.Hex()+"/trades", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seller", trades.role)

	rec = serve(t, pattern, h.ListAccountTrades, http.MethodGet, "/api/accounts/"+seller.Hex()+"/trades?role=owner", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeAudit struct {
	domain.AuditStore
	filter domain.AuditFilter
}

func (f *fakeAudit) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	f.filter = filter
	return []domain.AuditEntry{{Seq: 3, Op: domain.OpCloseTrade, Caller: seller}}, nil
}

func TestListAuditFilters(t *testing.T) {
	audit := &fakeAudit{}
	h := NewHistoryHandler(nil, audit, testLogger())

	rec := serve(t, "GET /api/audit", h.ListAudit, http.MethodGet,
		"/api/audit?op=close_trade&caller="+seller.Hex()+"&limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OpCloseTrade, audit.filter.Op)
	require.NotNil(t, audit.filter.Caller)
	assert.Equal(t, seller, *audit.filter.Caller)
	assert.Equal(t, 2, audit.filter.Limit)
	assert.Len(t, decode(t, rec)["entries"], 1)

	rec = serve(t, "GET /api/audit", h.ListAudit, http.MethodGet, "/api/audit?caller=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=9999&offset=5", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 5, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/x?limit=abc", nil)
	assert.Equal(t, 50, parseListOpts(req).Limit)
}

func TestReady(t *testing.T) {
	h := NewHealthHandler(fakeStatus{}, nil, testLogger()).WithChecks(map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
	})
	rec := serve(t, "GET /api/ready", h.Ready, http.MethodGet, "/api/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.WithChecks(map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("redis: ping: refused") },
	})
	rec = serve(t, "GET /api/ready", h.Ready, http.MethodGet, "/api/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])
	assert.Contains(t, checks["redis"], "refused")
}
