package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

type pageResponse struct {
	Page   uint64         `json:"page"`
	Size   uint64         `json:"size"`
	Trades []domain.Trade `json:"trades"`
}

type tradeIDsResponse struct {
	TradeIDs []uint64 `json:"trade_ids"`
}

func idsResponse(ids []uint64) tradeIDsResponse {
	if ids == nil {
		ids = []uint64{}
	}
	return tradeIDsResponse{TradeIDs: ids}
}

// pageParams reads page (1-based, default 1) and size.
func (h *LedgerHandler) pageParams(r *http.Request) (page, size uint64, err error) {
	if page, err = queryUint(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if size, err = queryUint(r, "size", h.defaultPageSize); err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func (h *LedgerHandler) writePage(w http.ResponseWriter, page, size uint64, trades []domain.Trade) {
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, pageResponse{Page: page, Size: size, Trades: trades})
}

// GetTrade returns a trade by id.
// GET /api/trades/{tradeId}
func (h *LedgerHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "tradeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.api.TradeInfo(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListOpenTrades returns all open trade ids, or one page of open trades
// when page or size is given.
// GET /api/trades/open[?page=&size=]
func (h *LedgerHandler) ListOpenTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("page") && !q.Has("size") {
		writeJSON(w, http.StatusOK, idsResponse(h.api.OpenTradeIDs()))
		return
	}
	page, size, err := h.pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writePage(w, page, size, h.api.OpenTradesPage(page, size))
}

// ListStoreOpenTrades returns the open trade ids of one store.
// GET /api/markets/{storeAddress}/open
func (h *LedgerHandler) ListStoreOpenTrades(w http.ResponseWriter, r *http.Request) {
	store, ok := h.storeAddress(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, idsResponse(h.api.OpenTradeIDsByStore(store)))
}

// ListStoreOpenTradesPage returns one page of a store's open trades.
// GET /api/markets/{storeAddress}/open/page?page=&size=
func (h *LedgerHandler) ListStoreOpenTradesPage(w http.ResponseWriter, r *http.Request) {
	store, ok := h.storeAddress(w, r)
	if !ok {
		return
	}
	page, size, err := h.pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writePage(w, page, size, h.api.OpenTradesByStorePage(store, page, size))
}

// storeAddress parses the storeAddress path value. Unknown stores have no
// open trades rather than being an error.
func (h *LedgerHandler) storeAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := addressParam(r, "storeAddress")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, false
	}
	return addr, true
}

type completeRequest struct {
	Payment string `json:"payment"`
}

// CompleteTrade buys an open trade as the caller.
// POST /api/trades/{tradeId}/complete
func (h *LedgerHandler) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := uintParam(r, "tradeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body completeRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.api.CompleteTrade(r.Context(), caller, domain.TradeArgs{TradeID: id, Payment: body.Payment}); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeTrade(w, r, id)
}

// CloseTrade withdraws an open trade.
// POST /api/trades/{tradeId}/close
func (h *LedgerHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := uintParam(r, "tradeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.api.CloseTrade(r.Context(), caller, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeTrade(w, r, id)
}

func (h *LedgerHandler) writeTrade(w http.ResponseWriter, r *http.Request, id uint64) {
	t, err := h.api.TradeInfo(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type batchRequest struct {
	TradeIDs []uint64 `json:"trade_ids"`
	Payment  string   `json:"payment,omitempty"`
}

// BatchCompleteTrade buys every listed trade or none of them.
// POST /api/trades/batch/complete
func (h *LedgerHandler) BatchCompleteTrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var body batchRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.api.BatchCompleteTrade(r.Context(), caller, domain.BatchTradeArgs{TradeIDs: body.TradeIDs, Payment: body.Payment}); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "trade_ids": body.TradeIDs})
}

// BatchCloseTrade closes every listed trade or none of them.
// POST /api/trades/batch/close
func (h *LedgerHandler) BatchCloseTrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var body batchRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Payment != "" {
		writeError(w, http.StatusBadRequest, "payment is not accepted when closing trades")
		return
	}
	if err := h.api.BatchCloseTrade(r.Context(), caller, body.TradeIDs); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed", "trade_ids": body.TradeIDs})
}
