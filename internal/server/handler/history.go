package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// HistoryHandler serves queries over the persisted trade projection and
// the audit log.
type HistoryHandler struct {
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("handler", "history")),
	}
}

// ListAccountTrades returns trades an address sold (role=seller, default)
// or bought (role=buyer).
// GET /api/accounts/{address}/trades?role=&limit=&offset=
func (h *HistoryHandler) ListAccountTrades(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)

	var trades []domain.Trade
	switch role := r.URL.Query().Get("role"); role {
	case "", "seller":
		trades, err = h.trades.ListBySeller(r.Context(), addr, opts)
	case "buyer":
		trades, err = h.trades.ListByBuyer(r.Context(), addr, opts)
	default:
		writeError(w, http.StatusBadRequest, "role must be seller or buyer")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListAudit returns committed commands, newest first.
// GET /api/audit?op=&caller=&limit=&offset=
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		Op:       domain.CommandOp(q.Get("op")),
		ListOpts: parseListOpts(r),
	}
	if raw := q.Get("caller"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid caller address")
			return
		}
		caller := common.HexToAddress(raw)
		filter.Caller = &caller
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
