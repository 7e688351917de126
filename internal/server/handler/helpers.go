package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Op    string `json:"op,omitempty"`
	Index *int   `json:"index,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorKinds maps error sentinels to their status code and wire name.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{domain.ErrStoreNotFound, http.StatusNotFound, "store_not_found"},
	{domain.ErrTypeNotFound, http.StatusNotFound, "type_not_found"},
	{domain.ErrTradeNotFound, http.StatusNotFound, "trade_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrTradeNotOpen, http.StatusBadRequest, "trade_not_open"},
	{domain.ErrTradeExpired, http.StatusBadRequest, "trade_expired"},
	{domain.ErrInsufficientPayment, http.StatusPaymentRequired, "insufficient_payment"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrContextDone, http.StatusServiceUnavailable, "unavailable"},
}

// writeServiceError maps err to a status code. Ledger rejections carry
// their kind, operation and batch index; anything else is logged and
// reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		resp := errorResponse{Error: err.Error(), Kind: k.kind}
		var ce *domain.CallError
		if errors.As(err, &ce) {
			resp.Op = ce.Op
			if ce.Index >= 0 {
				idx := ce.Index
				resp.Index = &idx
			}
		}
		writeJSON(w, k.status, resp)
		return
	}
	logger.ErrorContext(r.Context(), "handler: request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a JSON body into v, rejecting unknown fields. An empty
// body leaves v untouched when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return v, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := r.PathValue(name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// queryUint reads an unsigned query parameter, returning def when absent.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// parseListOpts extracts limit/offset for projection queries.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// requireCaller returns the authenticated caller or writes 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
	}
	return caller, ok
}
