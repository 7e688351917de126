package handler

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Deposit credits native value to an account. Operator only.
// POST /api/treasury/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var args domain.DepositArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.api.Deposit(r.Context(), caller, args); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.api.Account(args.To, nil))
}

// CreditToken credits a payment token balance. Operator only.
// POST /api/treasury/credit
func (h *LedgerHandler) CreditToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var args domain.CreditTokenArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.api.CreditToken(r.Context(), caller, args); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.api.Account(args.To, []common.Address{args.Token}))
}

// Approve sets how much of a token the registry may pull from the caller.
// POST /api/treasury/approve
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var args domain.ApproveArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.api.Approve(r.Context(), caller, args); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.api.Account(caller, []common.Address{args.Token}))
}

// GetAccount returns an address's native balance and, for each token in
// the comma-separated tokens query, its balance and allowance.
// GET /api/treasury/{address}?tokens=0x..,0x..
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var tokens []common.Address
	if raw := r.URL.Query().Get("tokens"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if !common.IsHexAddress(t) {
				writeError(w, http.StatusBadRequest, "invalid token "+t)
				return
			}
			tokens = append(tokens, common.HexToAddress(t))
		}
	}
	writeJSON(w, http.StatusOK, h.api.Account(owner, tokens))
}
