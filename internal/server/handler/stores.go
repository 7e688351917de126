package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

type createStoreResponse struct {
	StoreID      uint64         `json:"store_id"`
	StoreAddress common.Address `json:"store_address"`
}

// CreateStore registers a store owned by the caller.
// POST /api/stores
func (h *LedgerHandler) CreateStore(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var meta domain.StoreMetadata
	if err := decodeBody(r, &meta, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.api.CreateStore(r.Context(), caller, meta)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	rec, err := h.api.StoreInfo(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createStoreResponse{StoreID: id, StoreAddress: rec.StoreAddress})
}

// ListStores returns every store in id order.
// GET /api/stores
func (h *LedgerHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores := h.api.Stores()
	if stores == nil {
		stores = []domain.StoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
}

// GetStore returns a store's metadata.
// GET /api/stores/{storeId}
func (h *LedgerHandler) GetStore(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.api.StoreInfo(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// MintNewType mints a new token type to the caller and lists all of it.
// POST /api/stores/{storeId}/types
func (h *LedgerHandler) MintNewType(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	storeID, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var args domain.MintNewTypeArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	args.StoreID = storeID

	typeID, tradeID, err := h.api.MintAndListNewType(r.Context(), caller, args)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"type_id": typeID, "trade_id": tradeID})
}

// MintExistingType mints more of an existing type and lists it under the
// type's stored terms.
// POST /api/stores/{storeId}/types/{typeId}/listings
func (h *LedgerHandler) MintExistingType(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	storeID, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typeID, err := uintParam(r, "typeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var args domain.MintExistingTypeArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	args.StoreID, args.TypeID = storeID, typeID

	tradeID, err := h.api.MintAndListExistingType(r.Context(), caller, args)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"trade_id": tradeID})
}

// SetListingTerms replaces a type's default listing terms.
// PUT /api/stores/{storeId}/types/{typeId}/terms
func (h *LedgerHandler) SetListingTerms(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	storeID, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typeID, err := uintParam(r, "typeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var args domain.ListingTermsArgs
	if err := decodeBody(r, &args, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	args.StoreID, args.TypeID = storeID, typeID

	if err := h.api.SetListingTerms(r.Context(), caller, args); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	tt, err := h.api.TokenType(storeID, typeID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// GetTokenType returns a type's supply, URI and listing terms.
// GET /api/stores/{storeId}/types/{typeId}
func (h *LedgerHandler) GetTokenType(w http.ResponseWriter, r *http.Request) {
	storeID, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typeID, err := uintParam(r, "typeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tt, err := h.api.TokenType(storeID, typeID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// GetBalance returns how many units of a type owner holds.
// GET /api/stores/{storeId}/types/{typeId}/balances/{owner}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	storeID, err := uintParam(r, "storeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typeID, err := uintParam(r, "typeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	qty, err := h.api.BalanceOf(storeID, typeID, owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Balance{StoreID: storeID, TypeID: typeID, Owner: owner, Quantity: qty})
}
