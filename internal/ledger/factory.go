package ledger

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Factory creates stores and runs the combined mint-and-list workflow, so
// minted inventory always enters the registry's indices in the same call.
type Factory struct {
	address   common.Address
	stores    []*Store
	byAddress map[common.Address]uint64
	registry  *Registry
}

func newFactory(address common.Address) *Factory {
	return &Factory{
		address:   address,
		byAddress: make(map[common.Address]uint64),
	}
}

// StoreAddress derives the handle of store storeID the way a contract
// factory's deployments are addressed: from the factory address and the
// creation nonce.
func StoreAddress(factory common.Address, storeID uint64) common.Address {
	return ethcrypto.CreateAddress(factory, storeID)
}

func (f *Factory) storeByID(storeID uint64) (*Store, error) {
	if storeID >= uint64(len(f.stores)) {
		return nil, fmt.Errorf("%w: %d", domain.ErrStoreNotFound, storeID)
	}
	return f.stores[storeID], nil
}

func (f *Factory) storeByAddress(addr common.Address) (*Store, error) {
	id, ok := f.byAddress[addr]
	if !ok {
		return nil, fmt.Errorf("%w: address %s", domain.ErrStoreNotFound, addr.Hex())
	}
	return f.stores[id], nil
}

func (f *Factory) createStore(tx *txn, owner common.Address, meta domain.StoreMetadata) (uint64, error) {
	storeID := uint64(len(f.stores))
	record := domain.StoreRecord{
		StoreID:       storeID,
		StoreAddress:  StoreAddress(f.address, storeID),
		Owner:         owner,
		StoreMetadata: meta,
		CreatedAt:     tx.now,
	}
	f.stores = append(f.stores, newStore(record))
	f.byAddress[record.StoreAddress] = storeID
	tx.onRollback(func() {
		f.stores = f.stores[:len(f.stores)-1]
		delete(f.byAddress, record.StoreAddress)
	})

	tx.emit(domain.EventStoreCreated, map[string]string{
		"store_id":      strconv.FormatUint(storeID, 10),
		"store_address": record.StoreAddress.Hex(),
		"owner":         owner.Hex(),
		"name":          meta.Name,
		"symbol":        meta.Symbol,
	})
	return storeID, nil
}

func (f *Factory) mintAndListNewType(
	tx *txn,
	seller common.Address,
	storeID uint64,
	uri string,
	quantity uint64,
	price *big.Int,
	paymentToken common.Address,
	expiration uint64,
) (typeID, tradeID uint64, err error) {
	store, err := f.storeByID(storeID)
	if err != nil {
		return 0, 0, err
	}
	typeID, err = store.mintNew(tx, quantity, seller, uri)
	if err != nil {
		return 0, 0, err
	}
	terms := domain.ListingTerms{
		PaymentToken: paymentToken,
		LotPrice:     price,
		LotQuantity:  quantity,
	}
	if err := store.setTerms(tx, typeID, terms); err != nil {
		return 0, 0, err
	}
	f.emitMinted(tx, store, typeID, seller, quantity, uri)

	tradeID, err = f.registry.createTrade(tx, store.Record(), typeID, seller, quantity, price, paymentToken, expiration)
	if err != nil {
		return 0, 0, err
	}
	return typeID, tradeID, nil
}

func (f *Factory) mintAndListExistingType(tx *txn, seller common.Address, storeID, typeID, quantity uint64) (uint64, error) {
	store, err := f.storeByID(storeID)
	if err != nil {
		return 0, err
	}
	tt, err := store.tokenType(typeID)
	if err != nil {
		return 0, err
	}
	terms := cloneTerms(tt.Terms)
	if err := store.mintExisting(tx, typeID, quantity, seller); err != nil {
		return 0, err
	}
	f.emitMinted(tx, store, typeID, seller, quantity, tt.URI)

	return f.registry.createTrade(tx, store.Record(), typeID, seller, quantity,
		terms.PriceFor(quantity), terms.PaymentToken, terms.Expiration)
}

// setListingTerms replaces a type's default listing terms. Only the store
// owner may change them.
func (f *Factory) setListingTerms(tx *txn, caller common.Address, storeID, typeID uint64, terms domain.ListingTerms) error {
	store, err := f.storeByID(storeID)
	if err != nil {
		return err
	}
	if caller != store.Record().Owner {
		return fmt.Errorf("%w: %s does not own store %d", domain.ErrUnauthorized, caller.Hex(), storeID)
	}
	if terms.LotQuantity == 0 {
		return fmt.Errorf("%w: lot quantity must be positive", domain.ErrInvalidQuantity)
	}
	if terms.LotPrice == nil {
		terms.LotPrice = new(big.Int)
	}
	if err := store.setTerms(tx, typeID, terms); err != nil {
		return err
	}
	tx.emit(domain.EventTermsUpdated, map[string]string{
		"store_id":      strconv.FormatUint(storeID, 10),
		"type_id":       strconv.FormatUint(typeID, 10),
		"payment_token": terms.PaymentToken.Hex(),
		"lot_price":     terms.LotPrice.String(),
		"lot_quantity":  strconv.FormatUint(terms.LotQuantity, 10),
		"expiration":    strconv.FormatUint(terms.Expiration, 10),
	})
	return nil
}

func (f *Factory) emitMinted(tx *txn, store *Store, typeID uint64, owner common.Address, quantity uint64, uri string) {
	tt, _ := store.tokenType(typeID)
	tx.emit(domain.EventTypeMinted, map[string]string{
		"store_id":      strconv.FormatUint(store.record.StoreID, 10),
		"type_id":       strconv.FormatUint(typeID, 10),
		"owner":         owner.Hex(),
		"quantity":      strconv.FormatUint(quantity, 10),
		"minted_supply": strconv.FormatUint(tt.MintedSupply, 10),
		"uri":           uri,
	})
}
