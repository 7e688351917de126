package ledger

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

type balanceKey struct {
	typeID uint64
	owner  common.Address
}

// Store is one seller catalogue: its token types and the balances of minted
// units per (type, owner). It knows nothing about trades or pricing.
type Store struct {
	record   domain.StoreRecord
	types    []*domain.TokenType
	balances map[balanceKey]uint64
}

func newStore(record domain.StoreRecord) *Store {
	return &Store{
		record:   record,
		balances: make(map[balanceKey]uint64),
	}
}

// Record returns the store's identity and metadata.
func (s *Store) Record() domain.StoreRecord {
	return s.record
}

// TypeCount returns the number of token types allocated so far.
func (s *Store) TypeCount() uint64 {
	return uint64(len(s.types))
}

// TokenType returns a copy of the token type typeID.
func (s *Store) TokenType(typeID uint64) (domain.TokenType, error) {
	t, err := s.tokenType(typeID)
	if err != nil {
		return domain.TokenType{}, err
	}
	return cloneType(*t), nil
}

// BalanceOf returns owner's balance of typeID. Unknown types have zero
// balance for everyone.
func (s *Store) BalanceOf(typeID uint64, owner common.Address) uint64 {
	return s.balances[balanceKey{typeID: typeID, owner: owner}]
}

func (s *Store) tokenType(typeID uint64) (*domain.TokenType, error) {
	if typeID >= uint64(len(s.types)) {
		return nil, fmt.Errorf("%w: store %d type %d", domain.ErrTypeNotFound, s.record.StoreID, typeID)
	}
	return s.types[typeID], nil
}

// mintNew allocates the next type id, records uri and mints quantity units
// of it to owner.
func (s *Store) mintNew(tx *txn, quantity uint64, owner common.Address, uri string) (uint64, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("%w: mint of zero units", domain.ErrInvalidQuantity)
	}
	typeID := uint64(len(s.types))
	s.types = append(s.types, &domain.TokenType{
		StoreID: s.record.StoreID,
		TypeID:  typeID,
		URI:     uri,
	})
	tx.onRollback(func() {
		s.types = s.types[:len(s.types)-1]
	})
	if err := s.mintExisting(tx, typeID, quantity, owner); err != nil {
		return 0, err
	}
	return typeID, nil
}

// mintExisting mints quantity more units of an allocated type to owner.
func (s *Store) mintExisting(tx *txn, typeID, quantity uint64, owner common.Address) error {
	t, err := s.tokenType(typeID)
	if err != nil {
		return err
	}
	if quantity == 0 {
		return fmt.Errorf("%w: mint of zero units", domain.ErrInvalidQuantity)
	}
	if t.MintedSupply > math.MaxUint64-quantity {
		return fmt.Errorf("%w: supply of type %d would overflow", domain.ErrInvalidQuantity, typeID)
	}

	prevSupply := t.MintedSupply
	t.MintedSupply += quantity
	tx.onRollback(func() {
		t.MintedSupply = prevSupply
	})

	key := balanceKey{typeID: typeID, owner: owner}
	s.setBalance(tx, key, s.balances[key]+quantity)
	return nil
}

// transfer moves quantity units of typeID from one owner to another.
func (s *Store) transfer(tx *txn, typeID uint64, from, to common.Address, quantity uint64) error {
	if _, err := s.tokenType(typeID); err != nil {
		return err
	}
	fromKey := balanceKey{typeID: typeID, owner: from}
	have := s.balances[fromKey]
	if have < quantity {
		return fmt.Errorf("%w: %s holds %d of store %d type %d, needs %d",
			domain.ErrInsufficientBalance, from.Hex(), have, s.record.StoreID, typeID, quantity)
	}
	if from == to || quantity == 0 {
		return nil
	}
	toKey := balanceKey{typeID: typeID, owner: to}
	s.setBalance(tx, fromKey, have-quantity)
	s.setBalance(tx, toKey, s.balances[toKey]+quantity)
	return nil
}

func (s *Store) setTerms(tx *txn, typeID uint64, terms domain.ListingTerms) error {
	t, err := s.tokenType(typeID)
	if err != nil {
		return err
	}
	prev := t.Terms
	t.Terms = cloneTerms(terms)
	tx.onRollback(func() {
		t.Terms = prev
	})
	return nil
}

func (s *Store) setBalance(tx *txn, key balanceKey, qty uint64) {
	prev, had := s.balances[key]
	if qty == 0 {
		delete(s.balances, key)
	} else {
		s.balances[key] = qty
	}
	tx.onRollback(func() {
		if had {
			s.balances[key] = prev
		} else {
			delete(s.balances, key)
		}
	})
}

func cloneTerms(t domain.ListingTerms) domain.ListingTerms {
	if t.LotPrice != nil {
		t.LotPrice = new(big.Int).Set(t.LotPrice)
	}
	return t
}

func cloneType(t domain.TokenType) domain.TokenType {
	t.Terms = cloneTerms(t.Terms)
	return t
}
