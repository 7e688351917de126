package domain

import (
	"errors"
	"fmt"
)

// Ledger error kinds. Every failed ledger call wraps exactly one of these.
var (
	ErrStoreNotFound       = errors.New("store not found")
	ErrTypeNotFound        = errors.New("token type not found")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTradeNotOpen        = errors.New("trade not open")
	ErrTradeExpired        = errors.New("trade expired")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrContextDone  = errors.New("context cancelled")
	ErrJournalGap   = errors.New("command journal gap")
	ErrBadSignature = errors.New("bad request signature")
)

// CallError describes a rejected ledger call. Index is the position of the
// failing element for batch operations and -1 otherwise.
type CallError struct {
	Op    string
	Index int
	Err   error
}

func (e *CallError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError wraps err for a non-batch operation.
func NewCallError(op string, err error) *CallError {
	return &CallError{Op: op, Index: -1, Err: err}
}

// IsLedgerError reports whether err carries one of the ledger error kinds,
// i.e. the call was rejected by the ledger rather than failing in transport
// or persistence.
func IsLedgerError(err error) bool {
	for _, kind := range []error{
		ErrStoreNotFound, ErrTypeNotFound, ErrTradeNotFound,
		ErrInvalidQuantity, ErrInsufficientBalance, ErrInsufficientPayment,
		ErrInsufficientFunds, ErrTradeNotOpen, ErrTradeExpired,
		ErrUnauthorized, ErrInvalidArgument,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
