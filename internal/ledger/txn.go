package ledger

import (
	"time"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// txn is the unit of atomicity. Every mutation registers its inverse with
// onRollback; rolling back runs the inverses newest-first, so each one sees
// exactly the state its forward step produced.
type txn struct {
	now    time.Time
	undo   []func()
	events []domain.Event
}

type savepoint struct {
	undo   int
	events int
}

func newTxn(now time.Time) *txn {
	return &txn{now: now}
}

func (tx *txn) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *txn) emit(kind domain.EventKind, fields map[string]string) {
	tx.events = append(tx.events, domain.Event{
		Kind:   kind,
		At:     tx.now,
		Fields: fields,
	})
}

func (tx *txn) mark() savepoint {
	return savepoint{undo: len(tx.undo), events: len(tx.events)}
}

func (tx *txn) rollbackTo(sp savepoint) {
	for i := len(tx.undo) - 1; i >= sp.undo; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:sp.undo]
	tx.events = tx.events[:sp.events]
}
