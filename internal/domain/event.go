package domain

import "time"

// EventKind identifies a committed ledger state change.
type EventKind string

const (
	EventStoreCreated    EventKind = "store.created"
	EventTypeMinted      EventKind = "type.minted"
	EventTermsUpdated    EventKind = "type.terms_updated"
	EventTradeCreated    EventKind = "trade.created"
	EventTradeCompleted  EventKind = "trade.completed"
	EventTradeClosed     EventKind = "trade.closed"
	EventNativeDeposited EventKind = "treasury.deposit"
	EventTokenCredited   EventKind = "treasury.credit"
	EventTokenApproved   EventKind = "treasury.approve"
)

// Event is emitted for every committed state change. Fields carries ids,
// addresses and amounts in their canonical string forms.
type Event struct {
	Kind   EventKind         `json:"kind"`
	Seq    uint64            `json:"seq"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields"`
}

// Channel returns the signal bus channel the event is published on.
func (e Event) Channel() string {
	return "ledger:" + string(e.Kind)
}

// EventStream is the durable stream all ledger events are appended to.
const EventStream = "ledger:events"
