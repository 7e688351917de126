package domain

import (
	"context"
	"time"
)

// RateDecision is the outcome of counting one request against a limit.
type RateDecision struct {
	Allowed bool
	// Remaining is how many more requests fit in the current window.
	Remaining int
	// RetryAfter is how long until a denied key may try again.
	RetryAfter time.Duration
}

// RateLimiter counts requests per key over a sliding window shared by all
// API replicas.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease by its original TTL. It returns ErrLockHeld
	// if the lease was lost.
	Refresh(ctx context.Context) error
	// Release gives the lock up. It is safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ReplayGuard remembers accepted request digests so a signed request is
// honoured once.
type ReplayGuard interface {
	// Claim records key for ttl and reports whether it was new. A zero ttl
	// keeps the key forever.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage is one entry of the durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries committed ledger events: live to subscribers and
// durably to a bounded stream for replay.
type SignalBus interface {
	// Emit publishes payload on channel and appends it to the event stream
	// in one round trip, returning the stream entry id.
	Emit(ctx context.Context, channel string, payload []byte) (string, error)
	// Subscribe delivers payloads published to channel, which may be a glob.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// ReadAfter returns up to count stream entries strictly after afterID.
	// An empty afterID or "0" reads from the oldest entry.
	ReadAfter(ctx context.Context, afterID string, count int) ([]StreamMessage, error)
}
