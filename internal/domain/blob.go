package domain

import "context"

// ObjectMeta annotates an uploaded object.
type ObjectMeta struct {
	ContentType string
	// Seq is the journal position the object was derived from.
	Seq uint64
}

// ObjectStore is the object storage snapshots are archived to. GetObject
// returns ErrNotFound for a missing key and deleting a missing key succeeds.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, meta ObjectMeta) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// ListKeys returns every key under prefix in lexical order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteObjects(ctx context.Context, keys ...string) error
}

// SnapshotArchive stores and retrieves ledger snapshots.
type SnapshotArchive interface {
	Upload(ctx context.Context, snap LedgerSnapshot) (string, error)
	// Latest returns the snapshot with the highest Seq, or ErrNotFound.
	Latest(ctx context.Context) (LedgerSnapshot, error)
}
