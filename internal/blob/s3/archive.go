package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/crypto"
	"github.com/alanyoungcy/storeledger/internal/domain"
)

const (
	snapshotContentType  = "application/json"
	signatureContentType = "text/plain"
	signatureSuffix      = ".sig"
)

// SnapshotSigner signs snapshot digests as the ledger operator.
type SnapshotSigner interface {
	Address() common.Address
	SignSnapshot(seq uint64, digest common.Hash) (string, error)
}

var _ domain.SnapshotArchive = (*SnapshotArchive)(nil)

// SnapshotArchive implements domain.SnapshotArchive. Each snapshot is one
// JSON object at <prefix>ledger-<seq>.json, with the seq zero-padded so
// lexical and numeric order agree. With a signer configured every upload
// gets a .sig sidecar and Latest only accepts snapshots whose signature
// recovers the operator address.
type SnapshotArchive struct {
	objects domain.ObjectStore
	prefix  string
	signer  SnapshotSigner
	chainID int64
	retain  int
	logger  *slog.Logger
}

// ArchiveOption configures a SnapshotArchive.
type ArchiveOption func(*SnapshotArchive)

// WithSigner signs uploads and verifies downloads against signer's address.
func WithSigner(signer SnapshotSigner, chainID int64) ArchiveOption {
	return func(a *SnapshotArchive) {
		a.signer = signer
		a.chainID = chainID
	}
}

// WithRetain keeps only the newest n snapshots after each upload.
func WithRetain(n int) ArchiveOption {
	return func(a *SnapshotArchive) { a.retain = n }
}

// NewSnapshotArchive creates an archive rooted at prefix.
func NewSnapshotArchive(objects domain.ObjectStore, prefix string, logger *slog.Logger, opts ...ArchiveOption) *SnapshotArchive {
	a := &SnapshotArchive{
		objects: objects,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "snapshot_archive")),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// snapshotPath builds the object key for seq.
//
//	snapshots/ledger-00000000000000000042.json
func snapshotPath(prefix string, seq uint64) string {
	return fmt.Sprintf("%sledger-%020d.json", prefix, seq)
}

// parseSnapshotPath extracts the seq from a key built by snapshotPath.
func parseSnapshotPath(key string) (uint64, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "ledger-") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "ledger-"), ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Upload stores snap and returns its object key.
func (a *SnapshotArchive) Upload(ctx context.Context, snap domain.LedgerSnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode snapshot %d: %w", snap.Seq, err)
	}
	key := snapshotPath(a.prefix, snap.Seq)

	meta := domain.ObjectMeta{ContentType: snapshotContentType, Seq: snap.Seq}
	if err := a.objects.PutObject(ctx, key, data, meta); err != nil {
		return "", fmt.Errorf("s3blob: upload snapshot %d: %w", snap.Seq, err)
	}

	if a.signer != nil {
		sig, err := a.signer.SignSnapshot(snap.Seq, crypto.SnapshotDigest(data))
		if err != nil {
			return "", fmt.Errorf("s3blob: sign snapshot %d: %w", snap.Seq, err)
		}
		meta.ContentType = signatureContentType
		if err := a.objects.PutObject(ctx, key+signatureSuffix, []byte(sig), meta); err != nil {
			return "", fmt.Errorf("s3blob: upload snapshot %d signature: %w", snap.Seq, err)
		}
	}

	if a.retain > 0 {
		if err := a.prune(ctx); err != nil {
			a.logger.WarnContext(ctx, "prune snapshots failed", slog.String("error", err.Error()))
		}
	}
	return key, nil
}

// list returns the sequences of all stored snapshots in ascending order.
func (a *SnapshotArchive) list(ctx context.Context) ([]uint64, error) {
	keys, err := a.objects.ListKeys(ctx, a.prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	var seqs []uint64
	for _, key := range keys {
		if seq, ok := parseSnapshotPath(key); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Latest returns the snapshot with the highest seq, or domain.ErrNotFound
// when the archive is empty.
func (a *SnapshotArchive) Latest(ctx context.Context) (domain.LedgerSnapshot, error) {
	seqs, err := a.list(ctx)
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	if len(seqs) == 0 {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", domain.ErrNotFound)
	}
	return a.Load(ctx, seqs[len(seqs)-1])
}

// Load fetches and verifies the snapshot taken at seq.
func (a *SnapshotArchive) Load(ctx context.Context, seq uint64) (domain.LedgerSnapshot, error) {
	key := snapshotPath(a.prefix, seq)
	data, err := a.objects.GetObject(ctx, key)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: load snapshot %d: %w", seq, err)
	}

	if a.signer != nil {
		sig, err := a.objects.GetObject(ctx, key+signatureSuffix)
		if err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: load snapshot %d signature: %w", seq, err)
		}
		if err := crypto.VerifySnapshot(a.signer.Address(), a.chainID, seq, crypto.SnapshotDigest(data), strings.TrimSpace(string(sig))); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: verify snapshot %d: %w", seq, err)
		}
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: decode snapshot %d: %w", seq, err)
	}
	if snap.Seq != seq {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: snapshot at %s has seq %d", key, snap.Seq)
	}
	return snap, nil
}

// prune deletes all but the newest retain snapshots and their signatures.
func (a *SnapshotArchive) prune(ctx context.Context) error {
	seqs, err := a.list(ctx)
	if err != nil {
		return err
	}
	if len(seqs) <= a.retain {
		return nil
	}
	var stale []string
	for _, seq := range seqs[:len(seqs)-a.retain] {
		key := snapshotPath(a.prefix, seq)
		stale = append(stale, key)
		if a.signer != nil {
			stale = append(stale, key+signatureSuffix)
		}
	}
	return a.objects.DeleteObjects(ctx, stale...)
}
