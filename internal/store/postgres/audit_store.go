package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore keeps one audit_log row per committed command.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Record inserts entry unless its seq is already present.
func (s *AuditStore) Record(ctx context.Context, e domain.AuditEntry) error {
	events := make([]string, len(e.Events))
	for i, k := range e.Events {
		events[i] = string(k)
	}
	args := e.Args
	if len(args) == 0 {
		args = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (seq, command_id, op, caller, events, args, at)
		VALUES ($1, $2::uuid, $3, $4, $5::text[], $6::jsonb, $7)
		ON CONFLICT (seq) DO NOTHING`,
		int64(e.Seq), e.CommandID, string(e.Op), strings.ToLower(e.Caller.Hex()), events, []byte(args), e.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: record audit seq %d: %w", e.Seq, err)
	}
	return nil
}

// MissingSeqs finds journal seqs in [from, to] without an audit row.
func (s *AuditStore) MissingSeqs(ctx context.Context, from, to uint64, limit int) ([]uint64, error) {
	if from > to || limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s FROM generate_series($1::bigint, $2::bigint) AS s
		WHERE NOT EXISTS (SELECT 1 FROM audit_log a WHERE a.seq = s)
		ORDER BY s
		LIMIT $3`,
		int64(from), int64(to), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: missing audit seqs %d..%d: %w", from, to, err)
	}
	defer rows.Close()

	var seqs []uint64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("postgres: scan missing audit seq: %w", err)
		}
		seqs = append(seqs, uint64(seq))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: missing audit seqs rows: %w", err)
	}
	return seqs, nil
}

// auditQuery builds the filtered listing, newest first.
func auditQuery(f domain.AuditFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT seq, command_id::text, op, caller, events, args::text, at FROM audit_log WHERE TRUE`)
	var args []any
	if f.Op != "" {
		args = append(args, string(f.Op))
		fmt.Fprintf(&b, " AND op = $%d", len(args))
	}
	if f.Caller != nil {
		args = append(args, strings.ToLower(f.Caller.Hex()))
		fmt.Fprintf(&b, " AND caller = $%d", len(args))
	}
	return listQuery(b.String(), args, "at", f.ListOpts)
}

// List returns entries matching f.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := auditQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			seq        int64
			op, caller string
			events     []string
			argsJSON   []byte
		)
		if err := rows.Scan(&seq, &e.CommandID, &op, &caller, &events, &argsJSON, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		e.Seq = uint64(seq)
		e.Op = domain.CommandOp(op)
		e.Caller = common.HexToAddress(caller)
		e.Args = argsJSON
		e.Events = make([]domain.EventKind, len(events))
		for i, k := range events {
			e.Events[i] = domain.EventKind(k)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}
