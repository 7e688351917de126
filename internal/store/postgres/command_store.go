package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

var _ domain.CommandStore = (*CommandStore)(nil)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// CommandStore implements domain.CommandStore using PostgreSQL.
type CommandStore struct {
	pool *pgxpool.Pool
}

// NewCommandStore creates a new CommandStore backed by the given connection pool.
func NewCommandStore(pool *pgxpool.Pool) *CommandStore {
	return &CommandStore{pool: pool}
}

// Append journals cmd. The insert only succeeds when cmd.Seq directly
// follows the current tail, so a second writer racing on the same journal
// fails with ErrJournalGap instead of forking history.
func (s *CommandStore) Append(ctx context.Context, cmd domain.Command) error {
	const query = `
		INSERT INTO commands (seq, id, op, caller, args, at)
		SELECT $1::bigint, $2::uuid, $3::text, $4::text, $5::jsonb, $6::timestamptz
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM commands) = $1::bigint - 1`

	tag, err := s.pool.Exec(ctx, query,
		int64(cmd.Seq), cmd.ID, string(cmd.Op), cmd.Caller.Hex(), string(cmd.Args), cmd.Time,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: append command %d: %w", cmd.Seq, domain.ErrJournalGap)
		}
		return fmt.Errorf("postgres: append command %d: %w", cmd.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: append command %d: %w", cmd.Seq, domain.ErrJournalGap)
	}
	return nil
}

// ListAfter returns up to limit commands with Seq > seq in ascending order.
func (s *CommandStore) ListAfter(ctx context.Context, seq uint64, limit int) ([]domain.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id::text, op, caller, args::text, at
		FROM commands WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		int64(seq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list commands after %d: %w", seq, err)
	}
	defer rows.Close()

	var cmds []domain.Command
	for rows.Next() {
		var (
			c      domain.Command
			rawSeq int64
			op     string
			caller string
			args   string
		)
		if err := rows.Scan(&rawSeq, &c.ID, &op, &caller, &args, &c.Time); err != nil {
			return nil, fmt.Errorf("postgres: scan command: %w", err)
		}
		c.Seq = uint64(rawSeq)
		c.Op = domain.CommandOp(op)
		c.Caller = common.HexToAddress(caller)
		c.Args = json.RawMessage(args)
		c.Time = c.Time.UTC()
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list commands rows: %w", err)
	}
	return cmds, nil
}

// LastSeq returns the highest journalled sequence, or 0 for an empty journal.
func (s *CommandStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commands`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last command seq: %w", err)
	}
	return uint64(seq), nil
}
