// Package service puts the in-memory ledger behind a single-writer service:
// every mutating call is applied and journalled as one unit, committed
// events are handed to the outbox, and state is rebuilt at startup by
// replaying the journal over the newest snapshot.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/ledger"
)

const replayBatch = 500

// LedgerService serialises access to the ledger.
type LedgerService struct {
	mu       sync.RWMutex
	cfg      ledger.Config
	led      *ledger.Ledger
	callTime time.Time
	lastSeq  uint64
	snapSeq  uint64

	commands domain.CommandStore
	archive  domain.SnapshotArchive
	outbox   *Outbox
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithArchive enables snapshot upload and snapshot-based replay.
func WithArchive(a domain.SnapshotArchive) Option {
	return func(s *LedgerService) { s.archive = a }
}

// WithOutbox routes committed commands to o.
func WithOutbox(o *Outbox) Option {
	return func(s *LedgerService) { s.outbox = o }
}

// WithNow overrides the wall clock used to timestamp commands.
func WithNow(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a service over an empty ledger. Call Replay
// before serving to load journalled state.
func NewLedgerService(cfg ledger.Config, commands domain.CommandStore, logger *slog.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		cfg:      cfg,
		commands: commands,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.led = ledger.New(cfg, ledger.WithClock(s.ledgerClock))
	return s
}

// ledgerClock pins the ledger's notion of now to the command being applied,
// so replay observes the same expirations as the original call.
func (s *LedgerService) ledgerClock() time.Time {
	return s.callTime
}

// execute applies one command and journals it. Both happen inside one
// ledger transaction: if the journal append fails the ledger change is
// undone and the call fails.
func (s *LedgerService) execute(ctx context.Context, caller common.Address, op domain.CommandOp, args any) (domain.CommandResult, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("service: %s: encode args: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.CommandResult{}, fmt.Errorf("service: %s: %w: %w", op, domain.ErrContextDone, err)
	}

	cmd := domain.Command{
		Seq:    s.lastSeq + 1,
		ID:     uuid.NewString(),
		Op:     op,
		Caller: caller,
		Args:   raw,
		Time:   s.now().UTC().Truncate(time.Microsecond), // journal precision
	}
	s.callTime = cmd.Time

	var res domain.CommandResult
	err = s.led.Atomically(func() error {
		var err error
		if res, err = apply(s.led, cmd); err != nil {
			return err
		}
		if err := s.commands.Append(ctx, cmd); err != nil {
			return fmt.Errorf("service: journal seq %d: %w", cmd.Seq, err)
		}
		return nil
	})
	if err != nil {
		if domain.IsLedgerError(err) {
			s.logger.WarnContext(ctx, "call rejected",
				slog.String("op", string(op)),
				slog.String("caller", caller.Hex()),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.ErrorContext(ctx, "call failed",
				slog.String("op", string(op)),
				slog.String("error", err.Error()),
			)
		}
		return domain.CommandResult{}, err
	}

	s.lastSeq = cmd.Seq
	events := s.led.TakeEvents()
	for i := range events {
		events[i].Seq = cmd.Seq
	}

	s.logger.InfoContext(ctx, "call committed",
		slog.Uint64("seq", cmd.Seq),
		slog.String("op", string(op)),
		slog.String("caller", caller.Hex()),
		slog.Uint64("store_id", res.StoreID),
		slog.Uint64("type_id", res.TypeID),
		slog.Uint64("trade_id", res.TradeID),
	)

	if s.outbox != nil {
		s.outbox.enqueue(ctx, Committed{
			Command: cmd,
			Events:  events,
			Trades:  touchedTrades(s.led, events),
		})
	}
	return res, nil
}

// touchedTrades resolves the trades named by events against led.
func touchedTrades(led *ledger.Ledger, events []domain.Event) []domain.Trade {
	var out []domain.Trade
	seen := make(map[uint64]bool)
	for _, ev := range events {
		raw, ok := ev.Fields["trade_id"]
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		if t, err := led.TradeInfo(id); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Mutating calls
// ---------------------------------------------------------------------------

// CreateStore creates a store owned by caller.
func (s *LedgerService) CreateStore(ctx context.Context, caller common.Address, meta domain.StoreMetadata) (uint64, error) {
	res, err := s.execute(ctx, caller, domain.OpCreateStore, domain.CreateStoreArgs{StoreMetadata: meta})
	return res.StoreID, err
}

// MintAndListNewType mints a new type to caller and lists it.
func (s *LedgerService) MintAndListNewType(ctx context.Context, caller common.Address, args domain.MintNewTypeArgs) (typeID, tradeID uint64, err error) {
	res, err := s.execute(ctx, caller, domain.OpMintAndListNewType, args)
	return res.TypeID, res.TradeID, err
}

// MintAndListExistingType mints more units of a type to caller and lists
// them at the type's listing terms.
func (s *LedgerService) MintAndListExistingType(ctx context.Context, caller common.Address, args domain.MintExistingTypeArgs) (uint64, error) {
	res, err := s.execute(ctx, caller, domain.OpMintAndListExisting, args)
	return res.TradeID, err
}

// SetListingTerms replaces a type's listing terms.
func (s *LedgerService) SetListingTerms(ctx context.Context, caller common.Address, args domain.ListingTermsArgs) error {
	_, err := s.execute(ctx, caller, domain.OpSetListingTerms, args)
	return err
}

// CompleteTrade buys a trade for caller.
func (s *LedgerService) CompleteTrade(ctx context.Context, caller common.Address, args domain.TradeArgs) error {
	_, err := s.execute(ctx, caller, domain.OpCompleteTrade, args)
	return err
}

// CloseTrade withdraws a trade.
func (s *LedgerService) CloseTrade(ctx context.Context, caller common.Address, tradeID uint64) error {
	_, err := s.execute(ctx, caller, domain.OpCloseTrade, domain.TradeArgs{TradeID: tradeID})
	return err
}

// BatchCompleteTrade buys several trades as one unit.
func (s *LedgerService) BatchCompleteTrade(ctx context.Context, caller common.Address, args domain.BatchTradeArgs) error {
	_, err := s.execute(ctx, caller, domain.OpBatchCompleteTrade, args)
	return err
}

// BatchCloseTrade withdraws several trades as one unit.
func (s *LedgerService) BatchCloseTrade(ctx context.Context, caller common.Address, tradeIDs []uint64) error {
	_, err := s.execute(ctx, caller, domain.OpBatchCloseTrade, domain.BatchTradeArgs{TradeIDs: tradeIDs})
	return err
}

// Deposit credits native value.
func (s *LedgerService) Deposit(ctx context.Context, caller common.Address, args domain.DepositArgs) error {
	_, err := s.execute(ctx, caller, domain.OpDeposit, args)
	return err
}

// CreditToken credits a payment token.
func (s *LedgerService) CreditToken(ctx context.Context, caller common.Address, args domain.CreditTokenArgs) error {
	_, err := s.execute(ctx, caller, domain.OpCreditToken, args)
	return err
}

// Approve sets caller's allowance for a payment token.
func (s *LedgerService) Approve(ctx context.Context, caller common.Address, args domain.ApproveArgs) error {
	_, err := s.execute(ctx, caller, domain.OpApprove, args)
	return err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *LedgerService) Deployment() domain.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.Deployment()
}

func (s *LedgerService) StoreInfo(storeID uint64) (domain.StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.StoreInfo(storeID)
}

func (s *LedgerService) StoreByAddress(addr common.Address) (domain.StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.StoreByAddress(addr)
}

func (s *LedgerService) Stores() []domain.StoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.Stores()
}

func (s *LedgerService) TokenType(storeID, typeID uint64) (domain.TokenType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.TokenType(storeID, typeID)
}

func (s *LedgerService) BalanceOf(storeID, typeID uint64, owner common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.BalanceOf(storeID, typeID, owner)
}

func (s *LedgerService) TradeInfo(tradeID uint64) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.TradeInfo(tradeID)
}

func (s *LedgerService) OpenTradeIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.OpenTradeIDs()
}

func (s *LedgerService) OpenTradeIDsByStore(store common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.OpenTradeIDsByStore(store)
}

func (s *LedgerService) OpenTradesByStorePage(store common.Address, page, size uint64) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.OpenTradesByStorePage(store, page, size)
}

func (s *LedgerService) OpenTradesPage(page, size uint64) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.OpenTradesPage(page, size)
}

// TokenAccount is one payment token position of an account.
type TokenAccount struct {
	Token     common.Address `json:"token"`
	Balance   *big.Int       `json:"balance"`
	Allowance *big.Int       `json:"allowance"`
}

// Account is the treasury view of one address.
type Account struct {
	Address common.Address `json:"address"`
	Native  *big.Int       `json:"native"`
	Tokens  []TokenAccount `json:"tokens"`
}

// Account returns owner's native balance and its positions in tokens.
func (s *LedgerService) Account(owner common.Address, tokens []common.Address) Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct := Account{
		Address: owner,
		Native:  s.led.NativeBalance(owner),
		Tokens:  make([]TokenAccount, 0, len(tokens)),
	}
	for _, tok := range tokens {
		acct.Tokens = append(acct.Tokens, TokenAccount{
			Token:     tok,
			Balance:   s.led.TokenBalance(tok, owner),
			Allowance: s.led.Allowance(tok, owner),
		})
	}
	return acct
}

// Status summarises the service for health and replay reporting.
type Status struct {
	LastSeq     uint64       `json:"last_seq"`
	SnapshotSeq uint64       `json:"snapshot_seq"`
	Ledger      ledger.Stats `json:"ledger"`
}

func (s *LedgerService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{LastSeq: s.lastSeq, SnapshotSeq: s.snapSeq, Ledger: s.led.Stats()}
}

// ---------------------------------------------------------------------------
// Replay and snapshots
// ---------------------------------------------------------------------------

// ReplaySummary reports what Replay did.
type ReplaySummary struct {
	FromSnapshot uint64 `json:"from_snapshot"`
	Applied      int    `json:"applied"`
	// Backfilled counts commands whose lost outbox delivery was repaired.
	Backfilled int           `json:"backfilled"`
	Status     Status        `json:"status"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Replay rebuilds the ledger from the newest snapshot (when an archive is
// configured) plus every later journalled command, then verifies the
// ledger invariants. The rebuilt ledger replaces the current one only if
// all of that succeeds. With an outbox, replayed commands that lack an
// audit row have their audit row and trade projection written again.
func (s *LedgerService) Replay(ctx context.Context) (ReplaySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	led := ledger.New(s.cfg, ledger.WithClock(s.ledgerClock))
	var from uint64
	if s.archive != nil {
		snap, err := s.archive.Latest(ctx)
		switch {
		case err == nil:
			led, err = ledger.Restore(s.cfg, snap, ledger.WithClock(s.ledgerClock))
			if err != nil {
				return ReplaySummary{}, fmt.Errorf("service: replay: restore snapshot %d: %w", snap.Seq, err)
			}
			from = snap.Seq
		case errors.Is(err, domain.ErrNotFound):
		default:
			return ReplaySummary{}, fmt.Errorf("service: replay: latest snapshot: %w", err)
		}
	}

	var missing map[uint64]bool
	if s.outbox != nil {
		last, err := s.commands.LastSeq(ctx)
		if err != nil {
			return ReplaySummary{}, fmt.Errorf("service: replay: last seq: %w", err)
		}
		if missing, err = s.outbox.missingAudit(ctx, from+1, last); err != nil {
			s.logger.WarnContext(ctx, "audit gap check failed", slog.String("error", err.Error()))
		}
	}

	var lost []Committed
	seq, applied := from, 0
	for {
		cmds, err := s.commands.ListAfter(ctx, seq, replayBatch)
		if err != nil {
			return ReplaySummary{}, fmt.Errorf("service: replay: list after %d: %w", seq, err)
		}
		for _, cmd := range cmds {
			if cmd.Seq != seq+1 {
				return ReplaySummary{}, fmt.Errorf("service: replay: %w: expected seq %d, found %d",
					domain.ErrJournalGap, seq+1, cmd.Seq)
			}
			s.callTime = cmd.Time
			if _, err := apply(led, cmd); err != nil {
				return ReplaySummary{}, fmt.Errorf("service: replay: seq %d (%s): %w", cmd.Seq, cmd.Op, err)
			}
			events := led.TakeEvents()
			if missing[cmd.Seq] {
				for i := range events {
					events[i].Seq = cmd.Seq
				}
				lost = append(lost, Committed{Command: cmd, Events: events})
			}
			seq = cmd.Seq
			applied++
		}
		if len(cmds) < replayBatch {
			break
		}
	}
	led.TakeEvents()

	if err := led.CheckInvariants(); err != nil {
		return ReplaySummary{}, fmt.Errorf("service: replay: invariants: %w", err)
	}

	s.led = led
	s.lastSeq = seq
	s.snapSeq = from

	if len(lost) > 0 {
		// Projections take the trades' current state so an older lost
		// delivery cannot overwrite a newer one.
		for i := range lost {
			lost[i].Trades = touchedTrades(led, lost[i].Events)
		}
		s.outbox.Backfill(ctx, lost)
	}

	summary := ReplaySummary{
		FromSnapshot: from,
		Applied:      applied,
		Backfilled:   len(lost),
		Status:       Status{LastSeq: seq, SnapshotSeq: from, Ledger: led.Stats()},
		Elapsed:      time.Since(start),
	}
	s.logger.InfoContext(ctx, "replay complete",
		slog.Uint64("from_snapshot", from),
		slog.Int("applied", applied),
		slog.Uint64("last_seq", seq),
		slog.Int("stores", summary.Status.Ledger.Stores),
		slog.Int("trades", summary.Status.Ledger.Trades),
		slog.Int("open_trades", summary.Status.Ledger.OpenTrades),
		slog.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// CheckInvariants verifies the current ledger.
func (s *LedgerService) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.led.CheckInvariants()
}

// ErrNoArchive is returned by snapshot operations when no archive is
// configured.
var ErrNoArchive = errors.New("service: no snapshot archive configured")

// Snapshot uploads the current state and returns its object path. When
// force is false and nothing was committed since the last snapshot, it
// returns "" without uploading.
func (s *LedgerService) Snapshot(ctx context.Context, force bool) (string, error) {
	if s.archive == nil {
		return "", ErrNoArchive
	}

	s.mu.RLock()
	if !force && s.lastSeq == s.snapSeq {
		s.mu.RUnlock()
		return "", nil
	}
	snap := s.led.Snapshot(s.lastSeq)
	s.mu.RUnlock()
	snap.TakenAt = s.now().UTC()

	path, err := s.archive.Upload(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("service: snapshot seq %d: %w", snap.Seq, err)
	}

	s.mu.Lock()
	if snap.Seq > s.snapSeq {
		s.snapSeq = snap.Seq
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "snapshot uploaded",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", path),
	)
	return path, nil
}
