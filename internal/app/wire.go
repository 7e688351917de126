package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/storeledger/internal/blob/s3"
	"github.com/alanyoungcy/storeledger/internal/cache/redis"
	"github.com/alanyoungcy/storeledger/internal/config"
	"github.com/alanyoungcy/storeledger/internal/crypto"
	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/ledger"
	"github.com/alanyoungcy/storeledger/internal/notify"
	"github.com/alanyoungcy/storeledger/internal/service"
	"github.com/alanyoungcy/storeledger/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Signer is nil when only an operator address is configured.
	Signer   *crypto.Signer
	Operator common.Address

	// Stores
	Commands domain.CommandStore
	Trades   domain.TradeStore
	Audit    domain.AuditStore

	// Redis, serve mode only.
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	ReplayGuard domain.ReplayGuard

	// Archive is nil unless S3 is enabled.
	Archive *s3blob.SnapshotArchive

	Notifier *notify.Notifier
	Outbox   *service.Outbox
	Ledger   *service.LedgerService

	// Checks probes each connected backend for readiness.
	Checks map[string]func(context.Context) error
}

// needsRedis reports whether mode publishes events or takes the writer
// lock.
func needsRedis(mode string) bool {
	return mode == "serve"
}

// Wire constructs all concrete dependencies from cfg and returns them with
// a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Checks: make(map[string]func(context.Context) error)}

	// --- Operator identity ---
	signer, operator, err := operatorIdentity(cfg)
	if err != nil {
		return fail("wire: operator: %w", err)
	}
	deps.Signer, deps.Operator = signer, operator

	// --- PostgreSQL: every mode reads the journal ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Commands = postgres.NewCommandStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			ClientName: "ledgerd",
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.SignalBus = redis.NewSignalBus(redisClient, domain.EventStream, cfg.Redis.StreamMaxLen)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
	}

	// --- S3 snapshot archive ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.Open(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			CreateBucket:   cfg.S3.CreateBucket,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Checks["s3"] = bucket.Health
		opts := []s3blob.ArchiveOption{s3blob.WithRetain(cfg.S3.Retain)}
		if signer != nil {
			opts = append(opts, s3blob.WithSigner(signer, cfg.Ledger.ChainID))
		}
		deps.Archive = s3blob.NewSnapshotArchive(bucket, cfg.S3.Prefix, logger, opts...)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Ledger service ---
	var svcOpts []service.Option
	if deps.Archive != nil {
		svcOpts = append(svcOpts, service.WithArchive(deps.Archive))
	}
	if mode == "serve" {
		var notifier service.Notifier
		if deps.Notifier.Enabled() {
			notifier = deps.Notifier
		}
		deps.Outbox = service.NewOutbox(deps.SignalBus, deps.Trades, deps.Audit, notifier, cfg.Ledger.OutboxSize, logger)
		svcOpts = append(svcOpts, service.WithOutbox(deps.Outbox))
	}
	deps.Ledger = service.NewLedgerService(ledgerConfig(cfg, operator), deps.Commands, logger, svcOpts...)

	return deps, cleanup, nil
}

// operatorIdentity loads the operator key when one is configured, and
// otherwise falls back to the configured operator address.
func operatorIdentity(cfg *config.Config) (*crypto.Signer, common.Address, error) {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if keyCfg.Empty() {
		if !common.IsHexAddress(cfg.Wallet.OperatorAddress) {
			return nil, common.Address{}, fmt.Errorf("no key and no valid operator_address")
		}
		return nil, common.HexToAddress(cfg.Wallet.OperatorAddress), nil
	}

	keyHex, err := crypto.LoadKey(keyCfg)
	if err != nil {
		return nil, common.Address{}, err
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Ledger.ChainID)
	if err != nil {
		return nil, common.Address{}, err
	}
	if cfg.Wallet.OperatorAddress != "" && common.HexToAddress(cfg.Wallet.OperatorAddress) != signer.Address() {
		return nil, common.Address{}, fmt.Errorf("operator_address %s does not match key address %s",
			cfg.Wallet.OperatorAddress, signer.Address().Hex())
	}
	return signer, signer.Address(), nil
}

func ledgerConfig(cfg *config.Config, operator common.Address) ledger.Config {
	return ledger.Config{
		ChainID:        cfg.Ledger.ChainID,
		Operator:       operator,
		Project:        optionalAddress(cfg.Ledger.Project),
		AdminRouter:    optionalAddress(cfg.Ledger.AdminRouter),
		TransferRouter: optionalAddress(cfg.Ledger.TransferRouter),
		NativeSymbol:   cfg.Ledger.NativeSymbol,
		Overpayment:    domain.OverpaymentPolicy(strings.ToLower(cfg.Ledger.OverpaymentPolicy)),
		MaxPageSize:    uint64(cfg.Ledger.MaxPageSize),
	}
}

func optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
