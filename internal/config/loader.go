package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LEDGER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LEDGER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LEDGER_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.OperatorAddress, "LEDGER_WALLET_OPERATOR_ADDRESS")

	// ── Ledger ──
	setInt64(&cfg.Ledger.ChainID, "LEDGER_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.NativeSymbol, "LEDGER_LEDGER_NATIVE_SYMBOL")
	setStr(&cfg.Ledger.OverpaymentPolicy, "LEDGER_LEDGER_OVERPAYMENT_POLICY")
	setStr(&cfg.Ledger.Project, "LEDGER_LEDGER_PROJECT")
	setStr(&cfg.Ledger.AdminRouter, "LEDGER_LEDGER_ADMIN_ROUTER")
	setStr(&cfg.Ledger.TransferRouter, "LEDGER_LEDGER_TRANSFER_ROUTER")
	setInt(&cfg.Ledger.DefaultPageSize, "LEDGER_LEDGER_DEFAULT_PAGE_SIZE")
	setInt(&cfg.Ledger.MaxPageSize, "LEDGER_LEDGER_MAX_PAGE_SIZE")
	setDuration(&cfg.Ledger.SnapshotInterval, "LEDGER_LEDGER_SNAPSHOT_INTERVAL")
	setStr(&cfg.Ledger.SnapshotCron, "LEDGER_LEDGER_SNAPSHOT_CRON")
	setDuration(&cfg.Ledger.WriterLockTTL, "LEDGER_LEDGER_WRITER_LOCK_TTL")
	setInt(&cfg.Ledger.OutboxSize, "LEDGER_LEDGER_OUTBOX_SIZE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGER_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "LEDGER_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "LEDGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "LEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGER_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.CreateBucket, "LEDGER_S3_CREATE_BUCKET")
	setInt(&cfg.S3.Retain, "LEDGER_S3_RETAIN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "LEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LEDGER_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureMaxSkew, "LEDGER_SERVER_SIGNATURE_MAX_SKEW")
	setStringSlice(&cfg.Server.TrustedProxies, "LEDGER_SERVER_TRUSTED_PROXIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEDGER_MODE")
	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
