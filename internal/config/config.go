// Package config defines the top-level configuration for ledgerd and
// provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEDGER_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig identifies the operator account. The operator address is
// taken from the key when one is configured; OperatorAddress alone is enough
// for modes that never sign.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	OperatorAddress  string `toml:"operator_address"`
}

// LedgerConfig holds deployment identity and settlement policy.
type LedgerConfig struct {
	ChainID           int64    `toml:"chain_id"`
	NativeSymbol      string   `toml:"native_symbol"`
	OverpaymentPolicy string   `toml:"overpayment_policy"`
	Project           string   `toml:"project"`
	AdminRouter       string   `toml:"admin_router"`
	TransferRouter    string   `toml:"transfer_router"`
	DefaultPageSize   int      `toml:"default_page_size"`
	MaxPageSize       int      `toml:"max_page_size"`
	SnapshotInterval  duration `toml:"snapshot_interval"`
	// SnapshotCron, when set, replaces SnapshotInterval with a standard
	// 5-field cron schedule or a descriptor such as "@hourly", in UTC.
	SnapshotCron  string   `toml:"snapshot_cron"`
	WriterLockTTL duration `toml:"writer_lock_ttl"`
	OutboxSize    int      `toml:"outbox_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	CreateBucket   bool   `toml:"create_bucket"`
	// Retain keeps only the newest N snapshots; 0 keeps all.
	Retain int `toml:"retain"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of mutating requests one caller may make per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// SignatureMaxSkew bounds how far a signed request's timestamp may be
	// from the server clock.
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the connection address is
	// always the client.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare IP becomes a
// single-address prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// checkCron reports whether expr parses and fires at least once.
func checkCron(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return err
	}
	if sched.Next(time.Now().UTC()).IsZero() {
		return fmt.Errorf("schedule never fires")
	}
	return nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ChainID:           31337,
			NativeSymbol:      "ETH",
			OverpaymentPolicy: "refund",
			DefaultPageSize:   20,
			MaxPageSize:       100,
			SnapshotInterval:  duration{15 * time.Minute},
			WriterLockTTL:     duration{30 * time.Second},
			OutboxSize:        1024,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "storeledger",
			Prefix:         "snapshots/",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        60,
			RateWindow:       duration{time.Minute},
			SignatureMaxSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "trade_closed", "store_created"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"replay":   true,
	"snapshot": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"refund": true,
	"retain": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, replay, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: the operator must be identifiable one way or another.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" && c.Wallet.OperatorAddress == "" {
		errs = append(errs, "wallet: one of private_key, encrypted_key_path or operator_address must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.OperatorAddress != "" && !common.IsHexAddress(c.Wallet.OperatorAddress) {
		errs = append(errs, fmt.Sprintf("wallet: operator_address %q is not a hex address", c.Wallet.OperatorAddress))
	}

	// Ledger
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}
	if !validPolicies[strings.ToLower(c.Ledger.OverpaymentPolicy)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown overpayment_policy %q (valid: refund, retain)", c.Ledger.OverpaymentPolicy))
	}
	for _, a := range []struct{ name, value string }{
		{"project", c.Ledger.Project},
		{"admin_router", c.Ledger.AdminRouter},
		{"transfer_router", c.Ledger.TransferRouter},
	} {
		if a.value != "" && !common.IsHexAddress(a.value) {
			errs = append(errs, fmt.Sprintf("ledger: %s %q is not a hex address", a.name, a.value))
		}
	}
	if c.Ledger.MaxPageSize < 1 {
		errs = append(errs, "ledger: max_page_size must be >= 1")
	}
	if c.Ledger.DefaultPageSize < 1 || c.Ledger.DefaultPageSize > c.Ledger.MaxPageSize {
		errs = append(errs, "ledger: default_page_size must be between 1 and max_page_size")
	}
	if c.Ledger.SnapshotInterval.Duration < 0 {
		errs = append(errs, "ledger: snapshot_interval must not be negative")
	}
	if c.Ledger.SnapshotCron != "" {
		if err := checkCron(c.Ledger.SnapshotCron); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: snapshot_cron %q: %v", c.Ledger.SnapshotCron, err))
		}
	}
	if c.Ledger.WriterLockTTL.Duration < time.Second {
		errs = append(errs, "ledger: writer_lock_ttl must be at least 1s")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis is only needed while serving.
	if mode == "serve" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if mode == "snapshot" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode snapshot")
	}
	if c.S3.Enabled {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Retain < 0 {
			errs = append(errs, "s3: retain must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be positive")
		}
		if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
			errs = append(errs, "server: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
