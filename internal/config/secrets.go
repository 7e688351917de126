package config

import (
	"net/url"
	"regexp"
	"slices"
)

const redacted = "***"

// secretFields lists every credential-bearing field of c.
func secretFields(c *Config) []*string {
	return []*string{
		&c.Wallet.PrivateKey,
		&c.Wallet.KeyPassword,
		&c.Postgres.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg that is safe to log. Secrets become
// "***" and the postgres DSN keeps its host and database but loses its
// password. Slices are cloned so the copy cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, f := range secretFields(&out) {
		if *f != "" {
			*f = redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// redactDSN masks the password in a URL or keyword/value connection string.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
		q := u.Query()
		if q.Has("password") {
			q.Set("password", redacted)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redacted)
}
