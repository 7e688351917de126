// Command ledgerd runs the store ledger. It loads configuration, validates
// it, wires dependencies, sets up signal handling, and runs the configured
// mode. With -encrypt-key it instead seals a raw operator key read from
// stdin into a key file and exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/storeledger/internal/app"
	"github.com/alanyoungcy/storeledger/internal/config"
	"github.com/alanyoungcy/storeledger/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, replay, snapshot)")
	encryptKey := flag.String("encrypt-key", "", "write an encrypted key file for the hex key on stdin and exit")
	flag.Parse()

	// Logs go to stderr; replay and snapshot print their result on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *encryptKey != "" {
		if err := writeKeyFile(*encryptKey, cfg.Wallet.KeyPassword); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("ledgerd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("ledgerd stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// writeKeyFile seals the hex key on stdin with password (wallet.key_password
// or LEDGER_WALLET_KEY_PASSWORD) and writes it to path with mode 0600.
func writeKeyFile(path, password string) error {
	if password == "" {
		return errors.New("wallet key_password must be set")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading key from stdin: %w", err)
	}
	data, err := crypto.EncryptKey(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
