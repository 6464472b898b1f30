// Command snipebot is the entry point for the memecoin sniper engine. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/snipebot/internal/app"
	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file (optional)")
	mode := flag.String("mode", "", "override the configured mode: trade, monitor, backtest or full")
	source := flag.String("backtest", "", "CSV path or s3://bucket/key to replay; implies -mode backtest")
	sealTo := flag.String("encrypt-secret", "", "seal relay.api_secret with relay.secret_password into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *source != "" {
		cfg.Mode = "backtest"
		cfg.Backtest.Source = *source
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if *sealTo != "" {
		if err := crypto.WriteSecretFile(*sealTo, cfg.Relay.APISecret, cfg.Relay.SecretPassword); err != nil {
			logger.Error("failed to seal relay secret", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("relay secret sealed; set relay.encrypted_secret_path and clear relay.api_secret",
			slog.String("path", *sealTo))
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("snipebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("snipebot stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
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
