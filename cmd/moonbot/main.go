// Command moonbot runs the market-making bots. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and runs until
// interrupted or until every bot has been shut off.
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

	"github.com/alanyoungcy/moonbot/internal/app"
	"github.com/alanyoungcy/moonbot/internal/config"
	"github.com/alanyoungcy/moonbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "moonbot.toml", "path to configuration file")
	sealKey := flag.String("seal-key", "", "encrypt the hex key in $MOONBOT_SEAL_KEY with $MOONBOT_SEAL_PASSWORD into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *sealKey != "" {
		if err := seal(*sealKey); err != nil {
			logger.Error("seal key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("sealed key written", slog.String("path", *sealKey))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("moonbot starting",
		slog.String("env", cfg.App.Env),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg).Settings),
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
	logger.Info("moonbot stopped")
}

func seal(path string) error {
	key, password := os.Getenv("MOONBOT_SEAL_KEY"), os.Getenv("MOONBOT_SEAL_PASSWORD")
	if key == "" || password == "" {
		return errors.New("MOONBOT_SEAL_KEY and MOONBOT_SEAL_PASSWORD must be set")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
