package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/a-essam23/pairpad/internal/relay"
	"github.com/a-essam23/pairpad/internal/server"
	"github.com/a-essam23/pairpad/pkg/config"
	"github.com/a-essam23/pairpad/pkg/logging"
	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
	"github.com/a-essam23/pairpad/pkg/session/sessionstore"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("PAIRPAD_ENV"))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen, err := codegen.New(cfg.Session.CodeLength, cfg.Session.Alphabet)
	if err != nil {
		logger.Error("Invalid code generator configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Registry backing: redis when configured, otherwise in-process memory.
	var registry session.Registry
	if cfg.Store.RedisURL != "" {
		registry, err = sessionstore.NewRedis(ctx, cfg.Store.RedisURL, logger, gen, cfg.Session.MaxContentBytes)
		if err != nil {
			logger.Error("Failed to connect to session store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Using redis-backed session registry")
	} else {
		registry = sessionstore.NewMemory(logger, gen, cfg.Session.MaxContentBytes)
		logger.Info("Using in-memory session registry")
	}
	defer registry.Close()

	conns := relay.NewConnManager(logger)
	engine := relay.NewEngine(logger, registry, conns, relay.Options{
		CodeLength:  cfg.Session.CodeLength,
		SettleDelay: cfg.Relay.SettleDelay,
		TypingClear: cfg.Relay.TypingClear,
	})

	app := server.NewApp(logger, ctx, cfg, registry, conns, engine)
	if err := app.Run(); err != nil {
		logger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
