package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/catalog"
	"github.com/psychopatz/KaraYouke/internal/config"
	"github.com/psychopatz/KaraYouke/internal/httpapi"
	"github.com/psychopatz/KaraYouke/internal/hub"
	"github.com/psychopatz/KaraYouke/internal/session"
)

func main() {
	// Best-effort: local development keeps its settings in .env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store := session.NewStore(cfg.SessionCodeLength)
	rooms := hub.New(store, logger)
	search := catalog.New(cfg.CatalogBaseURL, cfg.CatalogTimeout)
	server := httpapi.New(cfg, logger, store, rooms, search, rooms.ServeWS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.HTTPPort))

	if err := server.Run(ctx); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Environment == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
