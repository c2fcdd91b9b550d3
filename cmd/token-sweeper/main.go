package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/config"
	"github.com/DLMCQ/DermaClinic/internal/db"
	"github.com/DLMCQ/DermaClinic/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "token-sweeper")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.IsLocal() {
		log.Info("local mode issues no tokens, nothing to sweep")
		return
	}

	log.Info("token sweeper starting", zap.String("env", cfg.Env), zap.Duration("interval", cfg.SweepInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := db.Default()
	registry.SetLogger(log)

	dbCtx, cancelDB := context.WithTimeout(rootCtx, 15*time.Second)
	adapter, err := registry.Initialize(dbCtx, db.Options{Mode: db.ModeCloud, PostgresDSN: cfg.PostgresDSN})
	cancelDB()
	if err != nil {
		log.Fatal("database initialization", zap.Error(err))
	}
	defer func() {
		if err := registry.Close(context.Background()); err != nil {
			log.Warn("error closing database", zap.Error(err))
		}
	}()

	tokens, err := auth.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		log.Fatal("token service", zap.Error(err))
	}
	svc := auth.NewService(auth.NewSQLUserStore(adapter), auth.NewSQLRefreshTokenStore(adapter), tokens, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping token sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *auth.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.SweepExpiredTokens(runCtx)
	if err != nil {
		log.Error("sweep run failed", zap.Error(err))
		return
	}
	log.Info("sweep run complete", zap.Int64("removed", n), zap.Duration("took", time.Since(start)))
}
