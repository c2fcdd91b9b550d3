package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/api"
	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/backup"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
	"github.com/DLMCQ/DermaClinic/internal/config"
	"github.com/DLMCQ/DermaClinic/internal/db"
	"github.com/DLMCQ/DermaClinic/internal/logging"
	redisclient "github.com/DLMCQ/DermaClinic/internal/redis"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "api-server")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("mode", string(cfg.Mode)),
		zap.String("addr", cfg.Addr()),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := db.Default()
	registry.SetLogger(log)

	opts := db.Options{
		Mode:        db.Mode(cfg.Mode),
		SQLitePath:  cfg.LocalDBPath,
		PostgresDSN: cfg.PostgresDSN,
	}
	if cfg.MigrationsDir != "" {
		opts.Migrations = os.DirFS(cfg.MigrationsDir)
	}

	dbCtx, cancelDB := context.WithTimeout(rootCtx, 15*time.Second)
	adapter, err := registry.Initialize(dbCtx, opts)
	cancelDB()
	if err != nil {
		return fmt.Errorf("database initialization: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			log.Warn("error closing database", zap.Error(err))
		}
	}()

	// Redis is optional: without it appointment writes run unlocked.
	var rdb *redis.Client
	var locker redisclient.Locker = redisclient.NoopLocker{}
	if !cfg.IsLocal() && cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, scheduling locks disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					log.Warn("error closing redis", zap.Error(err))
				}
			}()
			locker = redisclient.NewRedisStaffLocker(rdb, cfg.LockTTL)
			log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	var authSvc *auth.Service
	if cfg.IsLocal() {
		authSvc = auth.NewLocalService(log)
	} else {
		tokens, err := auth.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		if err != nil {
			return fmt.Errorf("token service: %w", err)
		}
		authSvc = auth.NewService(auth.NewSQLUserStore(adapter), auth.NewSQLRefreshTokenStore(adapter), tokens, log)
	}
	clinicSvc := clinic.NewService(clinic.NewSQLRepository(adapter), locker, !cfg.IsLocal(), log)

	if cfg.BackupEnabled {
		if src, ok := adapter.(db.Backuper); ok {
			sched := backup.NewScheduler(src, cfg.BackupPath, cfg.BackupKeep, log)
			if err := sched.Start(cfg.BackupSchedule); err != nil {
				return fmt.Errorf("backup scheduler: %w", err)
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				sched.Stop(stopCtx)
			}()
		} else {
			log.Info("backups are handled by the database server in cloud mode, scheduler not started")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Cloud:       !cfg.IsLocal(),
		Env:         cfg.Env,
		Version:     version,
		Auth:        authSvc,
		Clinic:      clinicSvc,
		Storage:     adapter,
		Redis:       rdb,
		CORSOrigins: cfg.CORSOrigins,
		Verbose:     !cfg.IsProduction(),
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	log.Info("api-server stopped")
	return nil
}
