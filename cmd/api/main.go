package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bidmarket/internal/activity"
	"bidmarket/internal/app"
	"bidmarket/internal/auth"
	"bidmarket/internal/backend"
	"bidmarket/internal/config"
	"bidmarket/internal/httpserver"
	"bidmarket/internal/localcache"
	"bidmarket/internal/logger"
	"bidmarket/internal/models"
	"bidmarket/internal/session"
	"bidmarket/internal/shell"
	"bidmarket/internal/wizard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Sugar().Fatalw("config", "error", err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			lg.Fatalw("db connect failed", "error", err)
		}
		if err := db.AutoMigrate(&models.ActivityLog{}, &models.CacheEntry{}); err != nil {
			lg.Fatalw("automigrate failed", "error", err)
		}
	}

	cache, closeCache := openCache(ctx, cfg, db, lg)
	defer closeCache()

	var rec activity.Recorder = activity.Nop{}
	if db != nil {
		rec = activity.NewGorm(db, lg)
	}

	if err := cfg.BackendReady(); err != nil {
		lg.Warnw("backend not configured; data operations will fail", "error", err)
	}
	bc := backend.New(backend.Options{
		BaseURL: cfg.Backend.URL,
		AnonKey: cfg.Backend.AnonKey,
		RPS:     cfg.Backend.RPS,
		Timeout: cfg.Backend.Timeout,
	}, lg)

	sh, err := shell.New()
	if err != nil {
		lg.Fatalw("load route policy failed", "error", err)
	}

	reg := app.NewRegistry(app.Deps{
		Backend:  bc,
		Cache:    cache,
		Activity: rec,
		Logger:   lg,
		Resolver: session.Options{
			Attempts: cfg.Role.LookupAttempts,
			Backoff:  cfg.Role.LookupBackoff,
			Failsafe: cfg.Role.Failsafe,
			Fallback: models.ParseRole(cfg.Role.Fallback),
		},
		Thresholds: wizard.Thresholds{Low: cfg.Budget.LowThreshold, Match: cfg.Budget.MatchThreshold},
		MinPrice:   cfg.Budget.MarketerMinimum,
	}, cfg.Session.TTL)
	go reg.Run(ctx)

	signer := auth.NewSigner(cfg.Session.Secret, cfg.Session.TTL)
	router := httpserver.NewRouter(reg, sh, signer, rec, httpserver.Options{
		CORSOrigins:   cfg.CORSOrigins,
		SecureCookies: cfg.Session.SecureCookies,
	}, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Infow("listening", "port", cfg.HTTPPort, "cache", cfg.Cache.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warnw("http shutdown", "error", err)
	}
	reg.CloseAll()
}

func openCache(ctx context.Context, cfg config.Config, db *gorm.DB, lg *zap.SugaredLogger) (localcache.Store, func()) {
	switch cfg.Cache.Driver {
	case "postgres":
		return localcache.NewGorm(db), func() {}
	case "redis":
		rc := localcache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx); err != nil {
			lg.Fatalw("redis ping failed", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		return rc, func() { _ = rc.Close() }
	}
	return localcache.NewMemory(), func() {}
}
