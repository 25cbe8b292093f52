package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/archive"
	appcfg "github.com/park285/cheese-live/internal/config"
	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/room"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/server"
	"github.com/park285/cheese-live/internal/session"
	"github.com/park285/cheese-live/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cat, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	opts := session.Options{
		OpTimeout:        cfg.OpTimeout,
		Catalog:          cat,
		DefaultBaseTime:  cfg.DefaultBaseTime,
		DefaultIncrement: cfg.DefaultIncrement,
	}
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		opts.Archiver = repo
	}

	coord := session.New(st, rules.NewChess(), room.NewRegistry(), opts)
	go coord.RunSweeper(ctx, cfg.SweepInterval)

	srv := server.New(coord, server.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		CreatesPerMinute: cfg.CreatesPerMinute,
		Catalog:          cat,
	})
	defer srv.Close()
	httpSrv := srv.HTTPServer(cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("live_listen", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("live_listen_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("live_shutdown", zap.Error(err))
	}
	// pending archive writes
	coord.Wait()
	logger.Info("live_stopped")
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, func()) {
	if cfg.RedisURL == "" {
		obslog.L().Info("live_store", zap.String("backend", "memory"))
		return store.NewMemory(), func() {}
	}
	rs, err := store.OpenRedis(ctx, cfg.RedisURL, cfg.GameTTL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	obslog.L().Info("live_store", zap.String("backend", "redis"), zap.Duration("ttl", cfg.GameTTL))
	return rs, func() { _ = rs.Close() }
}
