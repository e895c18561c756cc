package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/history"
	"github.com/hamed0406/servicewatch/internal/httpapi"
	apimw "github.com/hamed0406/servicewatch/internal/httpapi/middleware"
	"github.com/hamed0406/servicewatch/internal/logging"
	"github.com/hamed0406/servicewatch/internal/monitor"
	"github.com/hamed0406/servicewatch/internal/repo"
	"github.com/hamed0406/servicewatch/internal/repo/memory"
	"github.com/hamed0406/servicewatch/internal/repo/postgres"
	"github.com/hamed0406/servicewatch/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, "monitord", cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := config.LoadServices(cfg.ServicesFile)
	if err != nil {
		logger.Fatal("services_load_error", zap.String("file", cfg.ServicesFile), zap.Error(err))
	}

	var (
		observations repo.ObservationStore
		states       repo.StateStore
	)
	if cfg.DatabaseURL == "" {
		store := memory.New()
		observations, states = store, store
		logger.Info("store_selected", zap.String("kind", "memory"))
	} else {
		store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres_connect_error", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("postgres_migrate_error", zap.Error(err))
		}
		observations, states = store, store
		logger.Info("store_selected", zap.String("kind", "postgres"))
	}

	rec := history.NewRecorder(observations, states, logger)
	d := monitor.NewDispatcher(reg, rec, &net.Dialer{}, logger)
	sched := scheduler.New(logger, cfg.Concurrency)

	// A service that cannot be built is logged and left out; the rest run.
	for _, uri := range reg.URIs() {
		m, err := d.New(uri)
		if err != nil {
			logger.Error("monitor_build_error", zap.String("service", uri), zap.Error(err))
			continue
		}
		if err := sched.Register(m); err != nil {
			logger.Error("monitor_register_error", zap.String("service", uri), zap.Error(err))
		}
	}

	sched.Start(ctx)
	go func() {
		if err := sched.RunAll(ctx); err != nil {
			logger.Warn("initial_pass_error", zap.Error(err))
		}
	}()

	api := httpapi.NewServer(logger, reg, d, sched, observations, states)
	keys := apimw.Keys{Public: cfg.PublicKeys, Admin: cfg.AdminKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.Origins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.Int("monitors", sched.Len()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api_listen_error", zap.Error(err))
	}
	sched.Stop()
	logger.Info("shutdown_complete")
}
