// pingrelay runs ping on behalf of monitord. Requests arrive as JSON over a
// websocket; only the binaries in RELAY_ALLOWED_BINARIES are started when
// RELAY_RUNNER=exec.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/logging"
	"github.com/hamed0406/servicewatch/internal/relay"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, "pingrelay", cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	var runner relay.Runner
	switch cfg.RelayRunner {
	case "exec":
		runner = relay.ExecRunner{Allowed: cfg.RelayAllowed}
	case "probing":
		runner = relay.ProbingRunner{Privileged: os.Geteuid() == 0, Interval: time.Second}
	default:
		logger.Fatal("relay_runner_unknown", zap.String("runner", cfg.RelayRunner))
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(cfg.RelayPath, relay.NewServer(runner, logger))

	srv := &http.Server{Addr: cfg.RelayAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay_listen",
		zap.String("addr", cfg.RelayAddr),
		zap.String("path", cfg.RelayPath),
		zap.String("runner", cfg.RelayRunner),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("relay_listen_error", zap.Error(err))
	}
}
