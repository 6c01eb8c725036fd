// Command relaysyncd hosts the sync engine behind a plain HTTP server. It
// is an example binary, not the core library: CLI/serverless hosting
// integrations are explicitly out of scope for the engine itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	relaysync "github.com/relaysync/core/sync"
	"github.com/relaysync/core/sync/memstore"
	"github.com/relaysync/core/sync/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relaysyncd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	log := slog.Default()

	addr := os.Getenv("RELAYSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	registry := prometheus.NewRegistry()
	metrics := transport.NewMetrics(registry)

	engine, err := relaysync.New(relaysync.Options{
		Store:   memstore.New(),
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("construct sync engine: %w", err)
	}

	handler := transport.New(transport.Options{
		Engine: engine,
		Logger: log,
	})

	mux := http.NewServeMux()
	handler.Mount(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	parent, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serveContext(parent, log, engine, srv, func() error { return srv.ListenAndServe() })
}

// serveContext adapts the teacher's graceful-shutdown sequencing
// (App.ServeContext in the go-mizu-mizu reference) to additionally drain
// the sync engine's subscriber sessions alongside the HTTP listener.
func serveContext(ctx context.Context, log *slog.Logger, engine *relaysync.Engine, srv *http.Server, serveFn func() error) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	log = log.With(
		slog.String("addr", srv.Addr),
		slog.Int("pid", os.Getpid()),
		slog.String("go_version", runtime.Version()),
	)
	log.Info("relaysyncd starting")

	errCh := make(chan error, 1)
	go func() {
		if err := serveFn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server start failed", slog.Any("error", err))
		}
		return err

	case <-ctx.Done():
		start := time.Now()
		log.Info("shutdown initiated")

		var g errgroup.Group
		g.Go(func() error {
			drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("graceful http shutdown incomplete", slog.Any("error", err))
				_ = srv.Close()
			}
			return nil
		})
		g.Go(func() error {
			return engine.Shutdown(context.Background())
		})
		_ = g.Wait()
		cancelBase()

		if err := <-errCh; err != nil {
			log.Error("server exit error after shutdown", slog.Any("error", err))
			return err
		}
		log.Info("relaysyncd stopped gracefully", slog.Duration("duration", time.Since(start)))
		return nil
	}
}
