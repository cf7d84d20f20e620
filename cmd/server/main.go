package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"codedrop/internal/server/api"
	"codedrop/internal/server/app"
	"codedrop/internal/server/config"
	"codedrop/internal/server/events"
	"codedrop/internal/server/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited cleanly")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.SetupLogger(cfg)
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"metadata_backend", cfg.MetadataBackend,
		"blob_backend", cfg.BlobBackend,
		"max_file_size", cfg.MaxFileSize,
		"retention", cfg.Retention,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations complete")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var pub events.Publisher = events.Nop{}
	var rmq *events.RabbitMQ
	if cfg.AMQPURL != "" {
		rmq = events.NewRabbitMQ(cfg.AMQPExchange)
		if err := rmq.Connect(ctx, cfg.AMQPURL); err != nil {
			return err
		}
		pub = rmq
	}

	svcs, err := app.NewServices(cfg, stores, pub, m)
	if err != nil {
		return err
	}

	handler := api.NewHandler(svcs.Shares, svcs.Stats, stores.Meta, stores.FS, cfg.MaxFileSize)
	e := api.SetupRouter(ctx, handler, cfg, reg)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svcs.Sweeper.Start(ctx)
		svcs.Sweeper.Wait()
		return nil
	})

	g.Go(func() error {
		svcs.Stats.Watch(ctx, cfg.CleanupInterval)
		return nil
	})

	if rmq != nil {
		g.Go(func() error {
			rmq.Worker(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")

		// Stop accepting new requests, finish in-flight with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
