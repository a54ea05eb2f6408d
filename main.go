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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/quorum/internal/activity"
	"github.com/xiaot623/quorum/internal/clock"
	"github.com/xiaot623/quorum/internal/config"
	"github.com/xiaot623/quorum/internal/eventlog"
	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/pipeline"
	"github.com/xiaot623/quorum/internal/policy"
	"github.com/xiaot623/quorum/internal/registry"
	"github.com/xiaot623/quorum/internal/repository"
	"github.com/xiaot623/quorum/internal/service"
	"github.com/xiaot623/quorum/internal/telemetry"
	transporthttp "github.com/xiaot623/quorum/internal/transport/http"
	"github.com/xiaot623/quorum/internal/transport/ws"
)

var version = "0.1.0"

func main() {
	// Load .env file if present.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting quorum",
		"version", version,
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"stage_interval", cfg.StageInterval)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, false)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	// Initialize stage gate
	gate, err := policy.NewEngineFromFile(ctx, cfg.StagePolicyFile)
	if err != nil {
		return fmt.Errorf("initialize stage gate: %w", err)
	}

	clk := clock.Real()
	scheduler, err := pipeline.NewScheduler(clk, pipeline.DefaultStages(cfg.StageInterval), logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	// Initialize service
	svc, err := service.New(service.Deps{
		Registry:  registry.New(),
		Events:    eventlog.New(),
		Activity:  activity.New(cfg.ActivityFeedSize, clk.Now),
		Scheduler: scheduler,
		Clock:     clk,
		Threads:   db,
		Directory: db,
		Gate:      gate,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	h := hub.NewHub(logger)
	wsServer := ws.NewServer(cfg, h, svc, logger)
	srv := transporthttp.NewServer(svc, db, h, wsServer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunMaintenance(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Wait for interrupt signal or a failed sibling.
		<-gctx.Done()
		logger.Info("shutting down quorum")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("quorum stopped")
	return err
}
