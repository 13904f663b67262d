package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/certanchor/internal/app"
	"github.com/kursadbilgin/certanchor/internal/config"
	"github.com/kursadbilgin/certanchor/internal/events"
	"github.com/kursadbilgin/certanchor/internal/handler"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("certanchor api failed", zap.Error(err))
	}
	logger.Info("certanchor api stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	server.Use(a.Metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(server, a.Checks()...)
	handler.RegisterMetricsRoute(server, a.Metrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Sweeper.Start(gctx)
	})
	g.Go(func() error {
		return a.LogConsumer.Consume(gctx, events.StoreHandler(a.LogStore))
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("certanchor api started", zap.String("addr", addr), zap.Bool("simulatedLedger", cfg.SimulatedLedger()))
		if err := server.Listen(addr); err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("failed to shut down ops server", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
