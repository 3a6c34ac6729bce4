package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tehsphinx/relay"
	"github.com/tehsphinx/relay/internal/broker"
	"github.com/tehsphinx/relay/internal/config"
	"github.com/tehsphinx/relay/internal/health"
	"github.com/tehsphinx/relay/internal/httpapi"
	"github.com/tehsphinx/relay/internal/logging"
	"github.com/tehsphinx/relay/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the yaml config file (defaults and RELAY_* env vars apply without it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.L().Fatalf("Failed to load config: %v", err)
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)
	logger := logging.L()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if r := run(ctx, cfg, logger); r != nil {
		cancel()
		logger.Fatalf("Relay stopped: %v", r)
	}
}

// run starts the relay and blocks until ctx is done. Everything started before a failing
// step is shut down again before the error is returned.
func run(ctx context.Context, cfg *config.Config, logger relay.Logger) error {
	logger.Infof("Starting relay: topic => %v, group => %v, driver => %v", cfg.Topic, cfg.Group, cfg.Broker.Driver)

	var (
		metricsProvider metrics.Provider = metrics.Noop{}
		prom            *metrics.Prom
	)
	if cfg.Metrics.Enabled {
		prom = metrics.NewProm()
		metricsProvider = prom
	}

	client, err := broker.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open broker: %w", err)
	}
	defer client.Close()

	publisher := relay.NewPublisher(client.Publisher, cfg.Topic,
		relay.WithLogger(logger),
		relay.WithMetrics(metricsProvider),
		relay.WithPublishTimeout(cfg.Broker.PublishTimeout),
	)
	subscriber := relay.NewSubscriber(client.Subscriber, cfg.Topic, cfg.Group,
		relay.WithLogger(logger),
		relay.WithMetrics(metricsProvider),
		relay.WithConcurrentDelivery(cfg.Subscriber.Concurrent),
	)

	if r := subscriber.Register(ctx); r != nil {
		return fmt.Errorf("failed to register subscriber: %w", r)
	}
	defer func() {
		if r := subscriber.Close(); r != nil {
			logger.Errorf("Failed to close subscriber: %v", r)
		}
	}()

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	healthSvc := health.New(client, cfg.Health.Interval, logger)
	go healthSvc.Watch(healthCtx)

	if cfg.GRPC.ListenAddr != "" {
		stopGRPC, r := healthSvc.Serve(cfg.GRPC.ListenAddr)
		if r != nil {
			return fmt.Errorf("failed to start gRPC health service: %w", r)
		}
		defer stopGRPC()
	}

	httpOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithHealth(healthSvc.Healthy),
	}
	if prom != nil {
		httpOpts = append(httpOpts, httpapi.WithMetrics(cfg.Metrics.Path, prom.Handler()))
	}
	httpSrv := httpapi.New(cfg.HTTP.ListenAddr, publisher, httpOpts...)
	if r := httpSrv.Start(); r != nil {
		return fmt.Errorf("failed to start HTTP server: %w", r)
	}

	<-ctx.Done()
	logger.Info("Shutting down relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if r := httpSrv.Stop(shutdownCtx); r != nil {
		logger.Errorf("Failed to stop HTTP server: %v", r)
	}
	return nil
}
