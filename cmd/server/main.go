package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/bazaarbook/config"
	"github.com/erain9/bazaarbook/pkg/backend/memory"
	"github.com/erain9/bazaarbook/pkg/backend/pebble"
	redisbackend "github.com/erain9/bazaarbook/pkg/backend/redis"
	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/db/queue"
	"github.com/erain9/bazaarbook/pkg/items"
	"github.com/erain9/bazaarbook/pkg/logging"
	"github.com/erain9/bazaarbook/pkg/messaging"
	"github.com/erain9/bazaarbook/pkg/messaging/kafka"
	"github.com/erain9/bazaarbook/pkg/otel"
	"github.com/erain9/bazaarbook/pkg/server"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.Pretty = cfg.Server.LogFormat == "pretty"
	logging.Setup(logCfg)
	logger := logging.FromContext(context.Background())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := otel.Init(otel.Config{
		ServiceName:      cfg.OTel.ServiceName,
		ServiceVersion:   serviceVersion,
		Endpoint:         cfg.OTel.Endpoint,
		CollectorEnabled: cfg.OTel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()
	if cfg.OTel.Enabled {
		if err := otel.StartRuntimeMetrics(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up order book service")
	}
	defer app.Close()

	// books must be hydrated before any traffic is accepted
	if err := app.service.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("Serving with empty order books")
	}

	if cfg.Kafka.Enabled {
		consumer, err := kafka.SetupConsumer(ctx, queue.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.BazaarTopic,
			GroupID:       cfg.Kafka.GroupID,
			BatchSize:     cfg.Kafka.BatchSize,
			FlushInterval: cfg.Kafka.FlushInterval,
		}, app.service, logger)
		if err == nil && consumer != nil {
			defer consumer.Close()
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	logger.Info().Msg("Server shutdown complete")
}

// app bundles the wired service with everything that must be closed on exit
type app struct {
	service *server.OrderBookService
	handler http.Handler
	closers []io.Closer
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	store, err := a.openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	var sender messaging.MessageSender = messaging.NewLogMessageSender(logger)
	if cfg.Kafka.Enabled {
		ks, err := kafka.NewKafkaMessageSender(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create notification sender: %w", err)
		}
		a.closers = append(a.closers, ks)
		sender = ks
	}

	var namer core.ItemNamer
	if cfg.Items.BaseURL != "" {
		resolver := items.NewResolver(items.Config{
			BaseURL:         cfg.Items.BaseURL,
			Timeout:         cfg.Items.Timeout,
			RefreshInterval: cfg.Items.RefreshInterval,
			RateLimit:       cfg.Items.RateLimit,
			MaxRetries:      cfg.Items.MaxRetries,
		}, logger)
		a.closers = append(a.closers, resolver)
		resolver.RefreshInBackground()
		namer = resolver
	}

	manager := server.NewOrderBookManager()
	a.service = server.NewOrderBookService(manager, store, sender, namer,
		server.WithOrderTTL(cfg.Storage.OrderTTL),
		server.WithMaxOrderAge(cfg.Storage.MaxOrderAge),
		server.WithHydrationRetry(cfg.Hydration.MaxAttempts, cfg.Hydration.BaseDelay),
		server.WithMetrics(otel.GetEngineMetrics()),
	)

	httpMetrics, err := otel.NewHTTPServerMetrics(otel.GetMeterProvider().Meter("github.com/erain9/bazaarbook/cmd/server"))
	if err != nil {
		logger.Warn().Err(err).Msg("HTTP metrics disabled")
		httpMetrics = nil
	}
	a.handler = server.NewHandler(a.service, httpMetrics)
	return a, nil
}

func (a *app) openStore(cfg *config.Config, logger zerolog.Logger) (core.OrderStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		redisbackend.SetDefaultRedisOptions(&redisbackend.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client := redisbackend.GetRedisClient()
		a.closers = append(a.closers, client)
		zl, err := zap.NewProduction()
		if err != nil {
			zl = zap.NewNop()
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis order store")
		return redisbackend.NewRedisBackend(client, cfg.Redis.Prefix, zl), nil
	case config.StoragePebble:
		store, err := pebble.Open(cfg.Storage.PebbleDir)
		if err != nil {
			return nil, fmt.Errorf("open pebble store: %w", err)
		}
		a.closers = append(a.closers, store)
		logger.Info().Str("dir", cfg.Storage.PebbleDir).Msg("Using pebble order store")
		return store, nil
	default:
		logger.Warn().Msg("Using in-memory order store, orders are lost on restart")
		return memory.NewMemoryBackend(), nil
	}
}

// Close releases resources in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}
