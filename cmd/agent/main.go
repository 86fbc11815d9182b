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

	"fleetsync/internal/alert"
	"fleetsync/internal/api"
	"fleetsync/internal/app"
	"fleetsync/internal/config"
	"fleetsync/internal/domain"
	"fleetsync/internal/gps"
	"fleetsync/internal/logging"
	"fleetsync/internal/metrics"
	"fleetsync/internal/netmon"
	"fleetsync/internal/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer cleanup()

	client := api.NewClient(ctx, cfg.API, logging.Component(&logger, "api-client"))

	application, err := app.New(cfg, app.Deps{
		Store:        store,
		Submitter:    client,
		Sender:       client,
		Location:     initLocation(cfg, &logger),
		Connectivity: netmon.NewHTTPProbe(cfg.Network.ProbeURL, cfg.Network.ProbeInterval, cfg.Network.ProbeTimeout, logging.Component(&logger, "probe")),
		Notifier:     initNotifier(cfg, &logger),
		Logger:       &logger,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer application.Close()

	startMetrics(ctx, cfg, &logger)

	return application.Start(ctx)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	return cfg, logger, closer, nil
}

// initStore opens the configured KV store, optionally behind an in-memory
// failover so captures survive a storage outage for the process lifetime.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.KVStore, func(), error) {
	var (
		store   domain.KVStore
		cleanup = func() {}
	)

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		sqlite, err := repository.NewSQLiteKVStore(cfg.Storage.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.Storage.Path).Msg("init sqlite store")
			return nil, nil, err
		}
		store = sqlite
		cleanup = func() { _ = sqlite.Close() }
		logger.Info().Str("path", cfg.Storage.Path).Msg("sqlite store opened")

	case config.DriverRedis:
		client := repository.NewRedisClient(cfg.Storage.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			if !cfg.Storage.Failover {
				_ = client.Close()
				return nil, nil, fmt.Errorf("redis connection failed: %w", err)
			}
			logger.Warn().Err(err).Msg("redis connection failed, starting on failover store")
		} else {
			logger.Info().Str("addr", cfg.Storage.Redis.Address).Msg("redis connected")
		}
		store = repository.NewRedisKVStore(client)
		cleanup = func() { _ = repository.Close(client) }

	case config.DriverMemory:
		logger.Warn().Msg("memory store selected, queued proofs will not survive a restart")
		return repository.NewMemoryKVStore(), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}

	if cfg.Storage.Failover {
		store = repository.NewFailoverKVStore(store, repository.NewMemoryKVStore(), logging.Component(logger, "failover"))
	}
	return store, cleanup, nil
}

func initLocation(cfg *config.Config, logger *zerolog.Logger) domain.LocationProvider {
	if cfg.GPS.RouteFile == "" {
		logger.Warn().Msg("no route file configured, GPS samples will fail until a location source is attached")
		return gps.UnavailableProvider{}
	}

	route, err := gps.LoadRoute(cfg.GPS.RouteFile)
	if err != nil {
		logger.Warn().Err(err).Str("route_file", cfg.GPS.RouteFile).Msg("load route failed")
		return gps.UnavailableProvider{}
	}
	sim, err := gps.NewRouteSimulator(*route)
	if err != nil {
		logger.Warn().Err(err).Str("route_file", cfg.GPS.RouteFile).Msg("invalid route")
		return gps.UnavailableProvider{}
	}

	logger.Info().Str("route", route.Name).Int("waypoints", len(route.Waypoints)).Msg("route simulator enabled")
	return sim
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.ExhaustedNotifier {
	tg := cfg.Alerts.Telegram
	if !tg.Enabled {
		return alert.NopNotifier{}
	}

	bot, err := alert.NewTelegramBot(tg)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return alert.NopNotifier{}
	}

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(tg.ChatIDs)).Msg("telegram alerts enabled")
	return alert.NewTelegramNotifier(bot, tg.ChatIDs, cfg.GPS.TruckID, logging.Component(logger, "alert"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
