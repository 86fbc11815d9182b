// Package app wires the offline sync engine, connectivity monitor, GPS
// reporter and control API into one process-wide object.
package app

import (
	"context"
	"errors"
	"time"

	"fleetsync/internal/alert"
	"fleetsync/internal/api"
	"fleetsync/internal/config"
	"fleetsync/internal/domain"
	"fleetsync/internal/gps"
	"fleetsync/internal/logging"
	"fleetsync/internal/models"
	"fleetsync/internal/netmon"
	"fleetsync/internal/queue"
	"fleetsync/internal/status"
	"fleetsync/internal/syncer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

// Deps are the host-provided collaborators.
type Deps struct {
	Store        domain.KVStore
	Submitter    domain.ProofSubmitter
	Sender       domain.PositionSender
	Location     domain.LocationProvider
	Connectivity netmon.ConnectivitySource
	Notifier     domain.ExhaustedNotifier
	Logger       *zerolog.Logger
}

type App struct {
	cfg    *config.Config
	logger *zerolog.Logger

	Queue    *queue.Queue
	Status   *status.Store
	Facade   *status.Facade
	Engine   *syncer.Engine
	Monitor  *netmon.Monitor
	Reporter *gps.Reporter
	Server   *api.HTTPServer
}

func New(cfg *config.Config, deps Deps) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case deps.Store == nil:
		return nil, errors.New("kv store is required")
	case deps.Submitter == nil:
		return nil, errors.New("proof submitter is required")
	case deps.Sender == nil:
		return nil, errors.New("position sender is required")
	case deps.Connectivity == nil:
		return nil, errors.New("connectivity source is required")
	}
	if deps.Location == nil {
		deps.Location = gps.UnavailableProvider{}
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.NopNotifier{}
	}

	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	a := &App{cfg: cfg, logger: logging.Component(logger, "app")}

	a.Queue = queue.New(deps.Store, logging.Component(logger, "queue"))
	a.Status = status.NewStore(deps.Store, logging.Component(logger, "status"))
	a.Facade = status.NewFacade(a.Status)
	a.Monitor = netmon.NewMonitor(deps.Connectivity, a.triggerSync, logging.Component(logger, "netmon"))

	opts := syncer.Options{
		Retry:    syncer.RetryPolicy{MaxRetries: cfg.Sync.MaxRetries},
		Notifier: deps.Notifier,
		Logger:   logging.Component(logger, "syncer"),
	}
	if cfg.Sync.RateLimit.RPS > 0 {
		burst := cfg.Sync.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Sync.RateLimit.RPS), burst)
	}
	a.Engine = syncer.NewEngine(a.Queue, a.Status, deps.Submitter, a.Monitor, opts)

	a.Reporter = gps.NewReporter(deps.Location, deps.Sender, gps.Config{
		TruckID:        cfg.GPS.TruckID,
		Interval:       cfg.GPS.Interval,
		BufferCapacity: cfg.GPS.BufferCapacity,
	}, logging.Component(logger, "gps"))

	if cfg.Server.Enabled {
		a.Server = api.NewHTTPServer(cfg.Server, a.Engine, a.Facade, a.Reporter, a.Monitor, logging.Component(logger, "control-api"))
	}
	return a, nil
}

func (a *App) triggerSync(ctx context.Context) {
	res := a.Engine.SyncAll(ctx)
	if res.Synced > 0 || res.Failed > 0 {
		a.logger.Info().Int("synced", res.Synced).Int("failed", res.Failed).Msg("Auto-sync after reconnect")
	}
}

// Start restores persisted state and runs the monitor and control API until
// ctx is done or one of them fails.
func (a *App) Start(ctx context.Context) error {
	if err := a.Status.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Sync status not restored, starting fresh")
	}
	a.Engine.RefreshStatus(ctx)

	if s := models.TruckStatus(a.cfg.GPS.InitialStatus); s != "" {
		a.Reporter.SetStatus(s)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Monitor.Run(gctx)
	})

	if a.Server != nil {
		g.Go(func() error {
			return a.Server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.Server.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info().
		Str("truck_id", a.cfg.GPS.TruckID).
		Bool("control_api", a.Server != nil).
		Int("max_retries", a.Engine.MaxRetries()).
		Msg("Agent started")

	err := g.Wait()
	a.logger.Info().Msg("Agent stopped")
	return err
}

// Close stops GPS tracking and waits for in-flight samples.
func (a *App) Close() {
	a.Reporter.Stop()
}
