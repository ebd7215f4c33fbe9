// Package app wires every carbroker component together and runs the
// service in its selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hopgate/carbroker/internal/config"
	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/internal/platform"
	"github.com/hopgate/carbroker/internal/telemetry"
	"github.com/hopgate/carbroker/pkg/agreement"
	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/booking"
	"github.com/hopgate/carbroker/pkg/company"
	"github.com/hopgate/carbroker/pkg/coverage"
	"github.com/hopgate/carbroker/pkg/health"
	"github.com/hopgate/carbroker/pkg/mockadapter"
	"github.com/hopgate/carbroker/pkg/otaenvelope"
	"github.com/hopgate/carbroker/pkg/sourceadapter"
	"github.com/hopgate/carbroker/pkg/unlocode"
)

// Run reads config, connects to infrastructure, wires every domain
// component, and starts the selected mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting carbroker", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg)
	case "seed":
		return unlocode.RunSeed(ctx, unlocode.NewStore(db), logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// unlocodeDictionary adapts unlocode.Store's List (which returns full
// records) to coverage.Dictionary's bare-code contract.
type unlocodeDictionary struct {
	store *unlocode.Store
}

func (d unlocodeDictionary) List(ctx context.Context) ([]string, error) {
	full, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(full))
	for _, u := range full {
		codes = append(codes, u.Code)
	}
	return codes, nil
}

// components bundles every wired domain object runAPI and runWorker share.
type components struct {
	companies   *company.Store
	unlocodes   *unlocode.Store
	coverage    *coverage.Resolver
	coverageLoc *coverage.Store
	agreements  *agreement.Manager
	health      *health.Monitor
	adapters    *sourceadapter.AdapterRegistry
	availStore  *availability.Store
	engine      *availability.FanOutEngine
	bookings    *booking.Store
	history     *booking.HistoryWriter
	bookingCore *booking.Core
	envelopes   *otaenvelope.Builder
}

func wire(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) *components {
	companies := company.NewStore(db)
	unlocodes := unlocode.NewStore(db)
	coverageStore := coverage.NewStore(db)
	agreementStore := agreement.NewStore(db, db)
	agreements := agreement.NewManager(agreementStore, companies, logger)

	resolver := coverage.NewResolver(coverageStore, agreements, unlocodeDictionary{store: unlocodes})

	thresholds := health.Thresholds{
		SlowThresholdMS:      cfg.SlowThresholdMS,
		SlowRateThreshold:    cfg.SlowRateThreshold,
		MinSamplesForBackoff: int64(cfg.MinSamplesForBackoff),
		MaxBackoffHours:      cfg.MaxBackoffHours,
	}
	healthStore := health.NewStore(db, db)
	healthMonitor := health.NewMonitor(healthStore, rdb, logger, thresholds, cfg.HealthEnabled,
		telemetry.SourceExclusionsTotal, telemetry.SourceSlowRate)

	adapters := sourceadapter.NewAdapterRegistry(companies)
	adapters.RegisterFactory(company.TransportMock, mockadapter.Factory)

	availStore := availability.NewStore(db, db)
	availStore.SetPollStep(time.Duration(cfg.PollStepMS) * time.Millisecond)
	engineCfg := availability.EngineConfig{
		PerCallTimeout: time.Duration(cfg.FanoutTimeoutMS) * time.Millisecond,
		GlobalSLA:      time.Duration(cfg.FanoutSLAMS) * time.Millisecond,
		Concurrency:    cfg.FanoutConcurrency,
		HardCancel:     cfg.FanoutHardCancel,
	}
	engine := availability.NewFanOutEngine(availStore, agreements, resolver, healthMonitor, adapters,
		engineCfg, logger, telemetry.FanoutJobsTotal, telemetry.FanoutSLABreachesTotal, telemetry.AdapterCallDuration)

	bookings := booking.NewStore(db, db)
	history := booking.NewHistoryWriter(db, logger)
	bookingCore := booking.NewCore(bookings, history, agreements, adapters, healthMonitor, logger,
		telemetry.BookingOperationsTotal, telemetry.AdapterCallDuration)

	envelopes := otaenvelope.NewBuilder(companies)

	return &components{
		companies:   companies,
		unlocodes:   unlocodes,
		coverage:    resolver,
		coverageLoc: coverageStore,
		agreements:  agreements,
		health:      healthMonitor,
		adapters:    adapters,
		availStore:  availStore,
		engine:      engine,
		bookings:    bookings,
		history:     history,
		bookingCore: bookingCore,
		envelopes:   envelopes,
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	c := wire(cfg, logger, db, rdb)

	c.history.Start(ctx)
	defer c.history.Close()

	purgeCtx, cancelPurge := context.WithCancel(ctx)
	defer cancelPurge()
	go availability.RunPurgeLoop(purgeCtx, c.availStore, time.Duration(cfg.JobTTLSeconds)*time.Second, 5*time.Minute, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	coverage.NewHandler(c.coverage, c.coverageLoc, c.unlocodes, c.adapters, logger).Mount(srv.APIRouter)
	health.NewHandler(c.health, logger).Mount(srv.APIRouter)
	pollCfg := availability.PollConfig{WaitMSMax: cfg.PollWaitMSMax, Batch: cfg.PollBatch}
	availability.NewHandler(c.engine, c.availStore, pollCfg, logger).Mount(srv.APIRouter)
	booking.NewHandler(c.bookingCore, logger).Mount(srv.APIRouter)
	agreement.NewHandler(c.agreements, logger).Mount(srv.APIRouter)
	otaenvelope.NewHandler(c.envelopes, c.availStore, c.bookings, logger).Mount(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker runs the background maintenance loop: the availability job
// purge sweep is the only scheduled job this service needs outside the API
// path (fan-out dispatch itself runs inline from Submit, not from a queue).
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, _ *prometheus.Registry) error {
	c := wire(cfg, logger, db, rdb)
	logger.Info("worker started")
	availability.RunPurgeLoop(ctx, c.availStore, time.Duration(cfg.JobTTLSeconds)*time.Second, 5*time.Minute, logger)
	return ctx.Err()
}
