package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmslite/netmon/internal/alerts"
	"github.com/nmslite/netmon/internal/api"
	"github.com/nmslite/netmon/internal/auth"
	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/credentials"
	"github.com/nmslite/netmon/internal/database"
	"github.com/nmslite/netmon/internal/discovery"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/fingerprint"
	"github.com/nmslite/netmon/internal/poller"
	"github.com/nmslite/netmon/internal/probe"
	"github.com/nmslite/netmon/internal/status"
	"github.com/nmslite/netmon/internal/store"
	"github.com/nmslite/netmon/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func runServer(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := initLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting netmon",
		"version", Version,
		"addr", cfg.Server.Addr(),
		"storage", cfg.Database.Driver,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	authService, err := auth.NewService(
		cfg.Auth.JWTSecret,
		cfg.Auth.EncryptionKey,
		cfg.Auth.AdminUsername,
		cfg.Auth.AdminPassword,
		cfg.Auth.GetJWTExpiry(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}
	credentialService := credentials.NewService(authService.Cipher(), st)

	// Events fan out to the log, websocket clients and, when configured,
	// a JetStream stream.
	hub := events.NewHub(logger)
	defer hub.Close()
	bus := events.NewBus(cfg.Events.BufferSize, logger, events.NewLogSink(logger), hub)
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(ctx, cfg.Events, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		bus.AddSink(sink)
	}

	fp, err := fingerprint.New(cfg.Fingerprint.VendorTable)
	if err != nil {
		return fmt.Errorf("failed to load vendor table: %w", err)
	}

	icmpProber := probe.NewICMPProber(cfg.Poller.ICMPCount, cfg.Poller.ICMPPrivileged, logger)
	snmpProber := probe.NewSNMPProber(cfg.Poller.SNMPRetries, cfg.Poller.CollectInterfaces, cfg.Poller.CollectVolumes, logger)
	snmpProber.CollectTimeout = cfg.Poller.GetSNMPCollectTimeout()

	batchWriter := poller.NewBatchWriter(st, &cfg.Metrics, logger)
	aggregator := status.NewAggregator(st, st, batchWriter, bus, logger)

	alertEngine := alerts.NewEngine(st, bus, logger)
	if err := alertEngine.Restore(ctx); err != nil {
		logger.Warn("failed to restore open alerts", "error", err)
	}
	var evaluator poller.AlertEvaluator
	if !cfg.Alerts.Disabled {
		evaluator = alertEngine
	}

	scheduler := poller.NewScheduler(st, credentialService, icmpProber, snmpProber, aggregator, evaluator, &cfg.Poller, logger)

	runner := discovery.NewRunner(st, st, credentialService, discovery.Probers{
		ICMP: icmpProber,
		SNMP: probe.NewSNMPProber(0, false, false, logger),
		TCP:  probe.NewTCPProber(cfg.Discovery.EvidencePorts),
	}, fp, bus, cfg.Discovery, logger)

	router := api.NewRouter(api.Dependencies{
		Auth:         authService,
		Devices:      st,
		Credentials:  credentialService,
		CredStore:    st,
		Poller:       scheduler,
		Availability: aggregator,
		Discovery:    runner,
		Alerts:       alertEngine,
		Storage:      st,
		Events:       hub.ServeWs,
		Metrics:      telemetry.Handler(),
		MetricsPath:  cfg.Metrics.PrometheusPath,
		CORS:         cfg.CORS,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(bus.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(batchWriter.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(runner.Run(gctx)) })

	if err := runner.Resume(gctx); err != nil {
		logger.Error("failed to resume discovery jobs", "error", err)
	}

	if cfg.Poller.Disabled {
		logger.Info("poll scheduler disabled by configuration")
	} else {
		g.Go(func() error { return ignoreCanceled(scheduler.Run(gctx)) })
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("netmon stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// openStore selects the storage backend. Postgres migrations run on start.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory storage, state is lost on restart")
		return store.NewMemory(), nil
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db init failed: %w", err)
	}
	if err := database.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewPostgres(pool), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
