package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/meterline/pkg/app"
	"github.com/platinummonkey/meterline/pkg/config"
	"github.com/platinummonkey/meterline/pkg/observability"
)

var (
	configFile = flag.String("config", os.Getenv(config.ConfigFileEnv), "Path to a YAML configuration file")
	runOnce    = flag.Bool("run-once", false, "Run billing and the overdue sweep once and exit")
	billDate   = flag.String("date", "", "Date to bill (YYYY-MM-DD). If empty, bills the current period. Only used with --run-once")
	migrate    = flag.Bool("migrate", false, "Apply database migrations before starting")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *migrate {
		cfg.Database.AutoMigrate = true
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "billing-scheduler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	j := newJobs(rt.Service.Scheduler().RunAt, rt.Service.SweepOverdue, log, cfg.Billing.RunTimeout)

	// Run once mode (for manual runs or backfilling a period)
	if *runOnce {
		at := time.Now().UTC()
		if *billDate != "" {
			at, err = time.Parse("2006-01-02", *billDate)
			if err != nil {
				log.Fatalf("Invalid date format: %v", err)
			}
		}

		sm := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
		rt.RegisterShutdown(sm)

		runErr := j.runOnce(ctx, at)
		if err := sm.Shutdown(); err != nil {
			log.WithError(err).Warn("Shutdown incomplete")
		}
		if runErr != nil {
			log.Fatalf("Billing run failed: %v", runErr)
		}
		log.Info("Billing run completed")
		return
	}

	rt.Start(ctx)

	// Scheduled mode; billing periods are UTC calendar periods
	c := cron.New(cron.WithLocation(time.UTC))

	_, err = c.AddFunc(cfg.Billing.Schedule, func() {
		defer observability.RecoverPanic(logger, "billing run")
		j.runBilling(ctx, time.Now().UTC())
	})
	if err != nil {
		log.Fatalf("Failed to schedule billing run: %v", err)
	}

	_, err = c.AddFunc(cfg.Billing.OverdueSchedule, func() {
		defer observability.RecoverPanic(logger, "overdue sweep")
		j.sweepOverdue(ctx)
	})
	if err != nil {
		log.Fatalf("Failed to schedule overdue sweep: %v", err)
	}

	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter(rt),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Infof("Health endpoint listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Health server failed")
		}
	}()

	c.Start()
	log.Info("Meterline billing scheduler started")
	log.Infof("Billing schedule: %s", cfg.Billing.Schedule)
	log.Infof("Overdue sweep schedule: %s", cfg.Billing.OverdueSchedule)

	sm := observability.NewShutdownManager(logger, healthServer, cfg.Server.ShutdownTimeout)
	sm.Register("scheduler", func(shutdownCtx context.Context) error {
		// running jobs finish before the connections they use are closed
		select {
		case <-c.Stop().Done():
		case <-shutdownCtx.Done():
			cancel()
		}
		return rt.Close(shutdownCtx)
	})

	if err := sm.WaitForSignal(ctx); err != nil {
		log.WithError(err).Error("Shutdown incomplete")
		os.Exit(1)
	}
	log.Info("Billing scheduler stopped")
}

func healthRouter(rt *app.Runtime) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, rt.Health)
	if rt.Registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(rt.Registry)).Methods(http.MethodGet)
	}
	return router
}
