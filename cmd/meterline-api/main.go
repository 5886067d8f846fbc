package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/meterline/pkg/api"
	"github.com/platinummonkey/meterline/pkg/app"
	"github.com/platinummonkey/meterline/pkg/config"
	"github.com/platinummonkey/meterline/pkg/observability"
)

func main() {
	configFile := flag.String("config", os.Getenv(config.ConfigFileEnv), "Path to a YAML configuration file")
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	if err := run(*configFile, *migrate); err != nil {
		fmt.Fprintf(os.Stderr, "meterline-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, migrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if migrate {
		cfg.Database.AutoMigrate = true
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "meterline-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	rt.Start(ctx)

	server := api.NewServer(api.ServerOptions{
		Service:      rt.Service,
		Logger:       logger,
		Metrics:      rt.Metrics,
		Registry:     rt.Registry,
		Health:       rt.Health,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	rt.RegisterShutdown(sm)

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("meterline API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err, ok := <-serveErr; ok {
			logger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	if err := sm.WaitForSignal(waitCtx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	logger.Info("meterline API stopped")
	return nil
}
