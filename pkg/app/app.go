package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/meterline/pkg/async"
	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/config"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/storage/postgres"
	"github.com/platinummonkey/meterline/pkg/tenants"
	"github.com/platinummonkey/meterline/pkg/webhooks"
)

// Runtime holds the long-lived collaborators shared by the API server and
// the billing scheduler
type Runtime struct {
	Config     *config.Config
	Logger     *observability.Logger
	DB         *postgres.ConnectionManager
	Redis      *redis.Client
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Health     *observability.HealthChecker
	Dispatcher *async.Dispatcher
	Service    *billing.DefaultService

	otel   *observability.OTelProviders
	cancel context.CancelFunc
}

// Resources are the external connections a Runtime is assembled from.
// Redis and Archive are optional.
type Resources struct {
	DB      *postgres.ConnectionManager
	Redis   *redis.Client
	Archive postgres.S3API
	OTel    *observability.OTelProviders
}

// New opens every configured connection and assembles the billing service
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Runtime, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
	if err != nil {
		providers.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, cm.Primary()); err != nil {
			cm.Close()
			providers.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	res := Resources{DB: cm, OTel: providers}

	if cfg.Redis.Enabled() {
		client, err := postgres.NewRedisClient(cfg.Redis.ClientConfig())
		if err != nil {
			cm.Close()
			providers.Shutdown(context.Background())
			return nil, err
		}
		res.Redis = client
		logger.Info("redis connected, distributed run lock and plan cache enabled")
	}

	if cfg.Archive.Enabled() {
		client, err := postgres.NewS3Client(ctx, cfg.Archive.S3Config())
		if err != nil {
			res.close()
			return nil, err
		}
		res.Archive = client
	}

	rt, err := Assemble(ctx, cfg, logger, res)
	if err != nil {
		res.close()
		return nil, err
	}
	return rt, nil
}

func (r Resources) close() {
	if r.Redis != nil {
		r.Redis.Close()
	}
	if r.DB != nil {
		r.DB.Close()
	}
	r.OTel.Shutdown(context.Background())
}

// Assemble builds a Runtime from already opened resources
func Assemble(ctx context.Context, cfg *config.Config, logger *observability.Logger, res Resources) (*Runtime, error) {
	if res.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	sched, err := cfg.Billing.SchedulerConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid billing configuration: %w", err)
	}

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		DB:         res.DB,
		Redis:      res.Redis,
		Dispatcher: async.NewDispatcher(logger, cfg.Billing.NotifyTimeout),
		otel:       res.OTel,
	}

	var recorders observability.MultiRecorder
	if cfg.Observability.MetricsEnabled {
		rt.Registry = prometheus.NewRegistry()
		rt.Registry.MustRegister(collectors.NewGoCollector())
		rt.Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rt.Metrics = observability.NewMetrics(rt.Registry)
		recorders = append(recorders, rt.Metrics)
	}
	if res.OTel != nil {
		otelMetrics, err := observability.NewOTelMetrics(res.OTel.MeterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	var directory tenants.Directory = tenants.NewPostgresDirectory(res.DB.Primary())
	var runLock billing.RunLock = billing.NewLocalRunLock()
	if res.Redis != nil {
		directory = postgres.NewCachedDirectory(directory, res.Redis, cfg.Redis.PlanCacheTTL, logger)
		runLock = postgres.NewRedisRunLock(res.Redis, cfg.Redis.LockTTL)
	}

	notifiers := billing.MultiNotifier{billing.NewLogNotifier(logger)}
	if res.Archive != nil {
		archiver := postgres.NewInvoiceArchiver(res.Archive, cfg.Archive.Bucket)
		if cfg.Archive.CreateBucket {
			if err := archiver.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("failed to prepare invoice archive: %w", err)
			}
		}
		notifiers = append(notifiers, archiver)
		logger.WithField("bucket", cfg.Archive.Bucket).Info("invoice archive enabled")
	}
	if cfg.Webhooks.Enabled() {
		hooks, err := webhooks.NewNotifier(cfg.Webhooks.NotifierConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure webhooks: %w", err)
		}
		notifiers = append(notifiers, hooks)
		logger.Infof("invoice webhooks enabled for %d endpoints", len(cfg.Webhooks.URLs))
	}

	deps := billing.Dependencies{
		Directory:  directory,
		Repository: postgres.NewInvoiceRepository(res.DB),
		RunLock:    runLock,
		Notifier:   notifiers,
		Dispatcher: rt.Dispatcher,
		Logger:     logger,
	}
	if len(recorders) > 0 {
		deps.Metrics = recorders
	}
	rt.Service = billing.NewService(deps, billing.ServiceConfig{
		InvoicePrefix: cfg.Billing.InvoicePrefix,
		Scheduler:     sched,
	})

	rt.Health = observability.NewHealthChecker(res.DB.Primary(), res.Redis).
		WithVersion(cfg.Observability.OTelServiceVersion)
	rt.Health.AddCheck("replicas", false, res.DB.HealthCheck)

	return rt, nil
}

// Start launches the background maintenance loops. They stop when ctx is
// done or the Runtime is closed.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(ctx)

	if len(rt.Config.Database.ReplicaURLs) > 0 {
		rt.DB.StartHealthCheckRoutine(ctx, rt.Config.Database.ReplicaCheckInterval)
	}

	if rt.Metrics != nil {
		go func() {
			defer observability.RecoverPanic(rt.Logger, "db stats collector")
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rt.Metrics.UpdateDBStats(rt.DB.Stats().Primary)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// RegisterShutdown adds Close to sm
func (rt *Runtime) RegisterShutdown(sm *observability.ShutdownManager) {
	sm.Register("runtime", rt.Close)
}

// Close stops the background loops, drains in-flight invoice notifications
// and closes every connection
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.cancel != nil {
		rt.cancel()
	}
	if err := rt.Dispatcher.Wait(ctx); err != nil {
		rt.Logger.WithError(err).Warn("pending invoice notifications abandoned")
	}

	var errs []error
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if err := rt.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
