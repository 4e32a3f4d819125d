package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/accessgate/pkg/api"
	"github.com/platinummonkey/accessgate/pkg/config"
	"github.com/platinummonkey/accessgate/pkg/jobs"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const replicaCheckInterval = time.Minute

var (
	envFile         = flag.String("env-file", ".env", "Optional dotenv file read before the environment")
	seedPermissions = flag.Bool("seed-permissions", false, "Insert the static role permission table into the database on start")
	showVersion     = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("accessgate stopped with an error")
	}
}

func run() error {
	cfg, err := config.LoadFile(*envFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, nil)
	log := logger.WithFields(logrus.Fields{"service": "accessgate", "version": version})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, log)
	if err != nil {
		return err
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
	}

	c, err := wire(ctx, cfg, log, metrics, otelMetrics, shutdown, wireOptions{seedPermissions: *seedPermissions})
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}

	scheduler, err := scheduleJobs(cfg, c, log)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}
	scheduler.Start()
	shutdown.Register("jobs", scheduler.Stop)

	deps := api.Dependencies{
		Logger:    log,
		Verifier:  c.verifier,
		Resolver:  c.resolver,
		Emulation: c.emulation,
		Codec:     c.codec,
		Checker:   c.checker,
		Gate:      c.gate,
		CSRF:      c.csrf,
		Limiter:   c.limiter,
		AdminLimit: middleware.RateLimitConfig{
			Window: cfg.RateLimit.AdminWindow,
			Max:    cfg.RateLimit.AdminMax,
		},
		RateLimitOptions: []middleware.RateLimitOption{
			middleware.WithRateLimitAudit(c.auditLog),
			middleware.WithRateLimitLogger(log.WithField("component", "ratelimit")),
			middleware.WithDecisionObserver(metrics.ObserveRateLimit),
		},
		Audit:         c.auditLog,
		Health:        c.health,
		OTelMetrics:   otelMetrics,
		Tracing:       cfg.Observability.OTelEnabled,
		SecureCookies: cfg.Server.SecureCookies,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}
	if c.auditDB != nil {
		deps.AuditSearch = c.auditDB
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = metrics
	}

	server, err := api.NewServer(deps)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, c.health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Registered last so they stop first.
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("Starting API server")
		return serve(apiServer)
	})
	g.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("Starting health server")
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("accessgate stopped")
	return nil
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}

func scheduleJobs(cfg *config.Config, c *components, logger logrus.FieldLogger) (*jobs.Scheduler, error) {
	scheduler := jobs.NewScheduler(logger, jobs.WithJobTimeout(jobs.DefaultJobTimeout))

	if c.memoryLimiter != nil {
		if err := scheduler.AddSweep("rate-limit-sweep", cfg.RateLimit.SweepInterval, c.memoryLimiter); err != nil {
			return nil, err
		}
	}
	if c.memoryCache != nil {
		if err := scheduler.AddSweep("permission-cache-sweep", cfg.PermissionCache.SweepInterval, c.memoryCache); err != nil {
			return nil, err
		}
	}
	if c.auditCleaner != nil {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if err := scheduler.AddAuditRetention(cfg.Audit.CleanupSchedule, retention, c.auditCleaner); err != nil {
			return nil, err
		}
	}
	if c.db != nil && c.db.ReplicaCount() > 0 {
		if err := scheduler.AddReplicaCheck(replicaCheckInterval, c.db); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}
