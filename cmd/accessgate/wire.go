package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/breaker"
	"github.com/platinummonkey/accessgate/pkg/config"
	"github.com/platinummonkey/accessgate/pkg/emulation"
	"github.com/platinummonkey/accessgate/pkg/jobs"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/rbac"
	"github.com/platinummonkey/accessgate/pkg/storage"
	"github.com/platinummonkey/accessgate/pkg/storage/postgres"
)

const auditWriteTimeout = 5 * time.Second

// components is everything the servers and jobs share.
type components struct {
	db      *postgres.ConnectionManager
	redis   *redis.Client
	breaker *breaker.Breaker

	checker     *rbac.Checker
	memoryCache *rbac.MemoryCache

	limiter       middleware.Limiter
	memoryLimiter *middleware.FixedWindowLimiter

	auditLog     audit.Logger
	auditDB      *audit.DBLogger
	auditCleaner jobs.AuditCleaner

	verifier  auth.SessionVerifier
	codec     *emulation.CookieCodec
	resolver  *emulation.Resolver
	emulation *emulation.Service
	csrf      *middleware.CSRF
	gate      *middleware.Gate
	health    *observability.HealthChecker
}

type wireOptions struct {
	seedPermissions bool
}

// wire builds the components from cfg. Every opened resource is registered
// with shutdown before the next one is opened.
func wire(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics, shutdown *observability.ShutdownManager, opts wireOptions) (*components, error) {
	c := &components{}

	if err := c.openStorage(ctx, cfg, logger, metrics, otelMetrics, shutdown); err != nil {
		return nil, err
	}
	if err := c.buildPermissions(ctx, cfg, logger, metrics, opts); err != nil {
		return nil, err
	}
	if err := c.buildAudit(ctx, cfg, logger, shutdown); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Backend == config.BackendRedis {
		c.limiter = middleware.NewRedisLimiter(c.redis, cfg.RateLimit.RedisPrefix, logger.WithField("component", "ratelimit"))
	} else {
		c.memoryLimiter = middleware.NewFixedWindowLimiter()
		c.limiter = c.memoryLimiter
	}

	if err := c.buildVerifier(ctx, cfg, logger); err != nil {
		return nil, err
	}
	c.codec = emulation.NewCookieCodec(cfg.Emulation.Secret, cfg.Server.SecureCookies)
	c.resolver = emulation.NewResolver(c.codec, emulation.WithResolverLogger(logger.WithField("component", "emulation")))
	c.emulation = emulation.NewService(c.codec, c.auditLog,
		emulation.WithTTL(cfg.Emulation.TTL),
		emulation.WithServiceLogger(logger.WithField("component", "emulation")),
		emulation.WithEventObserver(metrics.ObserveEmulation),
	)

	c.csrf = middleware.NewCSRF(cfg.Auth.CSRFSecret, cfg.Server.SecureCookies,
		middleware.WithCSRFTTL(cfg.Auth.CSRFTokenTTL),
		middleware.WithCSRFAudit(c.auditLog),
		middleware.WithCSRFLogger(logger.WithField("component", "csrf")),
	)
	c.gate = middleware.NewGate(c.checker, c.auditLog, logger.WithField("component", "gate"))

	healthOpts := []observability.HealthOption{
		observability.WithProbeTimeout(cfg.Breaker.QueryTimeout),
		observability.WithHealthMetrics(metrics),
	}
	if c.redis != nil {
		healthOpts = append(healthOpts, observability.WithRedisCheck(c.redis))
	}
	if otelMetrics != nil {
		healthOpts = append(healthOpts, observability.WithHealthOTelMetrics(otelMetrics))
	}
	c.health = observability.NewHealthChecker(c.primary(), c.breaker, healthOpts...)

	return c, nil
}

func (c *components) primary() *sql.DB {
	if c.db == nil {
		return nil
	}
	return c.db.Primary()
}

func (c *components) openStorage(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics, shutdown *observability.ShutdownManager) error {
	if cfg.Database.Enabled() {
		cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
			PrimaryURL:  cfg.Database.URL,
			ReplicaURLs: cfg.Database.ReplicaURLs,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			Timeout:     cfg.Database.ConnectTimeout,
			MaxLifetime: cfg.Database.MaxLifetime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
		}, logger.WithField("component", "postgres"))
		if err != nil {
			return err
		}
		c.db = cm
		shutdown.Register("postgres", func(context.Context) error { return cm.Close() })

		onState, onReject := breaker.StateChangeFunc(metrics.ObserveBreakerState), breaker.RejectFunc(metrics.ObserveBreakerRejection)
		if otelMetrics != nil {
			onState = func(name string, from, to breaker.State) {
				metrics.ObserveBreakerState(name, from, to)
				otelMetrics.ObserveBreakerState(name, from, to)
			}
			onReject = func(name string) {
				metrics.ObserveBreakerRejection(name)
				otelMetrics.ObserveBreakerRejection(name)
			}
		}
		c.breaker = breaker.New(breaker.Config{
			Name:             "database",
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			DefaultTimeout:   cfg.Breaker.QueryTimeout,
		},
			breaker.WithLogger(logger.WithField("component", "breaker")),
			breaker.WithStateChange(onState),
			breaker.WithReject(onReject),
			breaker.WithTracer(otel.Tracer("github.com/platinummonkey/accessgate/pkg/breaker")),
		)
		logger.WithField("replicas", cm.ReplicaCount()).Info("Connected to database")
	}

	if cfg.Redis.Enabled() {
		client, err := storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		c.redis = client
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		logger.Info("Connected to redis")
	}

	return nil
}

func (c *components) buildVerifier(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	if !cfg.Auth.OIDCEnabled() {
		c.verifier = auth.NewVerifier(cfg.Auth.SessionSecret,
			auth.WithIssuer(cfg.Auth.Issuer),
			auth.WithLeeway(cfg.Auth.Leeway),
		)
		return nil
	}

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID,
		auth.WithRoleClaim(cfg.Auth.OIDCRoleClaim),
	)
	if err != nil {
		return err
	}
	c.verifier = verifier
	logger.WithField("issuer", cfg.Auth.OIDCIssuer).Info("Verifying sessions with OIDC")
	return nil
}

// tableSource is a permission source that can also list its whole table
// for seeding.
type tableSource interface {
	rbac.Source
	Table() map[rbac.Role][]rbac.Permission
}

func (c *components) buildPermissions(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, metrics *observability.Metrics, opts wireOptions) error {
	var static tableSource = rbac.DefaultStaticSource()
	var file *rbac.FileSource
	if path := cfg.PermissionCache.PermissionsFile; path != "" {
		loaded, err := rbac.NewFileSource(path, logger.WithField("component", "permissions"))
		if err != nil {
			return err
		}
		static, file = loaded, loaded
	}

	var source rbac.Source = static
	checkerOpts := []rbac.CheckerOption{
		rbac.WithFetchTimeout(cfg.Breaker.QueryTimeout),
		rbac.WithLookupObserver(metrics.ObservePermissionLookup),
	}

	if c.db != nil {
		db := c.db.Primary()
		if err := rbac.ApplyMigrations(ctx, db); err != nil {
			return err
		}
		store := rbac.NewStore(db)
		if opts.seedPermissions {
			if err := store.Seed(ctx, static.Table()); err != nil {
				return err
			}
			logger.Info("Seeded role permissions")
		}
		source = store
		checkerOpts = append(checkerOpts, rbac.WithGuard(c.breaker))
	}

	var cache rbac.Cache
	if cfg.PermissionCache.Backend == config.BackendRedis {
		cache = rbac.NewRedisCache(c.redis, cfg.PermissionCache.TTL, logger.WithField("component", "permission_cache"))
	} else {
		c.memoryCache = rbac.NewMemoryCache(rbac.MemoryCacheConfig{
			TTL:        cfg.PermissionCache.TTL,
			MaxEntries: cfg.PermissionCache.MaxEntries,
		})
		cache = c.memoryCache
	}

	c.checker = rbac.NewChecker(source, cache, checkerOpts...)

	if file != nil && cfg.PermissionCache.WatchFile {
		if c.db != nil {
			logger.Warn("Permission file watch ignored: permissions come from the database")
			return nil
		}
		return file.Watch(ctx, func() { c.checker.Clear(ctx) })
	}
	return nil
}

func (c *components) buildAudit(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, shutdown *observability.ShutdownManager) error {
	logAudit := audit.NewLogrusLogger(logger.WithField("component", "audit"))
	if c.db == nil {
		c.auditLog = logAudit
		return nil
	}

	dbLogger, err := audit.NewDBLogger(ctx, c.db.Primary(),
		audit.WithGuard(c.breaker),
		audit.WithTimeout(cfg.Breaker.QueryTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize audit storage: %w", err)
	}
	c.auditDB = dbLogger
	c.auditCleaner = dbLogger

	if archive := cfg.Audit.Archive; archive.Enabled() {
		client, err := audit.NewS3Client(ctx, audit.S3Options{
			Region:       archive.Region,
			Endpoint:     archive.Endpoint,
			AccessKey:    archive.AccessKey,
			SecretKey:    archive.SecretKey,
			UsePathStyle: archive.UsePathStyle,
		})
		if err != nil {
			return err
		}
		c.auditCleaner = audit.NewArchiver(dbLogger, client, archive.Bucket, archive.Prefix, logger.WithField("component", "audit_archive"))
		logger.WithField("bucket", archive.Bucket).Info("Archiving expired audit events to S3")
	}

	async := audit.NewAsyncLogger(dbLogger, logger.WithField("component", "audit"), auditWriteTimeout)
	shutdown.Register("audit", func(context.Context) error { return async.Close() })

	c.auditLog = audit.NewFanout(logAudit, async)
	return nil
}
