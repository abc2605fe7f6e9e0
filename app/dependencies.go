package app

import (
	"context"
	"fmt"
	"time"

	"github.com/arcoportus/portal/config"
	"github.com/arcoportus/portal/handlers"
	"github.com/arcoportus/portal/middleware"
	"github.com/arcoportus/portal/repositories"
	"github.com/arcoportus/portal/repositories/postgres"
	"github.com/arcoportus/portal/services/audit"
	"github.com/arcoportus/portal/services/auth"
	"github.com/arcoportus/portal/services/identity"
	"github.com/arcoportus/portal/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	AuditEvents repositories.AuditRepository

	// Services
	Codec      *session.Codec
	Identity   *identity.Client
	Recorder   *audit.Recorder
	Sweeper    *audit.Sweeper
	AuditQuery *audit.QueryService
	Gateway    *auth.Gateway

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	AuthHandler    *handlers.AuthHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies opens the databases and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires the application over an already opened repository factory
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := factory.InitAuditSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	deps.AuditEvents = factory.NewRepositories().AuditEvents

	if err := deps.initServices(cfg); err != nil {
		return nil, err
	}
	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	codec, err := session.NewCodec(cfg.Auth.JWTSecret, session.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return fmt.Errorf("failed to create session codec: %w", err)
	}
	d.Codec = codec

	d.Identity = identity.NewClient(identity.Config{
		BaseURL: cfg.Identity.BaseURL,
		APIKey:  cfg.Identity.APIKey,
		Timeout: cfg.Identity.Timeout,
	}, d.Logger.Named("identity"))

	d.Recorder = audit.NewRecorder(d.AuditEvents, d.Logger.Named("audit"), audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})
	if err := d.Recorder.Start(); err != nil {
		return fmt.Errorf("failed to start audit recorder: %w", err)
	}

	d.Sweeper = audit.NewSweeper(d.AuditEvents, d.Logger.Named("retention"), audit.SweeperConfig{
		Retention:    cfg.Audit.Retention,
		Interval:     cfg.Audit.SweepEvery,
		InitialDelay: cfg.Audit.InitialDelay,
	})
	d.AuditQuery = audit.NewQueryService(d.AuditEvents, d.Logger)

	d.Gateway = auth.NewGateway(d.Identity, d.Codec, d.Recorder, d.Logger.Named("auth"), auth.Config{
		ServiceName:  cfg.Identity.ServiceName,
		TokenTTL:     cfg.Auth.TokenTTL,
		StaleAfter:   cfg.Auth.StaleAfter,
		RefreshGrace: cfg.Auth.RefreshGrace,
	})
	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Codec, d.Recorder, d.Logger)
	if cfg.RateLimit.Enabled {
		d.RateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, d.Logger)
	}

	d.AuthHandler = handlers.NewAuthHandler(d.Gateway, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditQuery, d.Logger)

	checks := map[string]handlers.HealthChecker{"database": d.DB}
	if auditDB := d.RepoFactory.AuditDB(); auditDB != nil {
		checks["audit_database"] = auditDB
	}
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Logger)
}

// Close gracefully shuts down all dependencies. The audit queue is drained before the
// database connections are closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Recorder != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit recorder: %w", err))
		} else {
			d.Logger.Info("audit recorder drained")
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
