package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/glasswerk-erp/glasswerk-authz/internal/app"
	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
	"github.com/glasswerk-erp/glasswerk-authz/internal/catalog"
	"github.com/glasswerk-erp/glasswerk-authz/internal/identity"
	"github.com/glasswerk-erp/glasswerk-authz/internal/matrix"
	"github.com/glasswerk-erp/glasswerk-authz/internal/observability"
	"github.com/glasswerk-erp/glasswerk-authz/internal/permcache"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/cache"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/db"
	"github.com/glasswerk-erp/glasswerk-authz/internal/propagate"
	"github.com/glasswerk-erp/glasswerk-authz/internal/resolver"
	"github.com/glasswerk-erp/glasswerk-authz/jobs"
)

// syncerAdapter bridges the propagator to the identity service's FlagSyncer port.
type syncerAdapter struct {
	propagator *propagate.Propagator
}

func (a syncerAdapter) SyncFromParent(ctx context.Context, userID int64) error {
	return a.propagator.SyncFromParent(ctx, userID)
}

func (a syncerAdapter) SyncChildren(ctx context.Context, dealerID int64) (int, int, error) {
	result, err := a.propagator.SyncChildren(ctx, dealerID)
	if err != nil {
		return 0, 0, err
	}
	return result.Updated, result.Failed, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	permCache := permcache.New(redisClient, cfg.CacheTTL).WithObserver(metrics)
	auditRecorder := audit.NewRecorder(pool)
	auditService := audit.NewService(audit.NewRepository(pool))

	identityRepo := identity.NewRepository(pool)
	propagator := propagate.New(identityRepo, logger, cfg.DealerRole)
	identityService := identity.NewService(identityRepo, syncerAdapter{propagator: propagator})

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, permCache)

	resolverService := resolver.NewService(catalogRepo, identityRepo, permCache, resolver.Config{
		SuperuserRole: cfg.SuperuserRole,
		DXFPermission: cfg.DXFPermission,
	})

	mutator := matrix.NewMutator(catalogRepo, permCache, auditRecorder, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		_ = inspector.Close()
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		CatalogHandler:  catalog.NewHandler(logger, catalogService),
		IdentityHandler: identity.NewHandler(logger, identityService),
		MatrixHandler:   matrix.NewHandler(logger, mutator),
		AuditHandler:    audit.NewHandler(logger, auditService),
		Authz:           resolver.Middleware{Service: resolverService, Logger: logger, Observer: metrics},
		JobsHandler:     jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("authd listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
