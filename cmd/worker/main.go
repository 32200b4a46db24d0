package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/glasswerk-erp/glasswerk-authz/internal/app"
	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
	"github.com/glasswerk-erp/glasswerk-authz/internal/dedup"
	"github.com/glasswerk-erp/glasswerk-authz/internal/identity"
	"github.com/glasswerk-erp/glasswerk-authz/internal/permcache"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/cache"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/db"
	"github.com/glasswerk-erp/glasswerk-authz/internal/propagate"
	"github.com/glasswerk-erp/glasswerk-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

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

	permCache := permcache.New(redisClient, cfg.CacheTTL)
	auditRecorder := audit.NewRecorder(pool)

	identityRepo := identity.NewRepository(pool)
	propagator := propagate.New(identityRepo, logger, cfg.DealerRole)

	dedupRepo := dedup.NewRepository(pool)
	dedupService := dedup.NewService(dedupRepo, permCache, auditRecorder, logger)

	dedupJob := jobs.NewDedupJob(dedupService, logger)
	dxfSyncJob := jobs.NewDXFSyncJob(propagator, logger)

	dxfSyncTask, err := jobs.NewDXFSyncTask(cfg.DefaultGuard)
	if err != nil {
		logger.Error("build dxf sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDedupRun, Handler: dedupJob.Handle},
			{Type: jobs.TaskDXFSync, Handler: dxfSyncJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 1 * * *", Task: dxfSyncTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
