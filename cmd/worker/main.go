package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/wasteplan/internal/app"
	jobmetrics "github.com/odyssey-erp/wasteplan/internal/jobs"
	"github.com/odyssey-erp/wasteplan/internal/platform/cache"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
	"github.com/odyssey-erp/wasteplan/jobs"
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

	container, err := app.Build(ctx, cfg, logger, app.BuildOptions{})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	metrics := jobmetrics.NewMetrics(nil)
	snapshotJob := schedule.NewSnapshotJob(container.Schedule, metrics, logger)
	reconcileJob := schedule.NewReconcileJob(container.Schedule, cfg.Tolerances(), metrics, logger)

	var crons []jobs.CronRegistration
	if cfg.SnapshotCron != "" {
		snapshotTask, err := jobs.NewPlanSnapshotTask(jobs.PlanSnapshotPayload{User: "cron"})
		if err != nil {
			logger.Error("build snapshot task", slog.Any("error", err))
			os.Exit(1)
		}
		crons = append(crons, jobs.CronRegistration{Spec: cfg.SnapshotCron, Task: snapshotTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cache.QueueOpts(cfg.RedisAddr),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPlanSnapshot, Handler: snapshotJob.Handle},
			{Type: jobs.TaskPlanReconcile, Handler: reconcileJob.Handle},
		},
		Cron: crons,
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
