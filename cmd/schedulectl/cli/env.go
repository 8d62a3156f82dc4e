package cli

import (
	"context"
	"errors"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/wasteplan/internal/app"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/platform/cache"
	"github.com/odyssey-erp/wasteplan/internal/platform/db"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
	"github.com/odyssey-erp/wasteplan/internal/shared"
	"github.com/odyssey-erp/wasteplan/jobs"
)

// Service is the part of the schedule service the commands drive.
type Service interface {
	AvailableVersions(ctx context.Context, ym shared.YearMonth) (schedule.VersionHistory, error)
	SnapshotMonth(ctx context.Context, ym shared.YearMonth, user string) (plan.Version, error)
	ReconcileVersion(ctx context.Context, ym shared.YearMonth, version plan.Version, tol reconcile.Tolerances) (reconcile.Result, error)
}

// Queue submits and inspects background plan jobs.
type Queue interface {
	EnqueuePlanSnapshot(ctx context.Context, payload jobs.PlanSnapshotPayload) (*asynq.TaskInfo, error)
	EnqueuePlanReconcile(ctx context.Context, payload jobs.PlanReconcilePayload) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Env is what a command runs against. Queue and Migrate may be nil.
type Env struct {
	Service    Service
	Queue      Queue
	Tolerances reconcile.Tolerances
	Migrate    func(ctx context.Context) error
	Close      func()
}

// ErrQueueUnavailable is returned by queue commands when Redis is not configured.
var ErrQueueUnavailable = errors.New("job queue not configured")

// ErrMigrateUnavailable is returned by migrate on the memory backend.
var ErrMigrateUnavailable = errors.New("migrate requires the postgres backend")

// SetupFromEnv loads the environment configuration and wires the service graph.
// Logs go to logOut so command output stays clean.
func SetupFromEnv(logOut io.Writer) func(ctx context.Context) (*Env, error) {
	return func(ctx context.Context) (*Env, error) {
		cfg, err := app.LoadConfig()
		if err != nil {
			return nil, err
		}
		logger := app.NewLoggerTo(cfg, logOut)
		container, err := app.Build(ctx, cfg, logger, app.BuildOptions{SkipCache: true})
		if err != nil {
			return nil, err
		}
		env := &Env{
			Service:    container.Schedule,
			Tolerances: cfg.Tolerances(),
		}
		var jobsCLI *JobsCLI
		if !app.InTestMode() && cfg.RedisAddr != "" {
			jobsCLI = NewJobsCLI(cache.QueueOpts(cfg.RedisAddr))
			env.Queue = jobsCLI
		}
		if pool := container.Pool; pool != nil {
			env.Migrate = func(ctx context.Context) error { return db.Migrate(ctx, pool) }
		}
		env.Close = func() {
			if jobsCLI != nil {
				_ = jobsCLI.Close()
			}
			container.Close()
		}
		return env, nil
	}
}
