package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/wasteplan/internal/jobs"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
	"github.com/odyssey-erp/wasteplan/jobs"
)

// SnapshotJob processes plan snapshot tasks.
type SnapshotJob struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSnapshotJob constructs a job handler.
func NewSnapshotJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *SnapshotJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotJob{service: service, metrics: metrics, logger: logger, now: time.Now}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SnapshotJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	var payload jobs.PlanSnapshotPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	year, month := jobs.ResolveMonth(payload.Year, payload.Month, j.now())
	ym, err := shared.NewYearMonth(year, month)
	if err != nil {
		return asynq.SkipRetry
	}
	user := payload.User
	if user == "" {
		user = "scheduler"
	}

	tracker := j.metrics.Track(jobs.TaskPlanSnapshot)
	defer func() { err = tracker.End(err) }()

	version, err := j.service.SnapshotMonth(ctx, ym, user)
	if err != nil {
		j.logger.Error("plan snapshot", slog.String("period", ym.String()), slog.Any("error", err))
		if errors.Is(err, shared.ErrValidation) {
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	j.metrics.AddSnapshot()
	j.logger.Info("plan snapshot", slog.String("period", ym.String()), slog.Int("version", int(version)), slog.String("user", user))
	return nil
}

// ReconcileJob runs a reconciliation in the background and logs its summary.
type ReconcileJob struct {
	service    *Service
	tolerances reconcile.Tolerances
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconcileJob constructs a job handler using the configured tolerances.
func NewReconcileJob(service *Service, tol reconcile.Tolerances, metrics *jobmetrics.Metrics, logger *slog.Logger) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{service: service, tolerances: tol, metrics: metrics, logger: logger, now: time.Now}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	var payload jobs.PlanReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	year, month := jobs.ResolveMonth(payload.Year, payload.Month, j.now())
	ym, err := shared.NewYearMonth(year, month)
	if err != nil || payload.Version < 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track(jobs.TaskPlanReconcile)
	defer func() { err = tracker.End(err) }()

	result, err := j.service.ReconcileVersion(ctx, ym, plan.Version(payload.Version), j.tolerances)
	if err != nil {
		j.logger.Error("plan reconcile", slog.String("period", ym.String()), slog.Any("error", err))
		if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) {
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	summary := result.Summarize()
	attrs := []any{
		slog.String("period", ym.String()),
		slog.Int("version", payload.Version),
		slog.Int("unscheduled", summary.Unscheduled),
		slog.Int("errors", summary.Errors),
	}
	for _, status := range reconcile.Statuses() {
		attrs = append(attrs, slog.Int(string(status), summary.ByStatus[status]))
	}
	j.logger.Info("plan reconcile", attrs...)
	return nil
}
