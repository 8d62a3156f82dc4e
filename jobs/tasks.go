package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPlanSnapshot freezes the live plan of a month.
	TaskPlanSnapshot = "plan:snapshot"
	// TaskPlanReconcile reconciles a plan version against recorded actuals.
	TaskPlanReconcile = "plan:reconcile"
)

// PlanSnapshotPayload identifies the month to freeze. A zero Year or Month
// means the month current at execution time, which is what cron entries use.
type PlanSnapshotPayload struct {
	Year  int    `json:"year,omitempty"`
	Month int    `json:"month,omitempty"`
	User  string `json:"user,omitempty"`
}

// PlanReconcilePayload identifies the month and version to reconcile.
type PlanReconcilePayload struct {
	Year    int `json:"year,omitempty"`
	Month   int `json:"month,omitempty"`
	Version int `json:"version"`
}

// NewPlanSnapshotTask constructs an Asynq task for a plan snapshot.
func NewPlanSnapshotTask(payload PlanSnapshotPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlanSnapshot, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewPlanReconcileTask constructs an Asynq task for a reconciliation run.
func NewPlanReconcileTask(payload PlanReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlanReconcile, body, asynq.Queue(QueueDefault), asynq.Timeout(5*time.Minute)), nil
}

// ResolveMonth fills a zero year or month from now.
func ResolveMonth(year, month int, now time.Time) (int, int) {
	if year == 0 || month == 0 {
		return now.Year(), int(now.Month())
	}
	return year, month
}
