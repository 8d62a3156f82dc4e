package schedule

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// ActualResultSource supplies observed collections. Read-only.
type ActualResultSource interface {
	MonthlyActual(ctx context.Context, ym shared.YearMonth) ([]reconcile.Actual, error)
}

// Company is a contractor as listed by the company directory.
type Company struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Color       string            `json:"color"`
	DefaultTime *shared.ClockTime `json:"default_time,omitempty"`
}

// CompanyDirectory lists contractors for display and company_id validation.
type CompanyDirectory interface {
	ListCompanies(ctx context.Context) ([]Company, error)
}

// ReconcileRecorder observes reconciliation outcomes.
type ReconcileRecorder interface {
	ObserveReconcile(period string, summary reconcile.Summary)
}

// MonthView is a plan version annotated with the month's current layout.
type MonthView struct {
	Period  shared.YearMonth                              `json:"period"`
	Version plan.Version                                  `json:"version"`
	Layouts map[shared.DayClass][]layout.HeaderDefinition `json:"layouts"`
	Entries []AnnotatedEntry                              `json:"entries"`
}

// AnnotatedEntry is a plan entry resolved against its header.
type AnnotatedEntry struct {
	plan.Entry
	HeaderID    *uuid.UUID      `json:"header_id,omitempty"`
	DayClass    shared.DayClass `json:"day_class,omitempty"`
	DisplayName string          `json:"display_name"`
	Order       int             `json:"order"`
	// Orphan marks entries whose column is no longer in the layout.
	Orphan bool `json:"orphan"`
}

// VersionHistory lists what a caller may pass to GetMonth.
type VersionHistory struct {
	Period    shared.YearMonth    `json:"period"`
	Versions  []plan.Version      `json:"versions"`
	Snapshots []plan.SnapshotInfo `json:"snapshots"`
}

func monthCacheKey(ym shared.YearMonth, version plan.Version) string {
	return fmt.Sprintf("wasteplan:month:%s:v%d", ym, int(version))
}
