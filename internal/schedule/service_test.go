package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

var jan2025 = shared.YearMonth{Year: 2025, Month: 1}

type fixture struct {
	service *Service
	plans   *plan.Store
	actuals *MemoryActualSource
	metrics *recorderStub
}

type recorderStub struct {
	periods   []string
	summaries []reconcile.Summary
}

func (r *recorderStub) ObserveReconcile(period string, summary reconcile.Summary) {
	r.periods = append(r.periods, period)
	r.summaries = append(r.summaries, summary)
}

func newFixture(t *testing.T, cache *Cache) fixture {
	t.Helper()
	return newFixtureWith(t, cache, plan.NewMemoryRepository())
}

func newFixtureWith(t *testing.T, cache *Cache, repo plan.Repository) fixture {
	t.Helper()
	registry := layout.NewRegistry(layout.NewMemoryRepository(), nil)
	plans := plan.NewStore(repo, nil)
	actuals := NewMemoryActualSource()
	recorder := &recorderStub{}
	svc := NewService(registry, plans, actuals, Options{
		Companies: StaticCompanyDirectory{
			{ID: 1, Name: "Tokai Recycle"},
			{ID: 2, Name: "Asahi Kankyo"},
		},
		Cache:    cache,
		Recorder: recorder,
	})
	_, err := svc.ReplaceLayout(context.Background(), jan2025, shared.DayClassOrdinary, []layout.HeaderInput{
		{Order: 1, WasteType: "可燃", Sequence: 1},
		{Order: 2, WasteType: "廃プラ", Sequence: 1},
		{Order: 3, WasteType: "廃プラ", Sequence: 2},
	})
	require.NoError(t, err)
	return fixture{service: svc, plans: plans, actuals: actuals, metrics: recorder}
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func cell(d int, waste string, seq int, at string) plan.Entry {
	e := plan.Entry{Date: day(d), Column: shared.ColumnKey{WasteType: waste, Sequence: seq}}
	if at != "" {
		c := shared.MustClock(at)
		e.PlannedTime = &c
	}
	return e
}

func TestSaveMonthRejectsColumnOutsideLayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{cell(3, "可燃", 1, "08:00")}))

	err := f.service.SaveMonth(ctx, jan2025, []plan.Entry{
		cell(3, "可燃", 1, "08:00"),
		cell(4, "ビン", 1, "10:00"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)

	entries, err := f.plans.GetMonth(ctx, jan2025, plan.Live)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "可燃", entries[0].Column.WasteType)
}

func TestSaveMonthValidatesCompanies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	known := cell(3, "可燃", 1, "08:00")
	id := int64(2)
	known.CompanyID = &id
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{known}))

	unknown := cell(4, "可燃", 1, "08:00")
	missing := int64(99)
	unknown.CompanyID = &missing
	err := f.service.SaveMonth(ctx, jan2025, []plan.Entry{unknown})
	assert.ErrorIs(t, err, shared.ErrValidation)

	companies, err := f.service.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Asahi Kankyo", companies[0].Name)
}

func TestGetMonthAnnotatesEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{
		cell(5, "廃プラ", 2, "14:00"),
		cell(5, "可燃", 1, "08:00"),
		cell(2, "廃プラ", 1, ""),
	}))

	view, err := f.service.GetMonth(ctx, jan2025, plan.Live)
	require.NoError(t, err)
	assert.Equal(t, jan2025, view.Period)
	assert.Len(t, view.Layouts[shared.DayClassOrdinary], 3)
	assert.Empty(t, view.Layouts[shared.DayClassSpecial])

	require.Len(t, view.Entries, 3)
	assert.Equal(t, day(2), view.Entries[0].Date)
	assert.Equal(t, "可燃", view.Entries[1].Column.WasteType)
	assert.Equal(t, 1, view.Entries[1].Order)
	assert.Equal(t, "廃プラ(2)", view.Entries[2].DisplayName)
	assert.Equal(t, 3, view.Entries[2].Order)
	for _, e := range view.Entries {
		assert.False(t, e.Orphan)
		assert.NotNil(t, e.HeaderID)
		assert.Equal(t, shared.DayClassOrdinary, e.DayClass)
	}
}

func TestGetMonthMarksOrphansAfterLayoutChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{
		cell(5, "可燃", 1, "08:00"),
		cell(5, "廃プラ", 2, "14:00"),
	}))
	_, err := f.service.ReplaceLayout(ctx, jan2025, shared.DayClassOrdinary, []layout.HeaderInput{
		{Order: 1, WasteType: "可燃", Sequence: 1},
	})
	require.NoError(t, err)

	view, err := f.service.GetMonth(ctx, jan2025, plan.Live)
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.False(t, view.Entries[0].Orphan)
	assert.True(t, view.Entries[1].Orphan)
	assert.Nil(t, view.Entries[1].HeaderID)
	assert.Equal(t, 2, view.Entries[1].Order)
}

func TestSnapshotAndVersionHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	history, err := f.service.AvailableVersions(ctx, jan2025)
	require.NoError(t, err)
	assert.Equal(t, []plan.Version{plan.Live}, history.Versions)
	assert.Empty(t, history.Snapshots)

	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{cell(3, "可燃", 1, "08:00")}))
	v1, err := f.service.SnapshotMonth(ctx, jan2025, "tanaka")
	require.NoError(t, err)
	assert.Equal(t, plan.Frozen(1), v1)

	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{cell(4, "可燃", 1, "09:00")}))
	v2, err := f.service.SnapshotMonth(ctx, jan2025, "suzuki")
	require.NoError(t, err)
	assert.Equal(t, plan.Frozen(2), v2)

	history, err = f.service.AvailableVersions(ctx, jan2025)
	require.NoError(t, err)
	assert.Equal(t, []plan.Version{plan.Live, plan.Frozen(1), plan.Frozen(2)}, history.Versions)
	require.Len(t, history.Snapshots, 2)
	assert.Equal(t, "tanaka", history.Snapshots[0].CreatedUser)

	latest, err := f.service.LatestVersion(ctx, jan2025)
	require.NoError(t, err)
	assert.Equal(t, plan.Frozen(2), latest)

	frozen, err := f.service.GetMonth(ctx, jan2025, v1)
	require.NoError(t, err)
	require.Len(t, frozen.Entries, 1)
	assert.Equal(t, day(3), frozen.Entries[0].Date)
	assert.Equal(t, v1, frozen.Version)
}

func TestReconcileMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{
		cell(10, "廃プラ", 1, "09:00"),
		cell(11, "廃プラ", 1, "13:00"),
		cell(12, "廃プラ", 1, "08:00"),
	}))
	f.actuals.Add(
		reconcile.Actual{Date: day(11), ActualTime: "13:10", Column: shared.ColumnKey{WasteType: "廃プラ", Sequence: 1}},
		reconcile.Actual{Date: day(12), ActualTime: "09:30", Column: shared.ColumnKey{WasteType: "廃プラ", Sequence: 1}},
		reconcile.Actual{Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), ActualTime: "09:00", Column: shared.ColumnKey{WasteType: "廃プラ", Sequence: 1}},
	)

	result, err := f.service.ReconcileMonth(ctx, jan2025, reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, reconcile.StatusNotPerformed, result.Records[0].Status)
	assert.Equal(t, reconcile.StatusOnSchedule, result.Records[1].Status)
	assert.Equal(t, reconcile.StatusDelayedSevere, result.Records[2].Status)
	assert.Empty(t, result.Unscheduled)

	require.Len(t, f.metrics.periods, 1)
	assert.Equal(t, "2025-01", f.metrics.periods[0])
	assert.Equal(t, 1, f.metrics.summaries[0].ByStatus[reconcile.StatusOnSchedule])
}

func TestReconcileVersionUsesFrozenPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{cell(10, "可燃", 1, "09:00")}))
	v1, err := f.service.SnapshotMonth(ctx, jan2025, "tanaka")
	require.NoError(t, err)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, nil))
	f.actuals.Add(reconcile.Actual{Date: day(10), ActualTime: "09:05", Column: shared.ColumnKey{WasteType: "可燃", Sequence: 1}})

	live, err := f.service.ReconcileMonth(ctx, jan2025, reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	require.NoError(t, err)
	assert.Empty(t, live.Records)
	assert.Len(t, live.Unscheduled, 1)

	frozen, err := f.service.ReconcileVersion(ctx, jan2025, v1, reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	require.NoError(t, err)
	require.Len(t, frozen.Records, 1)
	assert.Equal(t, reconcile.StatusOnSchedule, frozen.Records[0].Status)
}

func TestReconcileVersionMissingSnapshotIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.service.SaveMonth(ctx, jan2025, []plan.Entry{cell(10, "可燃", 1, "09:00")}))
	f.actuals.Add(reconcile.Actual{Date: day(10), ActualTime: "09:05", Column: shared.ColumnKey{WasteType: "可燃", Sequence: 1}})

	_, err := f.service.ReconcileVersion(ctx, jan2025, plan.Frozen(1), reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, f.metrics.periods)

	v1, err := f.service.SnapshotMonth(ctx, jan2025, "tanaka")
	require.NoError(t, err)
	result, err := f.service.ReconcileVersion(ctx, jan2025, v1, reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)

	_, err = f.service.ReconcileVersion(ctx, jan2025, plan.Frozen(2), reconcile.Tolerances{OnSchedule: 15, Acceptable: 60})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileRejectsInvalidTolerances(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.ReconcileMonth(context.Background(), jan2025, reconcile.Tolerances{OnSchedule: 60, Acceptable: 15})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, f.metrics.periods)
}

func TestHeaderOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	defs, err := f.service.GetLayout(ctx, jan2025, shared.DayClassOrdinary)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	order, err := f.service.HeaderOrder(ctx, defs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, order)

	_, err = f.service.HeaderOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
