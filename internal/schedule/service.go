package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Service is the boundary outer layers call. It composes the layout registry,
// the plan store and the reconciliation engine.
type Service struct {
	layouts   *layout.Registry
	plans     *plan.Store
	actuals   ActualResultSource
	companies CompanyDirectory
	cache     *Cache
	recorder  ReconcileRecorder
	logger    *slog.Logger
	views     singleflight.Group
	// layoutGen advances on every layout replace. Frozen views built under an
	// older generation are not cached.
	layoutGen atomic.Uint64
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Companies CompanyDirectory
	Cache     *Cache
	Recorder  ReconcileRecorder
	Logger    *slog.Logger
}

// NewService builds the service.
func NewService(layouts *layout.Registry, plans *plan.Store, actuals ActualResultSource, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		layouts:   layouts,
		plans:     plans,
		actuals:   actuals,
		companies: opts.Companies,
		cache:     opts.Cache,
		recorder:  opts.Recorder,
		logger:    logger,
	}
}

// viewBuildTimeout bounds a shared frozen-view build, which runs detached
// from any single caller's cancellation.
const viewBuildTimeout = 30 * time.Second

// GetMonth returns one plan version joined with the month's layout. Live views
// are always built fresh. Frozen views are cached and concurrent misses share
// one build.
func (s *Service) GetMonth(ctx context.Context, ym shared.YearMonth, version plan.Version) (MonthView, error) {
	if err := ym.Validate(); err != nil {
		return MonthView{}, err
	}
	if version.IsLive() {
		return s.buildMonthView(ctx, ym, version)
	}
	key := monthCacheKey(ym, version)
	var cached MonthView
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	gen := s.layoutGen.Load()
	flight := fmt.Sprintf("%s#%d", key, gen)
	ch := s.views.DoChan(flight, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewBuildTimeout)
		defer cancel()
		view, err := s.buildMonthView(buildCtx, ym, version)
		if err != nil {
			return MonthView{}, err
		}
		if s.cacheable(buildCtx, ym, version) && s.layoutGen.Load() == gen {
			s.cache.Set(buildCtx, key, view)
		}
		return view, nil
	})
	select {
	case <-ctx.Done():
		return MonthView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return MonthView{}, res.Err
		}
		return res.Val.(MonthView), nil
	}
}

// cacheable reports whether a frozen version exists yet. A view of a future
// snapshot number is empty now but must not shadow the snapshot once taken.
func (s *Service) cacheable(ctx context.Context, ym shared.YearMonth, version plan.Version) bool {
	if s.cache == nil || !version.IsFrozen() {
		return false
	}
	latest, err := s.plans.LatestVersion(ctx, ym)
	return err == nil && version <= latest
}

func (s *Service) buildMonthView(ctx context.Context, ym shared.YearMonth, version plan.Version) (MonthView, error) {
	view := MonthView{Period: ym, Version: version, Layouts: make(map[shared.DayClass][]layout.HeaderDefinition, 2)}
	var all []layout.HeaderDefinition
	for _, class := range shared.DayClasses() {
		defs, err := s.layouts.GetLayout(ctx, ym, class)
		if err != nil {
			return MonthView{}, err
		}
		view.Layouts[class] = defs
		all = append(all, defs...)
	}
	index := layout.NewColumnIndex(all)

	entries, err := s.plans.GetMonth(ctx, ym, version)
	if err != nil {
		return MonthView{}, err
	}
	plan.SortEntries(entries, index.OrderOf)

	view.Entries = make([]AnnotatedEntry, 0, len(entries))
	for _, e := range entries {
		annotated := AnnotatedEntry{Entry: e, Order: index.OrderOf(e.Column), DisplayName: e.Column.String()}
		if def, ok := index.Lookup(e.Column); ok {
			id := def.ID
			annotated.HeaderID = &id
			annotated.DayClass = def.DayClass
			annotated.DisplayName = def.DisplayName
		} else {
			annotated.Orphan = true
		}
		view.Entries = append(view.Entries, annotated)
	}
	return view, nil
}

// SaveMonth replaces the live plan after checking every entry against the
// current layout and, when a directory is configured, the company list.
func (s *Service) SaveMonth(ctx context.Context, ym shared.YearMonth, entries []plan.Entry) error {
	prepared, err := plan.PrepareLive(ym, entries)
	if err != nil {
		return err
	}
	index, err := s.layouts.Resolve(ctx, ym)
	if err != nil {
		return err
	}
	for i, e := range prepared {
		if _, ok := index.Lookup(e.Column); !ok {
			return shared.NewValidationError("column", "entry %d: %s is not in the %s layout", i, e.Column, ym)
		}
	}
	if err := s.checkCompanies(ctx, prepared); err != nil {
		return err
	}
	return s.plans.Save(ctx, ym, prepared)
}

func (s *Service) checkCompanies(ctx context.Context, entries []plan.Entry) error {
	if s.companies == nil {
		return nil
	}
	needed := false
	for _, e := range entries {
		if e.CompanyID != nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	companies, err := s.companies.ListCompanies(ctx)
	if err != nil {
		return shared.StorageError("schedule: list companies", err)
	}
	known := make(map[int64]struct{}, len(companies))
	for _, c := range companies {
		known[c.ID] = struct{}{}
	}
	for i, e := range entries {
		if e.CompanyID == nil {
			continue
		}
		if _, ok := known[*e.CompanyID]; !ok {
			return shared.NewValidationError("company_id", "entry %d: unknown company %d", i, *e.CompanyID)
		}
	}
	return nil
}

// SnapshotMonth freezes the live plan and returns the new version.
func (s *Service) SnapshotMonth(ctx context.Context, ym shared.YearMonth, user string) (plan.Version, error) {
	return s.plans.Snapshot(ctx, ym, user)
}

// AvailableVersions returns the live version plus every snapshot with its metadata.
func (s *Service) AvailableVersions(ctx context.Context, ym shared.YearMonth) (VersionHistory, error) {
	snaps, err := s.plans.ListSnapshots(ctx, ym)
	if err != nil {
		return VersionHistory{}, err
	}
	history := VersionHistory{Period: ym, Versions: []plan.Version{plan.Live}, Snapshots: snaps}
	for _, snap := range snaps {
		history.Versions = append(history.Versions, snap.Version)
	}
	if history.Snapshots == nil {
		history.Snapshots = []plan.SnapshotInfo{}
	}
	return history, nil
}

// LatestVersion returns the newest snapshot version, or 0.
func (s *Service) LatestVersion(ctx context.Context, ym shared.YearMonth) (plan.Version, error) {
	return s.plans.LatestVersion(ctx, ym)
}

// ReconcileMonth matches the live plan against the month's actuals.
func (s *Service) ReconcileMonth(ctx context.Context, ym shared.YearMonth, tol reconcile.Tolerances) (reconcile.Result, error) {
	return s.ReconcileVersion(ctx, ym, plan.Live, tol)
}

// ReconcileVersion matches any stored plan version against the month's actuals.
func (s *Service) ReconcileVersion(ctx context.Context, ym shared.YearMonth, version plan.Version, tol reconcile.Tolerances) (reconcile.Result, error) {
	if err := tol.Validate(); err != nil {
		return reconcile.Result{}, err
	}
	if s.actuals == nil {
		return reconcile.Result{}, fmt.Errorf("schedule: actual result source not configured")
	}
	if version.IsFrozen() {
		latest, err := s.plans.LatestVersion(ctx, ym)
		if err != nil {
			return reconcile.Result{}, err
		}
		if version > latest {
			return reconcile.Result{}, shared.NotFound(fmt.Sprintf("plan %s version %d", ym, int(version)))
		}
	}
	entries, err := s.plans.GetMonth(ctx, ym, version)
	if err != nil {
		return reconcile.Result{}, err
	}
	actuals, err := s.actuals.MonthlyActual(ctx, ym)
	if err != nil {
		return reconcile.Result{}, shared.StorageError("schedule: load actuals", err)
	}
	result, err := reconcile.Reconcile(entries, actuals, tol)
	if err != nil {
		return reconcile.Result{}, err
	}
	summary := result.Summarize()
	if s.recorder != nil {
		s.recorder.ObserveReconcile(ym.String(), summary)
	}
	if summary.Errors > 0 {
		s.logger.Warn("reconcile skipped malformed records",
			slog.String("period", ym.String()),
			slog.Int("errors", summary.Errors))
	}
	return result, nil
}

// GetLayout returns one day-class layout.
func (s *Service) GetLayout(ctx context.Context, ym shared.YearMonth, class shared.DayClass) ([]layout.HeaderDefinition, error) {
	return s.layouts.GetLayout(ctx, ym, class)
}

// ReplaceLayout swaps a day-class layout and drops every cached view of the
// month, since all versions are annotated with the current layout.
func (s *Service) ReplaceLayout(ctx context.Context, ym shared.YearMonth, class shared.DayClass, inputs []layout.HeaderInput) ([]layout.HeaderDefinition, error) {
	defs, err := s.layouts.ReplaceLayout(ctx, ym, class, inputs)
	if err != nil {
		return nil, err
	}
	s.layoutGen.Add(1)
	s.invalidateMonth(ctx, ym)
	return defs, nil
}

// HeaderOrder returns the display position of a header.
func (s *Service) HeaderOrder(ctx context.Context, id uuid.UUID) (int, error) {
	return s.layouts.OrderOf(ctx, id)
}

// ListCompanies returns the company directory, or an empty list when none is configured.
func (s *Service) ListCompanies(ctx context.Context) ([]Company, error) {
	if s.companies == nil {
		return []Company{}, nil
	}
	companies, err := s.companies.ListCompanies(ctx)
	if err != nil {
		return nil, shared.StorageError("schedule: list companies", err)
	}
	return companies, nil
}

func (s *Service) invalidateMonth(ctx context.Context, ym shared.YearMonth) {
	if s.cache == nil {
		return
	}
	latest, err := s.plans.LatestVersion(ctx, ym)
	if err != nil {
		s.logger.Warn("cache invalidation skipped", slog.String("period", ym.String()), slog.Any("error", err))
		return
	}
	if latest == plan.Live {
		return
	}
	keys := make([]string, 0, int(latest))
	for v := plan.Frozen(1); v <= latest; v++ {
		keys = append(keys, monthCacheKey(ym, v))
	}
	s.cache.Delete(ctx, keys...)
}
