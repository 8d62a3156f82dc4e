package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

type groupKey struct {
	date      time.Time
	wasteType string
}

type plannedItem struct {
	entry plan.Entry
	at    *shared.ClockTime
}

type actualItem struct {
	actual   Actual
	at       shared.ClockTime
	consumed bool
}

type group struct {
	planned []plannedItem
	actual  []*actualItem
}

// Reconcile pairs planned entries with actual results per date and waste type
// using first-plan first-actual matching, then classifies each pair.
// Malformed inputs are reported in Result.Errors and skipped; they never abort
// the run. Only invalid tolerances fail the whole call.
func Reconcile(planned []plan.Entry, actual []Actual, tol Tolerances) (Result, error) {
	if err := tol.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidTolerances, err)
	}
	result := Result{Records: []Record{}, Unscheduled: []Actual{}, Errors: []RecordError{}}
	groups := make(map[groupKey]*group)
	groupOf := func(k groupKey) *group {
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
		}
		return g
	}

	for i, p := range planned {
		if err := validatePlanned(p); err != nil {
			entry := p
			result.Errors = append(result.Errors, newRecordError(SidePlanned, i, &entry, nil, err))
			continue
		}
		key := groupKey{date: shared.DateOnly(p.Date), wasteType: shared.NormalizeWasteType(p.Column.WasteType)}
		groupOf(key).planned = append(groupOf(key).planned, plannedItem{entry: p, at: p.PlannedTime})
	}
	for i, a := range actual {
		at, err := validateActual(a)
		if err != nil {
			item := a
			result.Errors = append(result.Errors, newRecordError(SideActual, i, nil, &item, err))
			continue
		}
		key := groupKey{date: shared.DateOnly(a.Date), wasteType: shared.NormalizeWasteType(a.Column.WasteType)}
		groupOf(key).actual = append(groupOf(key).actual, &actualItem{actual: a, at: at})
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].date.Equal(keys[j].date) {
			return keys[i].date.Before(keys[j].date)
		}
		return keys[i].wasteType < keys[j].wasteType
	})

	for _, k := range keys {
		records, unscheduled := matchGroup(k, groups[k], tol)
		result.Records = append(result.Records, records...)
		result.Unscheduled = append(result.Unscheduled, unscheduled...)
	}
	return result, nil
}

func matchGroup(k groupKey, g *group, tol Tolerances) ([]Record, []Actual) {
	// Plans without a time sort last; ties keep input order so duplicate
	// times pair deterministically.
	sort.SliceStable(g.planned, func(i, j int) bool {
		a, b := g.planned[i].at, g.planned[j].at
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	sort.SliceStable(g.actual, func(i, j int) bool { return g.actual[i].at < g.actual[j].at })

	records := make([]Record, 0, len(g.planned))
	for _, p := range g.planned {
		entry := p.entry
		rec := Record{Date: k.date, WasteType: k.wasteType, Planned: &entry, Status: StatusNotPerformed}
		if match := nextActual(g.actual, p.at, tol.NegativeSlack); match != nil {
			match.consumed = true
			actual := match.actual
			at := match.at
			rec.Actual = &actual
			rec.ActualAt = &at
			if p.at != nil {
				diff := int(at) - int(*p.at)
				rec.TimeDiffMinutes = &diff
				rec.Status = tol.Classify(diff)
			} else {
				rec.Status = StatusOnSchedule
			}
		}
		records = append(records, rec)
	}

	var unscheduled []Actual
	for _, a := range g.actual {
		if !a.consumed {
			unscheduled = append(unscheduled, a.actual)
		}
	}
	return records, unscheduled
}

// nextActual returns the earliest unconsumed actual not earlier than the
// planned time minus slack.
func nextActual(actuals []*actualItem, plannedAt *shared.ClockTime, slack *int) *actualItem {
	for _, a := range actuals {
		if a.consumed {
			continue
		}
		if plannedAt != nil && slack != nil && int(a.at) < int(*plannedAt)-*slack {
			continue
		}
		return a
	}
	return nil
}

func validatePlanned(p plan.Entry) error {
	if p.Date.IsZero() {
		return shared.NewValidationError("date", "required")
	}
	if shared.NormalizeWasteType(p.Column.WasteType) == "" {
		return shared.NewValidationError("waste_type", "required")
	}
	if p.PlannedTime != nil && !p.PlannedTime.Valid() {
		return shared.NewValidationError("planned_time", "out of range: %d minutes", int(*p.PlannedTime))
	}
	return nil
}

func validateActual(a Actual) (shared.ClockTime, error) {
	if a.Date.IsZero() {
		return 0, shared.NewValidationError("date", "required")
	}
	if shared.NormalizeWasteType(a.Column.WasteType) == "" {
		return 0, shared.NewValidationError("waste_type", "required")
	}
	if a.ActualTime == "" {
		return 0, shared.NewValidationError("actual_time", "required")
	}
	return shared.ParseClock(a.ActualTime)
}

func newRecordError(side RecordSide, idx int, p *plan.Entry, a *Actual, err error) RecordError {
	return RecordError{Side: side, Index: idx, Planned: p, Actual: a, Err: err, Message: err.Error()}
}

// ExportRows formats records into table rows with a header line.
func ExportRows(records []Record) [][]string {
	out := make([][]string, 0, len(records)+1)
	out = append(out, []string{"Date", "Waste type", "Planned", "Actual", "Diff (min)", "Status"})
	for _, rec := range records {
		planned, actual, diff := "-", "-", "-"
		if rec.Planned != nil && rec.Planned.PlannedTime != nil {
			planned = rec.Planned.PlannedTime.String()
		}
		if rec.ActualAt != nil {
			actual = rec.ActualAt.String()
		}
		if rec.TimeDiffMinutes != nil {
			diff = strconv.Itoa(*rec.TimeDiffMinutes)
		}
		out = append(out, []string{
			rec.Date.Format(time.DateOnly),
			rec.WasteType,
			planned,
			actual,
			diff,
			string(rec.Status),
		})
	}
	return out
}
