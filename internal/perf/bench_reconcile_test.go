package perf

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

var standard = reconcile.Tolerances{OnSchedule: 15, Acceptable: 60}

// monthFixture builds a dense month: every day, every column, several
// collections per column, with most of them performed.
func monthFixture(columns, perDay int) ([]plan.Entry, []reconcile.Actual) {
	var (
		planned []plan.Entry
		actuals []reconcile.Actual
	)
	for d := 1; d <= 31; d++ {
		date := time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
		for c := 0; c < columns; c++ {
			waste := fmt.Sprintf("type-%02d", c)
			for n := 0; n < perDay; n++ {
				at := shared.ClockTime(6*60 + n*90 + c)
				planned = append(planned, plan.Entry{
					Date:        date,
					Column:      shared.ColumnKey{WasteType: waste, Sequence: n + 1},
					PlannedTime: &at,
				})
				if (d+c+n)%5 == 0 {
					continue
				}
				actuals = append(actuals, reconcile.Actual{
					Date:       date,
					ActualTime: (at + shared.ClockTime((d*7+n*13)%120)).String(),
					Column:     shared.ColumnKey{WasteType: waste, Sequence: 1},
				})
			}
		}
	}
	return planned, actuals
}

func BenchmarkReconcileMonth(b *testing.B) {
	planned, actuals := monthFixture(10, 4)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reconcile.Reconcile(planned, actuals, standard); err != nil {
			b.Fatal(err)
		}
	}
}

func TestReconcileLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		columns   int
		perDay    int
		threshold time.Duration
	}{
		{name: "typical", columns: 6, perDay: 2, threshold: 250 * time.Millisecond},
		{name: "dense", columns: 20, perDay: 6, threshold: 2 * time.Second},
	}

	for _, scenario := range scenarios {
		planned, actuals := monthFixture(scenario.columns, scenario.perDay)
		samples := make([]time.Duration, 0, 10)
		for i := 0; i < 10; i++ {
			start := time.Now()
			res, err := reconcile.Reconcile(planned, actuals, standard)
			samples = append(samples, time.Since(start))
			if err != nil {
				t.Fatalf("%s: reconcile: %v", scenario.name, err)
			}
			if len(res.Records) != len(planned) {
				t.Fatalf("%s: got %d records for %d planned", scenario.name, len(res.Records), len(planned))
			}
		}
		p95 := percentile95(samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
