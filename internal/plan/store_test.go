package plan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

var jan2025 = shared.YearMonth{Year: 2025, Month: 1}

func newTestStore() *Store {
	store := NewStore(NewMemoryRepository(), nil)
	store.WithNow(func() time.Time { return time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC) })
	return store
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func clockPtr(s string) *shared.ClockTime {
	c := shared.MustClock(s)
	return &c
}

func volPtr(v string) *shared.Quantity {
	q, err := shared.ParseQuantity(v)
	if err != nil {
		panic(err)
	}
	return &q
}

func entry(d int, waste string, seq int, at string, vol string) Entry {
	return Entry{
		Date:        day(d),
		Column:      shared.ColumnKey{WasteType: waste, Sequence: seq},
		PlannedTime: clockPtr(at),
		Vol:         volPtr(vol),
	}
}

// stripVolatile drops the fields a snapshot is allowed to rewrite.
func stripVolatile(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Version = Live
		e.CreatedAt = time.Time{}
		out[i] = e
	}
	return out
}

func TestSaveIsFullReplace(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, jan2025, []Entry{
		entry(10, "廃プラ", 1, "09:00", "10"),
		entry(11, "廃プラ", 1, "13:00", "5"),
	}))
	require.NoError(t, store.Save(ctx, jan2025, []Entry{
		entry(12, "可燃", 1, "08:00", "2.5"),
	}))

	got, err := store.GetMonth(ctx, jan2025, Live)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day(12), got[0].Date)
	assert.Equal(t, "2.5", got[0].Vol.String())
	assert.Equal(t, jan2025, got[0].Period)
}

func TestGetMonthUnknownIsEmpty(t *testing.T) {
	store := newTestStore()

	got, err := store.GetMonth(context.Background(), shared.YearMonth{Year: 2030, Month: 7}, Frozen(3))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetMonthOrdersByDateThenColumn(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, jan2025, []Entry{
		entry(11, "可燃", 1, "09:00", "1"),
		entry(10, "廃プラ", 2, "09:00", "1"),
		entry(10, "廃プラ", 1, "10:00", "1"),
	}))
	got, err := store.GetMonth(ctx, jan2025, Live)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Column.Sequence)
	assert.Equal(t, 2, got[1].Column.Sequence)
	assert.Equal(t, day(11), got[2].Date)
}

func TestSaveRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	frozen := entry(10, "廃プラ", 1, "09:00", "1")
	frozen.Version = Frozen(1)
	outside := entry(10, "廃プラ", 1, "09:00", "1")
	outside.Date = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	badTime := entry(10, "廃プラ", 1, "09:00", "1")
	bad := shared.ClockTime(shared.MinutesPerDay)
	badTime.PlannedTime = &bad

	cases := map[string][]Entry{
		"frozen version": {frozen},
		"outside month":  {outside},
		"duplicate cell": {entry(10, "廃プラ", 1, "09:00", "1"), entry(10, " 廃プラ", 1, "10:00", "2")},
		"bad time":       {badTime},
		"missing column": {entry(10, "", 1, "09:00", "1")},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore()
			require.NoError(t, store.Save(ctx, jan2025, []Entry{entry(5, "可燃", 1, "07:00", "1")}))

			err := store.Save(ctx, jan2025, entries)
			require.ErrorIs(t, err, shared.ErrValidation)

			got, err := store.GetMonth(ctx, jan2025, Live)
			require.NoError(t, err)
			require.Len(t, got, 1, "rejected save must not alter the live version")
			assert.Equal(t, day(5), got[0].Date)
		})
	}
}

func TestSnapshotFidelityAndImmutability(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, jan2025, []Entry{
		entry(10, "廃プラ", 1, "09:00", "10"),
		entry(11, "廃プラ", 1, "13:00", "5"),
	}))
	before, err := store.GetMonth(ctx, jan2025, Live)
	require.NoError(t, err)

	v1, err := store.Snapshot(ctx, jan2025, "operator")
	require.NoError(t, err)
	assert.Equal(t, Frozen(1), v1)

	frozen, err := store.GetMonth(ctx, jan2025, v1)
	require.NoError(t, err)
	assert.Equal(t, stripVolatile(before), stripVolatile(frozen))
	for _, e := range frozen {
		assert.Equal(t, v1, e.Version)
	}

	require.NoError(t, store.Save(ctx, jan2025, []Entry{entry(20, "可燃", 1, "08:00", "1")}))
	v2, err := store.Snapshot(ctx, jan2025, "operator")
	require.NoError(t, err)
	assert.Equal(t, Frozen(2), v2)

	again, err := store.GetMonth(ctx, jan2025, v1)
	require.NoError(t, err)
	assert.Equal(t, frozen, again)

	live, err := store.GetMonth(ctx, jan2025, Live)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, day(20), live[0].Date)
}

func TestSnapshotVersionsAreMonotonic(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	latest, err := store.LatestVersion(ctx, jan2025)
	require.NoError(t, err)
	assert.Equal(t, Live, latest)

	for want := 1; want <= 4; want++ {
		got, err := store.Snapshot(ctx, jan2025, "batch")
		require.NoError(t, err)
		assert.Equal(t, Frozen(want), got)

		latest, err := store.LatestVersion(ctx, jan2025)
		require.NoError(t, err)
		assert.Equal(t, got, latest)
	}

	versions, err := store.AvailableVersions(ctx, jan2025)
	require.NoError(t, err)
	assert.Equal(t, []Version{Live, 1, 2, 3, 4}, versions)

	other, err := store.AvailableVersions(ctx, shared.YearMonth{Year: 2025, Month: 2})
	require.NoError(t, err)
	assert.Equal(t, []Version{Live}, other)

	snaps, err := store.ListSnapshots(ctx, jan2025)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	assert.Equal(t, "batch", snaps[0].CreatedUser)
}

func TestConcurrentSaveAndSnapshotNeverInterleave(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	// Every save writes a full set of size n tagged with note "set-n".
	makeSet := func(n int) []Entry {
		out := make([]Entry, n)
		for i := 0; i < n; i++ {
			e := entry(i+1, "廃プラ", 1, "09:00", "1")
			e.Note = fmt.Sprintf("set-%d", n)
			out[i] = e
		}
		return out
	}

	var wg sync.WaitGroup
	for n := 1; n <= 8; n++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, jan2025, makeSet(n)))
		}(n)
		go func() {
			defer wg.Done()
			_, err := store.Snapshot(ctx, jan2025, "race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := store.AvailableVersions(ctx, jan2025)
	require.NoError(t, err)
	require.Len(t, versions, 9)
	for _, v := range versions[1:] {
		entries, err := store.GetMonth(ctx, jan2025, v)
		require.NoError(t, err)
		if len(entries) == 0 {
			continue
		}
		want := fmt.Sprintf("set-%d", len(entries))
		for _, e := range entries {
			assert.Equal(t, want, e.Note, "snapshot %s mixes two saves", v)
		}
	}
}

func TestCancelledContextWritesNothing(t *testing.T) {
	store := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, jan2025, []Entry{entry(10, "廃プラ", 1, "09:00", "1")})
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, shared.ErrStorage)

	got, err := store.GetMonth(context.Background(), jan2025, Live)
	require.NoError(t, err)
	assert.Empty(t, got)
}
