package plan

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

type monthData struct {
	versions  map[Version][]Entry
	snapshots []SnapshotInfo
}

// MemoryRepository is an in-process Repository. Writers for one month are
// serialised by a per-month lock; each write builds a new monthData and swaps
// it in, so readers only ever see a complete state.
type MemoryRepository struct {
	writers shared.KeyedMutex

	mu     sync.RWMutex
	months map[shared.YearMonth]*monthData
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{months: make(map[shared.YearMonth]*monthData)}
}

// LoadEntries returns a copy of the stored entries of one version.
func (m *MemoryRepository) LoadEntries(ctx context.Context, ym shared.YearMonth, version Version) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := m.month(ym)
	if data == nil {
		return nil, nil
	}
	return cloneEntries(data.versions[version]), nil
}

// ReplaceLive swaps the live entries of the month.
func (m *MemoryRepository) ReplaceLive(ctx context.Context, ym shared.YearMonth, entries []Entry) error {
	unlock := m.writers.Lock(shared.PlanLockKey(ym))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.cloneMonth(ym)
	live := cloneEntries(entries)
	for i := range live {
		live[i].Version = Live
	}
	next.versions[Live] = live
	m.swap(ym, next)
	return nil
}

// FreezeLive copies the live entries into the next version.
func (m *MemoryRepository) FreezeLive(ctx context.Context, ym shared.YearMonth, user string, at time.Time) (Version, error) {
	unlock := m.writers.Lock(shared.PlanLockKey(ym))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return Live, err
	}
	next := m.cloneMonth(ym)
	version := Frozen(1)
	if n := len(next.snapshots); n > 0 {
		version = next.snapshots[n-1].Version + 1
	}
	frozen := cloneEntries(next.versions[Live])
	for i := range frozen {
		frozen[i].Version = version
		frozen[i].CreatedAt = at
	}
	next.versions[version] = frozen
	next.snapshots = append(next.snapshots, SnapshotInfo{
		Period:      ym,
		Version:     version,
		CreatedAt:   at,
		CreatedUser: user,
	})
	m.swap(ym, next)
	return version, nil
}

// ListSnapshots returns the recorded snapshot metadata.
func (m *MemoryRepository) ListSnapshots(ctx context.Context, ym shared.YearMonth) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := m.month(ym)
	if data == nil {
		return nil, nil
	}
	return append([]SnapshotInfo(nil), data.snapshots...), nil
}

func (m *MemoryRepository) month(ym shared.YearMonth) *monthData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.months[ym]
}

// cloneMonth copies the version map shallowly; the entry slices themselves
// are never mutated after being stored.
func (m *MemoryRepository) cloneMonth(ym shared.YearMonth) *monthData {
	next := &monthData{versions: make(map[Version][]Entry)}
	if cur := m.month(ym); cur != nil {
		for v, entries := range cur.versions {
			next.versions[v] = entries
		}
		next.snapshots = append(next.snapshots, cur.snapshots...)
	}
	return next
}

func (m *MemoryRepository) swap(ym shared.YearMonth, data *monthData) {
	m.mu.Lock()
	m.months[ym] = data
	m.mu.Unlock()
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.CompanyID != nil {
			v := *e.CompanyID
			out[i].CompanyID = &v
		}
		if e.Vol != nil {
			v := *e.Vol
			out[i].Vol = &v
		}
		if e.PlannedTime != nil {
			v := *e.PlannedTime
			out[i].PlannedTime = &v
		}
	}
	return out
}
