package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Version tags every stored entry: Live (0) is the mutable working copy, any
// positive value is a frozen snapshot.
type Version int

// Live is the perpetually mutable working copy of a month.
const Live Version = 0

// Frozen returns the tag of snapshot k (k >= 1).
func Frozen(k int) Version { return Version(k) }

// IsLive reports whether v is the working copy.
func (v Version) IsLive() bool { return v == Live }

// IsFrozen reports whether v names a snapshot.
func (v Version) IsFrozen() bool { return v > Live }

func (v Version) String() string {
	if v.IsLive() {
		return "live"
	}
	return fmt.Sprintf("v%d", int(v))
}

// Entry is one scheduled occurrence at (period, version, date, column).
type Entry struct {
	Period      shared.YearMonth  `json:"period"`
	Version     Version           `json:"version"`
	Date        time.Time         `json:"date"`
	Column      shared.ColumnKey  `json:"column"`
	CompanyID   *int64            `json:"company_id,omitempty"`
	Vol         *shared.Quantity  `json:"vol,omitempty"`
	PlannedTime *shared.ClockTime `json:"planned_time,omitempty"`
	Note        string            `json:"note,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Coordinate identifies a plan cell within one version.
type Coordinate struct {
	Date   time.Time
	Column shared.ColumnKey
}

// Coordinate returns the cell address of e.
func (e Entry) Coordinate() Coordinate {
	return Coordinate{Date: e.Date, Column: e.Column}
}

// SnapshotInfo is the metadata row of a frozen copy.
type SnapshotInfo struct {
	Period      shared.YearMonth `json:"period"`
	Version     Version          `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatedUser string           `json:"created_user"`
}

// Repository is the persistence boundary. ReplaceLive and FreezeLive must each
// run as one atomic unit under the month's exclusive lock.
type Repository interface {
	LoadEntries(ctx context.Context, ym shared.YearMonth, version Version) ([]Entry, error)
	ReplaceLive(ctx context.Context, ym shared.YearMonth, entries []Entry) error
	// FreezeLive copies the live rows into version max+1, records its metadata
	// and returns the new version.
	FreezeLive(ctx context.Context, ym shared.YearMonth, user string, at time.Time) (Version, error)
	ListSnapshots(ctx context.Context, ym shared.YearMonth) ([]SnapshotInfo, error)
}

// SortEntries orders entries by date then by column position. A nil orderOf
// falls back to column key order.
func SortEntries(entries []Entry, orderOf func(shared.ColumnKey) int) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if orderOf != nil {
			oa, ob := orderOf(a.Column), orderOf(b.Column)
			if oa != ob {
				return oa < ob
			}
		}
		return a.Column.Less(b.Column)
	})
}
