package plan

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Store enforces the live/frozen rules on top of a Repository.
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewStore builds a Store.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetMonth returns the entries of one version ordered by date and column.
// Months or versions with no data yield an empty slice.
func (s *Store) GetMonth(ctx context.Context, ym shared.YearMonth, version Version) ([]Entry, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	if version < Live {
		return nil, shared.NewValidationError("version", "must be >= 0, got %d", version)
	}
	entries, err := s.repo.LoadEntries(ctx, ym, version)
	if err != nil {
		return nil, shared.StorageError("plan: load entries", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	SortEntries(entries, nil)
	return entries, nil
}

// Save fully replaces the live entries of the month. Frozen versions are never touched.
func (s *Store) Save(ctx context.Context, ym shared.YearMonth, entries []Entry) error {
	prepared, err := PrepareLive(ym, entries)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for i := range prepared {
		prepared[i].CreatedAt = now
	}
	if err := s.repo.ReplaceLive(ctx, ym, prepared); err != nil {
		return shared.StorageError("plan: save", err)
	}
	s.logger.Info("plan saved", slog.String("period", ym.String()), slog.Int("entries", len(prepared)))
	return nil
}

// LatestVersion returns the highest snapshot version, or 0 when none exist.
func (s *Store) LatestVersion(ctx context.Context, ym shared.YearMonth) (Version, error) {
	snaps, err := s.ListSnapshots(ctx, ym)
	if err != nil {
		return Live, err
	}
	if len(snaps) == 0 {
		return Live, nil
	}
	return snaps[len(snaps)-1].Version, nil
}

// Snapshot freezes the current live entries as version latest+1.
func (s *Store) Snapshot(ctx context.Context, ym shared.YearMonth, user string) (Version, error) {
	if err := ym.Validate(); err != nil {
		return Live, err
	}
	user = strings.TrimSpace(user)
	version, err := s.repo.FreezeLive(ctx, ym, user, s.now().UTC())
	if err != nil {
		return Live, shared.StorageError("plan: snapshot", err)
	}
	s.logger.Info("plan snapshot created",
		slog.String("period", ym.String()),
		slog.Int("version", int(version)),
		slog.String("user", user))
	return version, nil
}

// AvailableVersions lists 0 followed by every recorded snapshot version.
func (s *Store) AvailableVersions(ctx context.Context, ym shared.YearMonth) ([]Version, error) {
	snaps, err := s.ListSnapshots(ctx, ym)
	if err != nil {
		return nil, err
	}
	versions := make([]Version, 0, len(snaps)+1)
	versions = append(versions, Live)
	for _, snap := range snaps {
		versions = append(versions, snap.Version)
	}
	return versions, nil
}

// ListSnapshots returns snapshot metadata in ascending version order.
func (s *Store) ListSnapshots(ctx context.Context, ym shared.YearMonth) ([]SnapshotInfo, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	snaps, err := s.repo.ListSnapshots(ctx, ym)
	if err != nil {
		return nil, shared.StorageError("plan: list snapshots", err)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Version < snaps[j].Version })
	return snaps, nil
}

// PrepareLive validates entries for a live save and returns normalised copies.
// Validation happens entirely in memory so a rejected save writes nothing.
func PrepareLive(ym shared.YearMonth, entries []Entry) ([]Entry, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	seen := make(map[Coordinate]struct{}, len(entries))
	for i, in := range entries {
		if !in.Version.IsLive() {
			return nil, shared.NewValidationError("version", "entry %d: only the live version can be saved, got %d", i, in.Version)
		}
		if in.Period != (shared.YearMonth{}) && in.Period != ym {
			return nil, shared.NewValidationError("period", "entry %d: belongs to %s, not %s", i, in.Period, ym)
		}
		if in.Date.IsZero() {
			return nil, shared.NewValidationError("date", "entry %d: required", i)
		}
		date := shared.DateOnly(in.Date)
		if !ym.Contains(date) {
			return nil, shared.NewValidationError("date", "entry %d: %s is outside %s", i, date.Format(time.DateOnly), ym)
		}
		col := in.Column.Normalized()
		if err := col.Validate(); err != nil {
			return nil, err
		}
		if in.PlannedTime != nil && !in.PlannedTime.Valid() {
			return nil, shared.NewValidationError("planned_time", "entry %d: out of range", i)
		}
		if in.CompanyID != nil && *in.CompanyID <= 0 {
			return nil, shared.NewValidationError("company_id", "entry %d: must be positive", i)
		}
		if in.Vol != nil && *in.Vol < 0 {
			return nil, shared.NewValidationError("vol", "entry %d: must not be negative", i)
		}
		coord := Coordinate{Date: date, Column: col}
		if _, dup := seen[coord]; dup {
			return nil, shared.NewValidationError("column", "entry %d: duplicate cell %s %s", i, date.Format(time.DateOnly), col)
		}
		seen[coord] = struct{}{}

		entry := in
		entry.Period = ym
		entry.Version = Live
		entry.Date = date
		entry.Column = col
		entry.Note = strings.TrimSpace(in.Note)
		out = append(out, entry)
	}
	return out, nil
}
