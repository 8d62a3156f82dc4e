package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// PgActualSource reads actual_results. actual_time is stored as entered so
// malformed values reach the engine and are reported per record.
type PgActualSource struct {
	pool *pgxpool.Pool
}

// NewPgActualSource constructs a PgActualSource.
func NewPgActualSource(pool *pgxpool.Pool) *PgActualSource {
	return &PgActualSource{pool: pool}
}

// MonthlyActual loads every actual result dated within ym.
func (s *PgActualSource) MonthlyActual(ctx context.Context, ym shared.YearMonth) ([]reconcile.Actual, error) {
	start := ym.FirstDay()
	end := start.AddDate(0, 1, 0)
	rows, err := s.pool.Query(ctx, `
		SELECT result_date, actual_time, waste_type, type_sequence, company_id, vol, note
		FROM actual_results
		WHERE result_date >= $1 AND result_date < $2
		ORDER BY result_date, actual_time, id`,
		pgtype.Date{Time: start, Valid: true}, pgtype.Date{Time: end, Valid: true})
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (reconcile.Actual, error) {
		var (
			a       reconcile.Actual
			date    pgtype.Date
			at      pgtype.Text
			seq     pgtype.Int4
			company pgtype.Int8
			vol     pgtype.Float8
			note    pgtype.Text
		)
		if err := row.Scan(&date, &at, &a.Column.WasteType, &seq, &company, &vol, &note); err != nil {
			return reconcile.Actual{}, err
		}
		a.Date = shared.DateOnly(date.Time)
		a.ActualTime = at.String
		a.Column.Sequence = 1
		if seq.Valid {
			a.Column.Sequence = int(seq.Int32)
		}
		if company.Valid {
			id := company.Int64
			a.CompanyID = &id
		}
		if vol.Valid {
			q := shared.QuantityFromFloat(vol.Float64)
			a.Vol = &q
		}
		a.Note = note.String
		return a, nil
	})
}

// PgCompanyDirectory reads the companies table.
type PgCompanyDirectory struct {
	pool *pgxpool.Pool
}

// NewPgCompanyDirectory constructs a PgCompanyDirectory.
func NewPgCompanyDirectory(pool *pgxpool.Pool) *PgCompanyDirectory {
	return &PgCompanyDirectory{pool: pool}
}

// ListCompanies returns all companies ordered by name.
func (d *PgCompanyDirectory) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, name, color, default_time FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Company, error) {
		var (
			c     Company
			color pgtype.Text
			def   pgtype.Time
		)
		if err := row.Scan(&c.ID, &c.Name, &color, &def); err != nil {
			return Company{}, err
		}
		c.Color = color.String
		if def.Valid {
			t := shared.ClockTime(def.Microseconds / int64(time.Minute/time.Microsecond))
			c.DefaultTime = &t
		}
		return c, nil
	})
}

// MemoryActualSource is an in-process ActualResultSource used by tests and
// the memory backend.
type MemoryActualSource struct {
	mu      sync.RWMutex
	results []reconcile.Actual
}

// NewMemoryActualSource seeds a source with results.
func NewMemoryActualSource(results ...reconcile.Actual) *MemoryActualSource {
	return &MemoryActualSource{results: append([]reconcile.Actual(nil), results...)}
}

// Add appends results.
func (m *MemoryActualSource) Add(results ...reconcile.Actual) {
	m.mu.Lock()
	m.results = append(m.results, results...)
	m.mu.Unlock()
}

// MonthlyActual filters results by month.
func (m *MemoryActualSource) MonthlyActual(ctx context.Context, ym shared.YearMonth) ([]reconcile.Actual, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reconcile.Actual
	for _, r := range m.results {
		if ym.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

// StaticCompanyDirectory serves a fixed company list.
type StaticCompanyDirectory []Company

// ListCompanies returns the companies sorted by name.
func (d StaticCompanyDirectory) ListCompanies(ctx context.Context) ([]Company, error) {
	out := append([]Company(nil), d...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
