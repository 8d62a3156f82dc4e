package layout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/wasteplan/internal/platform/db"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// PgRepository stores layouts in the plan_headers table.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const headerColumns = `id, year, month, day_class, sort_order, waste_type, type_sequence, display_name`

// Load returns the layout for one day class.
func (r *PgRepository) Load(ctx context.Context, ym shared.YearMonth, class shared.DayClass) ([]HeaderDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+headerColumns+`
		FROM plan_headers
		WHERE year = $1 AND month = $2 AND day_class = $3
		ORDER BY sort_order`, ym.Year, ym.Month, string(class))
	if err != nil {
		return nil, err
	}
	return collectHeaders(rows)
}

// LoadMonth returns both day-class layouts.
func (r *PgRepository) LoadMonth(ctx context.Context, ym shared.YearMonth) ([]HeaderDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+headerColumns+`
		FROM plan_headers
		WHERE year = $1 AND month = $2
		ORDER BY day_class, sort_order`, ym.Year, ym.Month)
	if err != nil {
		return nil, err
	}
	return collectHeaders(rows)
}

// Replace deletes the current set and inserts defs inside one transaction.
func (r *PgRepository) Replace(ctx context.Context, ym shared.YearMonth, class shared.DayClass, defs []HeaderDefinition) error {
	return db.WithLockedTx(ctx, r.pool, shared.LayoutLockKey(ym, class), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM plan_headers WHERE year = $1 AND month = $2 AND day_class = $3`,
			ym.Year, ym.Month, string(class)); err != nil {
			return fmt.Errorf("layout: delete headers: %w", err)
		}
		if len(defs) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(defs))
		for _, def := range defs {
			rows = append(rows, []any{
				def.ID, ym.Year, ym.Month, string(class), def.Order,
				def.Column.WasteType, def.Column.Sequence, def.DisplayName,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"plan_headers"},
			[]string{"id", "year", "month", "day_class", "sort_order", "waste_type", "type_sequence", "display_name"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("layout: insert headers: %w", err)
		}
		return nil
	})
}

// FindByID resolves a header by id.
func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (HeaderDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+headerColumns+` FROM plan_headers WHERE id = $1`, id)
	if err != nil {
		return HeaderDefinition{}, err
	}
	defs, err := collectHeaders(rows)
	if err != nil {
		return HeaderDefinition{}, err
	}
	if len(defs) == 0 {
		return HeaderDefinition{}, shared.NotFound("layout: header " + id.String())
	}
	return defs[0], nil
}

func collectHeaders(rows pgx.Rows) ([]HeaderDefinition, error) {
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (HeaderDefinition, error) {
		var (
			def   HeaderDefinition
			class string
		)
		err := row.Scan(&def.ID, &def.Period.Year, &def.Period.Month, &class, &def.Order,
			&def.Column.WasteType, &def.Column.Sequence, &def.DisplayName)
		def.DayClass = shared.DayClass(class)
		return def, err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return defs, nil
}
