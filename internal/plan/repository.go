package plan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/wasteplan/internal/platform/db"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

const pgUniqueViolation = "23505"

// PgRepository persists plan entries in plan_entries and snapshot metadata in
// plan_versions.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var entryColumns = []string{
	"year", "month", "version", "plan_date", "waste_type", "type_sequence",
	"company_id", "vol", "planned_time", "note", "created_at",
}

// LoadEntries reads one version of a month.
func (r *PgRepository) LoadEntries(ctx context.Context, ym shared.YearMonth, version Version) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT plan_date, waste_type, type_sequence, company_id, vol, planned_time, note, created_at
		FROM plan_entries
		WHERE year = $1 AND month = $2 AND version = $3
		ORDER BY plan_date, waste_type, type_sequence`, ym.Year, ym.Month, int(version))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			date      pgtype.Date
			company   pgtype.Int8
			vol       pgtype.Numeric
			planned   pgtype.Time
			note      pgtype.Text
			createdAt pgtype.Timestamptz
			e         Entry
		)
		if err := row.Scan(&date, &e.Column.WasteType, &e.Column.Sequence, &company, &vol, &planned, &note, &createdAt); err != nil {
			return Entry{}, err
		}
		e.Period = ym
		e.Version = version
		e.Date = shared.DateOnly(date.Time)
		e.CompanyID = int8ToPointer(company)
		q, err := numericToQuantity(vol)
		if err != nil {
			return Entry{}, err
		}
		e.Vol = q
		e.PlannedTime = timeToClock(planned)
		e.Note = note.String
		e.CreatedAt = createdAt.Time
		return e, nil
	})
}

// ReplaceLive deletes the month's live rows and bulk inserts entries.
func (r *PgRepository) ReplaceLive(ctx context.Context, ym shared.YearMonth, entries []Entry) error {
	return db.WithLockedTx(ctx, r.pool, shared.PlanLockKey(ym), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM plan_entries WHERE year = $1 AND month = $2 AND version = 0`,
			ym.Year, ym.Month); err != nil {
			return fmt.Errorf("plan: delete live rows: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []any{
				ym.Year, ym.Month, int(Live),
				pgtype.Date{Time: e.Date, Valid: true},
				e.Column.WasteType, e.Column.Sequence,
				int8FromPointer(e.CompanyID),
				quantityToNumeric(e.Vol),
				clockToTime(e.PlannedTime),
				e.Note,
				pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"plan_entries"}, entryColumns, pgx.CopyFromRows(rows)); err != nil {
			return mapWriteError("plan: insert live rows", err)
		}
		return nil
	})
}

// FreezeLive copies the live rows into the next version in one transaction.
func (r *PgRepository) FreezeLive(ctx context.Context, ym shared.YearMonth, user string, at time.Time) (Version, error) {
	var version int
	err := db.WithLockedTx(ctx, r.pool, shared.PlanLockKey(ym), func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM plan_versions
			WHERE year = $1 AND month = $2`, ym.Year, ym.Month).Scan(&version); err != nil {
			return fmt.Errorf("plan: next version: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO plan_entries (year, month, version, plan_date, waste_type, type_sequence,
				company_id, vol, planned_time, note, created_at)
			SELECT year, month, $3, plan_date, waste_type, type_sequence,
				company_id, vol, planned_time, note, $4
			FROM plan_entries
			WHERE year = $1 AND month = $2 AND version = 0`,
			ym.Year, ym.Month, version, at); err != nil {
			return mapWriteError("plan: copy live rows", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO plan_versions (year, month, version, created_at, created_user)
			VALUES ($1, $2, $3, $4, $5)`,
			ym.Year, ym.Month, version, at, user); err != nil {
			return mapWriteError("plan: record version", err)
		}
		return nil
	})
	if err != nil {
		return Live, err
	}
	return Frozen(version), nil
}

// ListSnapshots returns the month's snapshot metadata.
func (r *PgRepository) ListSnapshots(ctx context.Context, ym shared.YearMonth) ([]SnapshotInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT version, created_at, created_user
		FROM plan_versions
		WHERE year = $1 AND month = $2
		ORDER BY version`, ym.Year, ym.Month)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SnapshotInfo, error) {
		var (
			info      SnapshotInfo
			version   int
			createdAt pgtype.Timestamptz
			user      pgtype.Text
		)
		err := row.Scan(&version, &createdAt, &user)
		info.Period = ym
		info.Version = Version(version)
		info.CreatedAt = createdAt.Time
		info.CreatedUser = user.String
		return info, err
	})
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return shared.Conflict(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Helpers

func int8ToPointer(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func int8FromPointer(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}

func quantityToNumeric(q *shared.Quantity) pgtype.Numeric {
	if q == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: big.NewInt(int64(*q)), Exp: -2, Valid: true}
}

func numericToQuantity(n pgtype.Numeric) (*shared.Quantity, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("plan: vol is not a finite number")
	}
	if n.Int == nil {
		q := shared.Quantity(0)
		return &q, nil
	}
	// Rescale Int*10^Exp to hundredths. Digits past the second place are
	// rounded half away from zero, matching QuantityFromFloat.
	hundredths := new(big.Int).Set(n.Int)
	switch shift := int64(n.Exp) + 2; {
	case shift > 0:
		hundredths.Mul(hundredths, new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil))
	case shift < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(-shift), nil)
		var rem big.Int
		hundredths.QuoRem(hundredths, div, &rem)
		if new(big.Int).Mul(new(big.Int).Abs(&rem), big.NewInt(2)).Cmp(div) >= 0 {
			hundredths.Add(hundredths, big.NewInt(int64(rem.Sign())))
		}
	}
	if !hundredths.IsInt64() {
		return nil, fmt.Errorf("plan: vol %s out of range", n.Int.String())
	}
	q := shared.Quantity(hundredths.Int64())
	return &q, nil
}

func clockToTime(c *shared.ClockTime) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: c.Duration().Microseconds(), Valid: true}
}

func timeToClock(t pgtype.Time) *shared.ClockTime {
	if !t.Valid {
		return nil
	}
	c := shared.ClockTime(t.Microseconds / int64(time.Minute/time.Microsecond))
	return &c
}
