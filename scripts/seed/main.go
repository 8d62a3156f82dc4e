package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/wasteplan/internal/app"
	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/platform/db"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Seeds one demo month: companies, both layouts, a live plan with one
// snapshot, and actual results that exercise every reconcile status.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StoreBackend != app.BackendPostgres {
		log.Fatalf("seed requires STORE_BACKEND=%s", app.BackendPostgres)
	}
	logger := app.NewLoggerTo(cfg, os.Stderr)
	container, err := app.Build(ctx, cfg, logger, app.BuildOptions{SkipCache: true})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	defer container.Close()

	ym := demoMonth(time.Now())

	fmt.Println("→ Applying schema...")
	if err := db.Migrate(ctx, container.Pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding companies...")
	companies, err := seedCompanies(ctx, container.Pool)
	if err != nil {
		log.Fatalf("seed companies: %v", err)
	}

	fmt.Println("→ Seeding layouts...")
	if err := seedLayouts(ctx, container.Schedule, ym); err != nil {
		log.Fatalf("seed layouts: %v", err)
	}

	fmt.Println("→ Seeding plan...")
	if err := seedPlan(ctx, container.Schedule, ym, companies); err != nil {
		log.Fatalf("seed plan: %v", err)
	}

	fmt.Println("→ Seeding actual results...")
	if err := seedActuals(ctx, container.Pool, ym); err != nil {
		log.Fatalf("seed actuals: %v", err)
	}

	result, err := container.Schedule.ReconcileMonth(ctx, ym, cfg.Tolerances())
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	summary := result.Summarize()
	logger.Info("seeded month reconciled", slog.String("period", ym.String()), slog.Any("by_status", summary.ByStatus))

	fmt.Println("✓ Seed complete for", ym, "at", time.Now().Format(time.RFC3339))
}

func demoMonth(now time.Time) shared.YearMonth {
	return shared.YearMonth{Year: now.Year(), Month: int(now.Month())}
}

func seedCompanies(ctx context.Context, pool *pgxpool.Pool) (map[string]int64, error) {
	rows := []struct {
		name, color, defaultTime string
	}{
		{"Tokai Recycle", "#2e7d32", "08:00"},
		{"Asahi Kankyo", "#1565c0", "13:00"},
		{"Minato Clean", "#ef6c00", ""},
	}
	ids := make(map[string]int64, len(rows))
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, c := range rows {
			var def any
			if c.defaultTime != "" {
				def = c.defaultTime
			}
			var id int64
			err := tx.QueryRow(ctx, `SELECT id FROM companies WHERE name = $1`, c.name).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				err = tx.QueryRow(ctx, `
					INSERT INTO companies (name, color, default_time)
					VALUES ($1, $2, $3::time)
					RETURNING id`, c.name, c.color, def).Scan(&id)
			}
			if err != nil {
				return err
			}
			ids[c.name] = id
		}
		return nil
	})
	return ids, err
}

func seedLayouts(ctx context.Context, svc *schedule.Service, ym shared.YearMonth) error {
	layouts := map[shared.DayClass][]layout.HeaderInput{
		shared.DayClassOrdinary: {
			{Order: 1, WasteType: "可燃", Sequence: 1},
			{Order: 2, WasteType: "廃プラ", Sequence: 1},
			{Order: 3, WasteType: "廃プラ", Sequence: 2},
			{Order: 4, WasteType: "ビン・缶", Sequence: 1},
		},
		shared.DayClassSpecial: {
			{Order: 1, WasteType: "粗大", Sequence: 1, DisplayName: "粗大ごみ"},
		},
	}
	for _, class := range shared.DayClasses() {
		if _, err := svc.ReplaceLayout(ctx, ym, class, layouts[class]); err != nil {
			return fmt.Errorf("%s layout: %w", class, err)
		}
	}
	return nil
}

func seedPlan(ctx context.Context, svc *schedule.Service, ym shared.YearMonth, companies map[string]int64) error {
	tokai := companies["Tokai Recycle"]
	asahi := companies["Asahi Kankyo"]
	entry := func(day int, waste string, seq int, at string, company int64, vol string) plan.Entry {
		e := plan.Entry{
			Date:      ym.FirstDay().AddDate(0, 0, day-1),
			Column:    shared.ColumnKey{WasteType: waste, Sequence: seq},
			CompanyID: &company,
		}
		if at != "" {
			c := shared.MustClock(at)
			e.PlannedTime = &c
		}
		if vol != "" {
			q, err := shared.ParseQuantity(vol)
			if err == nil {
				e.Vol = &q
			}
		}
		return e
	}
	entries := []plan.Entry{
		entry(10, "廃プラ", 1, "09:00", asahi, "2.5"),
		entry(11, "廃プラ", 1, "13:00", asahi, "3"),
		entry(12, "廃プラ", 1, "08:00", asahi, ""),
		entry(12, "可燃", 1, "08:00", tokai, "12.75"),
		entry(13, "可燃", 1, "", tokai, ""),
		entry(14, "粗大", 1, "10:00", tokai, "1"),
	}
	if err := svc.SaveMonth(ctx, ym, entries); err != nil {
		return err
	}
	version, err := svc.SnapshotMonth(ctx, ym, "seed")
	if err != nil {
		return err
	}
	fmt.Printf("  frozen %s as version %d\n", ym, int(version))
	return nil
}

func seedActuals(ctx context.Context, pool *pgxpool.Pool, ym shared.YearMonth) error {
	start := ym.FirstDay()
	rows := []struct {
		day        int
		actualTime string
		wasteType  string
	}{
		{11, "13:10", "廃プラ"},
		{12, "09:30", "廃プラ"},
		{12, "08:40", "可燃"},
		{13, "11:00", "可燃"},
		{14, "10:05", "ﾋﾞﾝ・缶"},
		{15, "25:00", "可燃"},
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM actual_results WHERE result_date >= $1 AND result_date < $2`,
			start, start.AddDate(0, 1, 0)); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(`
				INSERT INTO actual_results (result_date, actual_time, waste_type, type_sequence)
				VALUES ($1, $2, $3, 1)`, start.AddDate(0, 0, r.day-1), r.actualTime, r.wasteType)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
