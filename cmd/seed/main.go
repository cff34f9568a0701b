// seed inserts plan and pool configuration for local development.
// Idempotent: rows upsert on their natural keys.
package main

import (
	"context"
	"database/sql"
	"log"

	"training-lab-control-plane/internal/config"
	"training-lab-control-plane/internal/db"
)

type plan struct {
	name         string
	quotaMinutes int
	periodDays   int
}

type pool struct {
	tier            string
	minSize         int
	maxSize         int
	warmMin         int
	warmMaxPrepared int
	computeGroup    string
}

var plans = []plan{
	{name: "standard", quotaMinutes: 300, periodDays: 30},
	{name: "extended", quotaMinutes: 1200, periodDays: 30},
	{name: "premium", quotaMinutes: -1, periodDays: 30},
}

var pools = []pool{
	{tier: "cpu", minSize: 0, maxSize: 20, warmMin: 2, warmMaxPrepared: 4, computeGroup: "lab-cpu"},
	{tier: "gpu", minSize: 0, maxSize: 8, warmMin: 1, warmMaxPrepared: 2, computeGroup: "lab-gpu"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := seedPlans(ctx, database); err != nil {
		log.Fatalf("seed plans: %v", err)
	}
	if err := seedPools(ctx, database); err != nil {
		log.Fatalf("seed pools: %v", err)
	}
	log.Printf("seeded %d plans and %d pools", len(plans), len(pools))
}

func seedPlans(ctx context.Context, database *sql.DB) error {
	query := `
		INSERT INTO plans (name, quota_minutes, period_days)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET quota_minutes = EXCLUDED.quota_minutes, period_days = EXCLUDED.period_days
	`
	for _, p := range plans {
		if _, err := database.ExecContext(ctx, query, p.name, p.quotaMinutes, p.periodDays); err != nil {
			return err
		}
	}
	return nil
}

func seedPools(ctx context.Context, database *sql.DB) error {
	query := `
		INSERT INTO pools (tier, min_size, max_size, warm_min, warm_max_prepared, compute_group)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tier) DO UPDATE
		SET min_size = EXCLUDED.min_size, max_size = EXCLUDED.max_size,
			warm_min = EXCLUDED.warm_min, warm_max_prepared = EXCLUDED.warm_max_prepared,
			compute_group = EXCLUDED.compute_group
	`
	for _, p := range pools {
		if _, err := database.ExecContext(ctx, query, p.tier, p.minSize, p.maxSize, p.warmMin, p.warmMaxPrepared, p.computeGroup); err != nil {
			return err
		}
	}
	return nil
}
