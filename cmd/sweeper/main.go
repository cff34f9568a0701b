// Sweeper runs the periodic reclamation jobs: TTL expiry, idle checks, pool
// reconciliation, and nonce purging. One instance is enough; every job is
// idempotent against concurrent client-driven terminations, so running more
// is safe.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"training-lab-control-plane/internal/config"
	"training-lab-control-plane/internal/db"
	"training-lab-control-plane/internal/gateway"
	poolcompute "training-lab-control-plane/internal/pool/compute"
	poolrepo "training-lab-control-plane/internal/pool/repository"
	poolsvc "training-lab-control-plane/internal/pool/service"
	quotarepo "training-lab-control-plane/internal/quota/repository"
	quotasvc "training-lab-control-plane/internal/quota/service"
	sessionrepo "training-lab-control-plane/internal/session/repository"
	sessionsvc "training-lab-control-plane/internal/session/service"
	"training-lab-control-plane/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	group, err := poolcompute.NewASGGroup(ctx, cfg.AWSRegion, cfg.UpstreamCallTimeout())
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	pools := poolsvc.NewService(poolrepo.NewPostgresRepository(database), group, cfg.AssignWait(), cfg.ProbeEvery())
	quotas := quotasvc.NewService(quotarepo.NewPostgresRepository(database))
	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayAPISecret, cfg.UpstreamCallTimeout())
	nonces := token.NewPostgresNonceStore(database)

	sessions := sessionsvc.NewService(
		sessionrepo.NewPostgresRepository(database),
		pools, quotas, gw, nil,
		sessionsvc.Options{
			MaxSessionsPerUser: cfg.MaxSessionsPerStudent,
			SessionTTL:         cfg.SessionLifetime(),
			IdleWarningAfter:   cfg.IdleWarningAfter(),
			IdleLimitAfter:     cfg.IdleLimitAfter(),
		},
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("sweeper: shutting down...")
		cancel()
	}()

	interval := cfg.SweepEvery()
	log.Printf("sweeper: running every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			sweep(ctx, sessions, pools, nonces)
		}
	}
}

func sweep(ctx context.Context, sessions *sessionsvc.Service, pools *poolsvc.Service, nonces *token.PostgresNonceStore) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := sessions.SweepTTL(runCtx); err != nil {
		log.Printf("sweeper: ttl sweep: %v", err)
	}
	if err := sessions.IdleCheck(runCtx); err != nil {
		log.Printf("sweeper: idle check: %v", err)
	}
	if err := pools.Sync(runCtx); err != nil {
		log.Printf("sweeper: pool sync: %v", err)
	}
	if err := nonces.Purge(runCtx); err != nil {
		log.Printf("sweeper: nonce purge: %v", err)
	}
}
