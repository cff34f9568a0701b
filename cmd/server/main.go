package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"training-lab-control-plane/internal/audit"
	auditrepo "training-lab-control-plane/internal/audit/repository"
	"training-lab-control-plane/internal/config"
	"training-lab-control-plane/internal/db"
	"training-lab-control-plane/internal/events"
	eventsproducer "training-lab-control-plane/internal/events/producer"
	"training-lab-control-plane/internal/gateway"
	poolcompute "training-lab-control-plane/internal/pool/compute"
	poolrepo "training-lab-control-plane/internal/pool/repository"
	poolsvc "training-lab-control-plane/internal/pool/service"
	quotahandler "training-lab-control-plane/internal/quota/handler"
	quotarepo "training-lab-control-plane/internal/quota/repository"
	quotasvc "training-lab-control-plane/internal/quota/service"
	sessionhandler "training-lab-control-plane/internal/session/handler"
	sessionrepo "training-lab-control-plane/internal/session/repository"
	sessionsvc "training-lab-control-plane/internal/session/service"
	"training-lab-control-plane/internal/telemetry/otel"
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
	if cfg.TokenSecret == "" {
		log.Fatal("TOKEN_SECRET is required")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "lab-control-plane", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	nonces := token.NewPostgresNonceStore(database)
	tokens, err := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenValidityWindow(), nonces)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	group, err := poolcompute.NewASGGroup(ctx, cfg.AWSRegion, cfg.UpstreamCallTimeout())
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	pools := poolsvc.NewService(poolrepo.NewPostgresRepository(database), group, cfg.AssignWait(), cfg.ProbeEvery())

	quotas := quotasvc.NewService(quotarepo.NewPostgresRepository(database))

	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayAPISecret, cfg.UpstreamCallTimeout())

	producer, err := eventsproducer.NewKafkaProducer(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	if err != nil {
		log.Fatalf("events: %v", err)
	}
	var sink sessionsvc.EventSink
	if producer != nil {
		defer producer.Close()
		sink = events.NewSink(producer)
	}

	sessions := sessionsvc.NewService(
		sessionrepo.NewPostgresRepository(database),
		pools, quotas, gw, sink,
		sessionsvc.Options{
			MaxSessionsPerUser: cfg.MaxSessionsPerStudent,
			SessionTTL:         cfg.SessionLifetime(),
			IdleWarningAfter:   cfg.IdleWarningAfter(),
			IdleLimitAfter:     cfg.IdleLimitAfter(),
		},
	)

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(database))

	router := newRouter(routerOptions{
		sessions:    sessionhandler.NewHandler(sessions, auditLogger),
		quota:       quotahandler.NewHandler(quotas),
		verifier:    tokens,
		corsOrigins: cfg.CORSOriginList(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async event emits drain before telemetry teardown.
	time.Sleep(events.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
