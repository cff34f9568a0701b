// poller tracks one session from the command line, polling the control
// plane until the session is live or ends. Useful for smoke-testing a
// deployment without a browser client.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"training-lab-control-plane/internal/config"
	"training-lab-control-plane/internal/poller"
	sessiondomain "training-lab-control-plane/internal/session/domain"
	"training-lab-control-plane/internal/token"
)

// consoleSurface renders session state to the log. It never observes
// disconnects, so the poller's reconnect path stays idle.
type consoleSurface struct{}

func (consoleSurface) Render(s *sessiondomain.Session) {
	log.Printf("session %s: %s", s.ID, s.Status)
}

func (consoleSurface) RenderEnded(s *sessiondomain.Session) {
	reason := s.TerminationReason
	if reason == "" {
		reason = s.ErrorCode
	}
	log.Printf("session %s ended: %s (%s)", s.ID, s.Status, reason)
}

func (consoleSurface) Disconnects() <-chan struct{}    { return nil }
func (consoleSurface) Reconnect(context.Context) error { return nil }
func (consoleSurface) Close()                          {}

// localTokenSource mints a fresh signed token per request from the shared
// secret, the same way the identity-system plugin does.
type localTokenSource struct {
	svc       *token.Service
	principal token.Principal
}

func (s *localTokenSource) Token(context.Context) (string, error) {
	return s.svc.Generate(s.principal)
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "control-plane base URL")
	sessionID := flag.String("session", "", "session id to track")
	userID := flag.String("user", "", "user id the token is minted for")
	plan := flag.String("plan", "standard", "plan claim on the token")
	flag.Parse()

	if *sessionID == "" || *userID == "" {
		log.Fatal("both -session and -user are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.TokenSecret == "" {
		log.Fatal("TOKEN_SECRET is required")
	}

	// Nonces are only checked server-side; the local store just satisfies
	// the service constructor.
	tokens, err := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenValidityWindow(), token.NewMemoryNonceStore())
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	source := &localTokenSource{
		svc: tokens,
		principal: token.Principal{
			ID:    *userID,
			Plan:  *plan,
			Scope: token.ScopeStudent,
		},
	}
	client := poller.NewClient(*apiURL, source, cfg.UpstreamCallTimeout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	p := poller.New(client, consoleSurface{}, *sessionID, poller.Options{})
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("poller: %v", err)
	}
}
