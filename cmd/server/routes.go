package main

import (
	"net/http"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	quotahandler "training-lab-control-plane/internal/quota/handler"
	"training-lab-control-plane/internal/server"
	sessionhandler "training-lab-control-plane/internal/session/handler"
)

// routerOptions carries the handlers and policies the router wires together.
type routerOptions struct {
	sessions    *sessionhandler.Handler
	quota       *quotahandler.Handler
	verifier    server.Verifier
	corsOrigins []string
}

// newRouter builds the full HTTP handler chain. /healthz stays public;
// everything else requires a verified session token.
func newRouter(opts routerOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		server.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authed := http.NewServeMux()
	authed.HandleFunc("POST /sessions", opts.sessions.Create)
	// /sessions/history is more specific than /sessions/{id} and wins.
	authed.HandleFunc("GET /sessions/history", opts.sessions.History)
	authed.HandleFunc("GET /sessions/{id}", opts.sessions.Get)
	authed.HandleFunc("DELETE /sessions/{id}", opts.sessions.Terminate)
	authed.HandleFunc("GET /usage", opts.quota.Usage)
	authed.Handle("GET /admin/sessions", server.RequireAdmin(http.HandlerFunc(opts.sessions.AdminList)))
	// Unmatched paths get the envelope, not the mux's plain-text 404.
	authed.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		server.Error(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})

	mux.Handle("/", server.Authenticate(opts.verifier, authed))

	c := cors.New(cors.Options{
		AllowedOrigins: opts.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", server.TokenHeader},
	})

	return otelhttp.NewHandler(server.Logging(c.Handler(mux)), "http.server")
}
