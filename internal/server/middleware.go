package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"training-lab-control-plane/internal/token"
)

// TokenHeader carries the signed session token on every authenticated call.
const TokenHeader = "X-Session-Token"

// Verifier is the token verification surface the middleware needs.
type Verifier interface {
	Verify(ctx context.Context, tok string) (*token.Claims, error)
}

// Authenticate verifies the request token and attaches the claims to the
// context. Verification consumes the token's nonce, so each token
// authenticates exactly one request.
func Authenticate(svc Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(TokenHeader)
		if raw == "" {
			Error(w, http.StatusUnauthorized, "AUTH_MALFORMED", "missing session token")
			return
		}
		claims, err := svc.Verify(r.Context(), raw)
		if err != nil {
			code, message := authError(err)
			Error(w, http.StatusUnauthorized, code, message)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims)))
	})
}

func authError(err error) (string, string) {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return "AUTH_MALFORMED", "token is malformed"
	case errors.Is(err, token.ErrInvalidSignature):
		return "AUTH_INVALID_SIGNATURE", "token signature is invalid"
	case errors.Is(err, token.ErrExpired):
		return "AUTH_EXPIRED", "token has expired"
	case errors.Is(err, token.ErrReplay):
		return "AUTH_REPLAY", "token has already been used"
	default:
		return "AUTH_MALFORMED", "token verification failed"
	}
}

// RequireAdmin rejects callers without the admin scope.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := Identity(r.Context())
		if claims == nil || claims.Scope != token.ScopeAdmin {
			Error(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging records one line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[http] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
