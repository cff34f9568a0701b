package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"training-lab-control-plane/internal/token"
)

type fakeVerifier struct {
	claims *token.Claims
	err    error
}

func (f *fakeVerifier) Verify(context.Context, string) (*token.Claims, error) {
	return f.claims, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"hello": "world"})
	})
}

func doRequest(h http.Handler, withToken bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	if withToken {
		req.Header.Set(TokenHeader, "some-token")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestAuthenticate_MissingToken(t *testing.T) {
	h := Authenticate(&fakeVerifier{}, okHandler())
	rec := doRequest(h, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Code != "AUTH_MALFORMED" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.HTTPCode != http.StatusUnauthorized {
		t.Fatalf("expected http_code 401 in body, got %d", env.HTTPCode)
	}
}

func TestAuthenticate_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{token.ErrMalformed, "AUTH_MALFORMED"},
		{token.ErrInvalidSignature, "AUTH_INVALID_SIGNATURE"},
		{token.ErrExpired, "AUTH_EXPIRED"},
		{token.ErrReplay, "AUTH_REPLAY"},
	}
	for _, tc := range cases {
		h := Authenticate(&fakeVerifier{err: tc.err}, okHandler())
		rec := doRequest(h, true)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%v: expected 401, got %d", tc.err, rec.Code)
		}
		if env := decodeEnvelope(t, rec); env.Code != tc.code {
			t.Errorf("%v: expected code %s, got %s", tc.err, tc.code, env.Code)
		}
	}
}

func TestAuthenticate_AttachesIdentity(t *testing.T) {
	claims := &token.Claims{Principal: token.Principal{ID: "user-1", Scope: token.ScopeStudent}}
	var seen *token.Claims
	h := Authenticate(&fakeVerifier{claims: claims}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Identity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := doRequest(h, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.ID != "user-1" {
		t.Fatalf("identity not attached: %+v", seen)
	}
}

func TestRequireAdmin(t *testing.T) {
	inner := okHandler()

	student := &token.Claims{Principal: token.Principal{ID: "u", Scope: token.ScopeStudent}}
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req = req.WithContext(WithIdentity(req.Context(), student))
	rec := httptest.NewRecorder()
	RequireAdmin(inner).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("student scope should read as not found, got %d", rec.Code)
	}

	admin := &token.Claims{Principal: token.Principal{ID: "a", Scope: token.ScopeAdmin}}
	req = httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req = req.WithContext(WithIdentity(req.Context(), admin))
	rec = httptest.NewRecorder()
	RequireAdmin(inner).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin scope should pass, got %d", rec.Code)
	}
}
