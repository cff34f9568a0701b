package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"training-lab-control-plane/internal/server"
	"training-lab-control-plane/internal/session/domain"
	"training-lab-control-plane/internal/session/repository"
	"training-lab-control-plane/internal/session/service"
	"training-lab-control-plane/internal/token"
)

type fakeOrchestrator struct {
	session *domain.Session
	err     error

	gotCreate    service.CreateParams
	gotTerminate struct {
		id   string
		stop bool
	}
}

func (f *fakeOrchestrator) Create(_ context.Context, p service.CreateParams) (*domain.Session, error) {
	f.gotCreate = p
	return f.session, f.err
}

func (f *fakeOrchestrator) Refresh(_ context.Context, id, _ string, _ bool) (*domain.Session, error) {
	return f.session, f.err
}

func (f *fakeOrchestrator) TerminateOwned(_ context.Context, id, _ string, _ bool, _ string, stop bool) (*domain.Session, error) {
	f.gotTerminate.id = id
	f.gotTerminate.stop = stop
	return f.session, f.err
}

func (f *fakeOrchestrator) History(context.Context, string) ([]service.HistoryEntry, int, error) {
	return []service.HistoryEntry{}, 0, f.err
}

func (f *fakeOrchestrator) AdminList(context.Context, repository.ListFilter) ([]*domain.Session, error) {
	return nil, f.err
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.Create)
	mux.HandleFunc("GET /sessions/{id}", h.Get)
	mux.HandleFunc("DELETE /sessions/{id}", h.Terminate)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	claims := &token.Claims{Principal: token.Principal{ID: "user-1", Plan: "standard", Scope: token.ScopeStudent}}
	req = req.WithContext(server.WithIdentity(req.Context(), claims))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreate_UsesIdentityClaims(t *testing.T) {
	f := &fakeOrchestrator{session: &domain.Session{ID: "s-1", Status: domain.StatusProvisioning}}
	h := NewHandler(f, nil)

	rec := serve(h, http.MethodPost, "/sessions", `{"tier":"gpu","metadata":"lab-3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.gotCreate.UserID != "user-1" || f.gotCreate.Plan != "standard" {
		t.Fatalf("identity not threaded into create: %+v", f.gotCreate)
	}
	if f.gotCreate.Tier != "gpu" || f.gotCreate.Metadata != "lab-3" {
		t.Fatalf("request body not threaded into create: %+v", f.gotCreate)
	}
}

func TestCreate_MissingTier(t *testing.T) {
	h := NewHandler(&fakeOrchestrator{}, nil)
	rec := serve(h, http.MethodPost, "/sessions", `{"metadata":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrQuotaExceeded, http.StatusPaymentRequired, "QUOTA_EXCEEDED"},
		{service.ErrSessionConflict, http.StatusConflict, "SESSION_CONFLICT"},
		{service.ErrPoolExhausted, http.StatusServiceUnavailable, "POOL_EXHAUSTED"},
		{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		h := NewHandler(&fakeOrchestrator{err: tc.err}, nil)
		rec := serve(h, http.MethodPost, "/sessions", `{"tier":"gpu"}`)
		if rec.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var env struct {
			Success bool   `json:"success"`
			Code    string `json:"code"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Success || env.Code != tc.code {
			t.Errorf("%v: expected code %s, got %+v", tc.err, tc.code, env)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	h := NewHandler(&fakeOrchestrator{err: service.ErrNotFound}, nil)
	rec := serve(h, http.MethodGet, "/sessions/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTerminate_OptionalBody(t *testing.T) {
	f := &fakeOrchestrator{session: &domain.Session{ID: "s-1", Status: domain.StatusTerminated}}
	h := NewHandler(f, nil)

	rec := serve(h, http.MethodDelete, "/sessions/s-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with empty body, got %d", rec.Code)
	}
	if f.gotTerminate.stop {
		t.Fatalf("empty body must default stop_instance to false")
	}

	rec = serve(h, http.MethodDelete, "/sessions/s-1", `{"reason":"done","stop_instance":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !f.gotTerminate.stop {
		t.Fatalf("stop_instance not threaded through")
	}
}
