package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	quotadomain "training-lab-control-plane/internal/quota/domain"
	quotahandler "training-lab-control-plane/internal/quota/handler"
	"training-lab-control-plane/internal/server"
	"training-lab-control-plane/internal/session/domain"
	sessionhandler "training-lab-control-plane/internal/session/handler"
	"training-lab-control-plane/internal/session/repository"
	"training-lab-control-plane/internal/session/service"
	"training-lab-control-plane/internal/token"
)

type stubOrchestrator struct{}

func (stubOrchestrator) Create(context.Context, service.CreateParams) (*domain.Session, error) {
	return nil, service.ErrNotFound
}

func (stubOrchestrator) Refresh(context.Context, string, string, bool) (*domain.Session, error) {
	return nil, service.ErrNotFound
}

func (stubOrchestrator) TerminateOwned(context.Context, string, string, bool, string, bool) (*domain.Session, error) {
	return nil, service.ErrNotFound
}

func (stubOrchestrator) History(context.Context, string) ([]service.HistoryEntry, int, error) {
	return nil, 0, nil
}

func (stubOrchestrator) AdminList(context.Context, repository.ListFilter) ([]*domain.Session, error) {
	return nil, nil
}

type stubTracker struct{}

func (stubTracker) GetUsage(context.Context, string, string) (*quotadomain.Usage, error) {
	return &quotadomain.Usage{}, nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(context.Context, string) (*token.Claims, error) {
	return &token.Claims{Principal: token.Principal{ID: "user-1", Plan: "standard", Scope: token.ScopeStudent}}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(routerOptions{
		sessions: sessionhandler.NewHandler(stubOrchestrator{}, nil),
		quota:    quotahandler.NewHandler(stubTracker{}),
		verifier: stubVerifier{},
	})
}

func TestRouter_UnmatchedPathGetsEnvelope(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/no/such/path", nil)
	req.Header.Set(server.TokenHeader, "any")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Success  bool   `json:"success"`
		Code     string `json:"code"`
		HTTPCode int    `json:"http_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmatched path did not return JSON: %v (%s)", err, rec.Body.String())
	}
	if body.Success || body.Code != "NOT_FOUND" || body.HTTPCode != http.StatusNotFound {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}

func TestRouter_HealthzSkipsAuth(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
