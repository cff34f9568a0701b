package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "lab-api", "lab-secret", 2*time.Second)
}

func TestCreateConnection(t *testing.T) {
	var gotAuth string
	var gotBody createConnectionRequest
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/connections" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(createConnectionResponse{ConnectionID: "conn-1"})
	})

	id, err := client.CreateConnection(context.Background(), "sess-1", "user-1", "10.0.0.7")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if id != "conn-1" {
		t.Fatalf("expected conn-1, got %s", id)
	}
	if gotBody.SessionID != "sess-1" || gotBody.InstanceIP != "10.0.0.7" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}

	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	if raw == gotAuth {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte("lab-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse request token: %v", err)
	}
	if claims.Issuer != "lab-api" {
		t.Fatalf("expected issuer lab-api, got %s", claims.Issuer)
	}
}

func TestState_NotFoundIsNil(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such connection", http.StatusNotFound)
	})

	state, err := client.State(context.Background(), "conn-missing")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for unknown connection")
	}
}

func TestState_Fields(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConnectionState{
			Ready:           true,
			ClientConnected: true,
			LastActivity:    last,
		})
	})

	state, err := client.State(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !state.Ready || !state.ClientConnected || !state.LastActivity.Equal(last) {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestDo_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(ConnectionState{Ready: true})
	})

	state, err := client.State(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("State after retry: %v", err)
	}
	if !state.Ready {
		t.Fatalf("expected ready state after retry")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestDo_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.CreateConnection(context.Background(), "s", "u", "ip")
	if err == nil {
		t.Fatalf("expected error on 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not retry, got %d calls", calls.Load())
	}
}

func TestDeleteConnection_UnknownIsNoError(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone already", http.StatusNotFound)
	})

	if err := client.DeleteConnection(context.Background(), "conn-gone"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
}
