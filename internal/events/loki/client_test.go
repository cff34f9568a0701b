package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []byte(`{"type":"terminated","session_id":"s-1","tier":"gpu","status":"TERMINATED","created_at":"` + created.Format(time.RFC3339Nano) + `"}`)

	if err := PushEventJSON(context.Background(), srv.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("expected one stream, got %d", len(got.Streams))
	}
	stream := got.Streams[0]
	if stream.Stream["event_type"] != "terminated" || stream.Stream["tier"] != "gpu" {
		t.Fatalf("unexpected labels: %v", stream.Stream)
	}
	if stream.Stream["job"] != "lab-control-plane" {
		t.Fatalf("missing job label: %v", stream.Stream)
	}
	ns, err := strconv.ParseInt(stream.Values[0][0], 10, 64)
	if err != nil || ns != created.UnixNano() {
		t.Fatalf("expected event timestamp %d, got %s", created.UnixNano(), stream.Values[0][0])
	}
}

func TestPushEvent_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := PushEvent(context.Background(), srv.URL, time.Now(), "line", nil)
	if err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestPushEvent_EmptyURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "line", nil); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
