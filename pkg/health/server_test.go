package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waytour/waytour/pkg/store"
	"github.com/waytour/waytour/pkg/syncq"
	"github.com/waytour/waytour/pkg/telem"
)

func newTestServer() *Server {
	telemetry := telem.NewStore(telem.Config{})
	telemetry.AddEvent(telem.Event{
		Timestamp: time.Now(),
		Level:     "info",
		Type:      "geofence_enter",
		PoiID:     "p1",
		Message:   "entered",
	})
	queue := syncq.New(syncq.DefaultConfig(), store.NewMemoryKV(), nil, nil)
	queue.Enqueue(map[string]interface{}{"action": "poi_played"})

	return NewServer(Sources{Telemetry: telemetry, Queue: queue}, "test", nil)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.Version != "test" {
		t.Errorf("expected version test, got %s", status.Version)
	}
	if status.QueueDepth != 1 {
		t.Errorf("expected queue depth 1, got %d", status.QueueDepth)
	}
}

func TestEventsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/events?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var events []telem.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(events) != 1 || events[0].PoiID != "p1" {
		t.Fatalf("expected the recorded event, got %v", events)
	}
}

func TestQueueEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["depth"].(float64) != 1 {
		t.Fatalf("expected depth 1, got %v", body["depth"])
	}
}

func TestUnconfiguredSourcesDegrade(t *testing.T) {
	s := NewServer(Sources{}, "test", nil)

	for _, path := range []string{"/status", "/events", "/preload", "/queue"} {
		rec := get(t, s, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 with nil sources, got %d", path, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}
