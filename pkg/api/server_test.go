package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go-llmsentry/pkg/models"
)

type stubService struct {
	mu     sync.Mutex
	events []models.Event
	reject bool
}

func (s *stubService) Submit(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *stubService) QueueDepth() int { return 3 }

func (s *stubService) Pending() int { return 7 }

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEventEndpoints(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc)

	rec := post(t, h, "/api/v1/events/begin", `{"request_id":"r1","method":"POST","url":"https://x.test/chat","request_body":[{"size":12}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("begin status = %d; want %d; body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	rec = post(t, h, "/api/v1/events/header", `{"request_id":"r1","response_headers":[{"name":"content-type","value":"text/event-stream"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("header status = %d; body=%s", rec.Code, rec.Body.String())
	}

	rec = post(t, h, "/api/v1/events/complete", `{"request_id":"r1","url":"https://x.test/chat","method":"POST","response_size":100,"remote_ip":"203.0.113.1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("complete status = %d; body=%s", rec.Code, rec.Body.String())
	}

	if len(svc.events) != 3 {
		t.Fatalf("submitted %d events; want 3", len(svc.events))
	}
	begin, ok := svc.events[0].(models.BeginEvent)
	if !ok || begin.RequestID != "r1" || len(begin.RequestBody) != 1 || begin.RequestBody[0].Size != 12 {
		t.Errorf("begin = %+v", svc.events[0])
	}
	header, ok := svc.events[1].(models.HeaderEvent)
	if !ok || len(header.ResponseHeaders) != 1 || header.ResponseHeaders[0].Value != "text/event-stream" {
		t.Errorf("header = %+v", svc.events[1])
	}
	complete, ok := svc.events[2].(models.CompleteEvent)
	if !ok || complete.ResponseSize != 100 || complete.RemoteIP != "203.0.113.1" {
		t.Errorf("complete = %+v", svc.events[2])
	}
}

func TestEventValidation(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc)

	rec := post(t, h, "/api/v1/events/begin", `{"method":"GET","url":"https://x.test/"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing request_id status = %d; want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	rec = post(t, h, "/api/v1/events/complete", `{"request_id":"r1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing url status = %d; want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if len(svc.events) != 0 {
		t.Errorf("invalid events were submitted: %v", svc.events)
	}
}

func TestEventQueueFull(t *testing.T) {
	h := NewServer(&stubService{reject: true})
	rec := post(t, h, "/api/v1/events/header", `{"request_id":"r1"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthAndStats(t *testing.T) {
	h := NewServer(&stubService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats struct {
		QueueDepth int `json:"queue_depth"`
		Pending    int `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.QueueDepth != 3 || stats.Pending != 7 {
		t.Errorf("stats = %+v; want queue_depth=3 pending=7", stats)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
