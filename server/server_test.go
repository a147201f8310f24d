package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/onnwee/botwatch/monitor"
)

type fixedSnapshot monitor.Snapshot

func (f fixedSnapshot) Snapshot() monitor.Snapshot { return monitor.Snapshot(f) }

type fakeResults struct {
	results []monitor.CycleResult
	err     error
	limit   int
}

func (f *fakeResults) Recent(_ context.Context, limit int) ([]monitor.CycleResult, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results[:min(limit, len(f.results))], nil
}

func newTestHandler(h *Handlers) http.Handler { return NewMux(h) }

func TestHealthz(t *testing.T) {
	h := newTestHandler(&Handlers{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("GET /healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newTestHandler(&Handlers{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}
}

func TestReadyz(t *testing.T) {
	state := "closed"
	h := newTestHandler(&Handlers{BreakerState: func() string { return state }})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("closed breaker: status %d", rr.Code)
	}

	state = "open"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("open breaker: status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "circuit_breaker") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestStatus(t *testing.T) {
	latest := &monitor.CycleResult{VideoID: "v1", ConcurrentViewers: 1000, EstimationMethod: "lurker_factor"}
	h := newTestHandler(&Handlers{
		Monitor:      fixedSnapshot{Latest: latest, Cycles: 3, LastState: monitor.StateLogged, LastCycleAt: time.Unix(0, 0).UTC()},
		BreakerState: func() string { return "closed" },
		Platform:     "youtube",
		ChannelID:    "UC-test",
		LogPath:      "log.json",
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var body struct {
		Platform     string           `json:"platform"`
		ChannelID    string           `json:"channelId"`
		CircuitState string           `json:"circuitState"`
		Monitor      monitor.Snapshot `json:"monitor"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Platform != "youtube" || body.ChannelID != "UC-test" || body.CircuitState != "closed" {
		t.Errorf("body = %+v", body)
	}
	if body.Monitor.Cycles != 3 || body.Monitor.Latest == nil || body.Monitor.Latest.VideoID != "v1" {
		t.Errorf("monitor = %+v", body.Monitor)
	}
}

func TestResults(t *testing.T) {
	src := &fakeResults{results: []monitor.CycleResult{{VideoID: "v3"}, {VideoID: "v2"}, {VideoID: "v1"}}}
	h := newTestHandler(&Handlers{Results: src})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/results?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var got []monitor.CycleResult
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].VideoID != "v3" {
		t.Errorf("results = %+v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/results?limit=100000", nil))
	if src.limit != maxResultsLimit {
		t.Errorf("limit passed = %d, want %d", src.limit, maxResultsLimit)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/results?limit=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", rr.Code)
	}
}

func TestResultsErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestHandler(&Handlers{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/results", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("no reader: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newTestHandler(&Handlers{Results: &fakeResults{err: errors.New("disk")}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/results", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("reader error: status %d", rr.Code)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", newTestHandler(&Handlers{})) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
