package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetClientFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"portal": "k-123"})(okHandler)

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		path   string
		status int
		body   string
	}{
		{"missing", func(*http.Request) {}, "/api/v1/x", http.StatusUnauthorized, ""},
		{"wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/api/v1/x", http.StatusUnauthorized, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer k-123") }, "/api/v1/x", http.StatusOK, "portal"},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "k-123") }, "/api/v1/x", http.StatusOK, "portal"},
		{"query", func(*http.Request) {}, "/ws/analysis/s1?api_key=k-123", http.StatusOK, "portal"},
		{"health path", func(*http.Request) {}, "/health", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.path, nil)
			tc.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.status == http.StatusOK && w.Body.String() != tc.body {
				t.Fatalf("client = %q, want %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	w := httptest.NewRecorder()
	APIKeyAuth(nil)(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(okHandler)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	// a different client has its own bucket
	r := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	r.RemoteAddr = "10.0.0.2:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("second client status = %d", w.Code)
	}

	// health paths are never throttled
	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "/live", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("health path throttled: %d", w.Code)
		}
	}
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.Allow("a")
	now = now.Add(idleAfter + sweepEvery + time.Second)
	rl.Allow("b")
	if rl.size() != 1 {
		t.Fatalf("idle visitor must be swept, have %d", rl.size())
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.AnalysisStarted()
	m.AnalysisStarted()
	m.AnalysisFinished(domain.StatusCompleted)
	m.DocumentSkipped("parsing")
	m.Retry(1, time.Second, errors.New("busy"))
	m.WebsocketGauge().Set(3)

	if v := testutil.ToFloat64(m.started); v != 2 {
		t.Errorf("started = %v", v)
	}
	if v := testutil.ToFloat64(m.running); v != 1 {
		t.Errorf("running = %v", v)
	}
	if v := testutil.ToFloat64(m.finished.WithLabelValues("completed")); v != 1 {
		t.Errorf("finished = %v", v)
	}
	if v := testutil.ToFloat64(m.skipped.WithLabelValues("parsing")); v != 1 {
		t.Errorf("skipped = %v", v)
	}

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	if v := testutil.ToFloat64(m.requests.WithLabelValues("POST", "418")); v != 1 {
		t.Errorf("requests = %v", v)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, want := range []string{"ai_retries_total 1", "ws_connections 3", "http_request_duration_seconds"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(log.New(&buf, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/analysis/x/status", nil))
	line := buf.String()
	for _, want := range []string{"method=GET", "path=/api/v1/analysis/x/status", "status=404"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	checkers := map[string]HealthChecker{
		"database": CheckerFunc(func(context.Context) error { return nil }),
		"archive":  CheckerFunc(func(context.Context) error { return errors.New("bucket missing") }),
	}
	w := httptest.NewRecorder()
	HealthHandler("vendor-compliance", checkers).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var hs HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&hs); err != nil {
		t.Fatal(err)
	}
	if hs.Status != "unhealthy" || hs.Checks["database"].Status != "healthy" || hs.Checks["archive"].Message != "bucket missing" {
		t.Fatalf("health = %+v", hs)
	}

	w = httptest.NewRecorder()
	HealthHandler("vendor-compliance", nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("no checkers must be healthy, got %d", w.Code)
	}
}

func TestValidators(t *testing.T) {
	if ValidateSessionID("sess-01") != nil || ValidateSessionID("") == nil || ValidateSessionID("a/b") == nil {
		t.Error("session id validation")
	}
	if ValidateSessionID(strings.Repeat("a", 65)) == nil {
		t.Error("session id longer than 64 must fail")
	}
	if ValidateFileID("AbC_-9") != nil || ValidateFileID("../x") == nil {
		t.Error("file id validation")
	}
	if ValidateAnalysisID("6f1c3f9e-8a51-4a3c-9d55-0b1f0f3d2c11") != nil || ValidateAnalysisID("nope") == nil {
		t.Error("analysis id validation")
	}
	if got := SanitizeString(" a\x00b\x07c\n "); got != "abc" {
		t.Errorf("SanitizeString = %q", got)
	}
	for in, want := range map[int]int{0: 50, -1: 50, 10: 10, 500: 200} {
		if got := ValidateLimit(in); got != want {
			t.Errorf("ValidateLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
