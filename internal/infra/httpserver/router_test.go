package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	analysisapp "github.com/bryanwahyu/vendor-compliance/internal/application/analysis"
	chatapp "github.com/bryanwahyu/vendor-compliance/internal/application/chat"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/ai/local"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/db/memory"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/filestore"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/realtime"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

const policyDoc = `# Acme security policy
Multi-factor authentication is optional for administrators.
All customer data is encrypted at rest using AES-256 and in transit with TLS 1.2.
An incident response plan is documented and tested annually.
`

type testServer struct {
	*httptest.Server
	svc *analysisapp.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)

	files, err := filestore.New(t.TempDir(), filestore.Options{MaxFileBytes: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	repo := memory.NewJobRepo()
	hub := realtime.NewHub(quiet, nil)
	trust, err := analysisapp.NewTrustClassifier(nil)
	if err != nil {
		t.Fatal(err)
	}
	orch := &analysisapp.Orchestrator{
		Repo:       repo,
		Files:      files,
		Analyzer:   local.NewAnalyzer(),
		Summarizer: local.Summarizer{},
		Publisher:  hub,
		Trust:      trust,
		Logger:     quiet,
	}
	svc := &analysisapp.Service{
		Repo:       repo,
		Files:      files,
		Runner:     orch,
		Supervisor: analysisapp.NewSupervisor(quiet),
		Logger:     quiet,
	}
	chat := chatapp.NewService(local.Chat{}, svc, nil, quiet)

	h := NewRouter(Options{
		Analyses: svc,
		Uploads:  files,
		Chat:     chat,
		Control:  &realtime.Control{Hub: hub, Jobs: svc, Chat: chat, Logger: quiet},
		Metrics:  middleware.NewMetrics(),
		Logger:   quiet,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Supervisor.Shutdown(context.Background())
	})
	return &testServer{Server: srv, svc: svc}
}

func (s *testServer) upload(t *testing.T, sessionID, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("session_id", sessionID)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(fw, content)
	_ = mw.Close()

	resp, err := http.Post(s.URL+"/api/v1/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, s.URL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func (s *testServer) waitFor(t *testing.T, id string, want domain.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, st := s.do(t, http.MethodGet, "/api/v1/analysis/"+id+"/status", nil)
		if st["status"] == string(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("analysis %s never reached %s", id, want)
}

func TestUploadListDelete(t *testing.T) {
	s := newTestServer(t)

	resp := s.upload(t, "sess-1", "policy.md", policyDoc)
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("upload = %d %v", resp.StatusCode, body)
	}
	fileID := body["file"].(map[string]any)["id"].(string)

	resp = s.upload(t, "sess-1", "tool.exe", "MZ")
	body = decode(t, resp)
	if resp.StatusCode != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("bad extension = %d %v", resp.StatusCode, body)
	}
	resp = s.upload(t, "bad/session", "policy.md", policyDoc)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad session = %d", resp.StatusCode)
	}

	_, list := s.do(t, http.MethodGet, "/api/v1/upload/sess-1", nil)
	if files := list["files"].([]any); len(files) != 1 || list["total_size_bytes"].(float64) != float64(len(policyDoc)) {
		t.Fatalf("list = %v", list)
	}

	_, del := s.do(t, http.MethodDelete, "/api/v1/upload/sess-1/"+fileID, nil)
	if del["success"] != true {
		t.Fatalf("delete = %v", del)
	}
	_, del = s.do(t, http.MethodDelete, "/api/v1/upload/sess-1/"+fileID, nil)
	if del["success"] != false || del["error"] != "File not found" {
		t.Fatalf("second delete = %v", del)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/upload/sess-1/bad.id", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad file id = %d", resp.StatusCode)
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-2"})
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "No files uploaded for this session" {
		t.Fatalf("no files = %d %v", resp.StatusCode, body)
	}

	s.upload(t, "sess-2", "Acme SOC2 Type II report.md", policyDoc).Body.Close()

	resp, body = s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-2", "frameworks": []string{"SOX"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid framework = %d %v", resp.StatusCode, body)
	}

	_, body = s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-2", "vendor_name": "Acme"})
	id := body["analysis_id"].(string)
	if body["status"] != "pending" {
		t.Fatalf("start = %v", body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/analysis/"+id+"/results", nil)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "Analysis has not started yet" {
		t.Fatalf("pending results = %d %v", resp.StatusCode, body)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/analysis/"+id+"?session_id=sess-2", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel of pending job = %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/analysis/"+id+"?session_id=other", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel from another session = %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/analysis/"+id, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("cancel without session = %d", resp.StatusCode)
	}

	if _, err := s.svc.Start(context.Background(), "sess-2", domain.ID(id)); err != nil {
		t.Fatal(err)
	}
	s.waitFor(t, id, domain.StatusCompleted)

	resp, body = s.do(t, http.MethodGet, "/api/v1/analysis/"+id+"/results", nil)
	if resp.StatusCode != http.StatusOK || body["analysis_id"] != id || body["completed_at"] == nil {
		t.Fatalf("results = %d %v", resp.StatusCode, body)
	}
	if _, ok := body["overall_compliance_score"]; !ok {
		t.Fatalf("report fields must be inlined: %v", body)
	}

	r, err := http.Get(s.URL + "/api/v1/export/json/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	cd := r.Header.Get("Content-Disposition")
	if r.StatusCode != http.StatusOK || !strings.HasPrefix(cd, `attachment; filename="compliance_analysis_`) {
		t.Fatalf("export = %d %q", r.StatusCode, cd)
	}
	if r.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("export must set nosniff")
	}

	if resp, body := s.do(t, http.MethodGet, "/api/v1/analysis/nope/status", nil); resp.StatusCode != http.StatusNotFound || body["detail"] != "Analysis not found" {
		t.Fatalf("unknown id = %d %v", resp.StatusCode, body)
	}
}

func TestAutoStartRefusedReportsStoredStatus(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "sess-5", "policy.md", policyDoc).Body.Close()
	if err := s.svc.Supervisor.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-5", "auto_start": true})
	if resp.StatusCode != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("refused auto_start = %d %v", resp.StatusCode, body)
	}
}

func TestAutoStartAndChat(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "sess-3", "policy.md", policyDoc).Body.Close()

	_, body := s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-3", "auto_start": true})
	id := body["analysis_id"].(string)
	if body["status"] != "processing" {
		t.Fatalf("auto_start status = %v", body["status"])
	}
	s.waitFor(t, id, domain.StatusCompleted)

	resp, body := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"session_id": "sess-3", "message": "What about encryption?"})
	if resp.StatusCode != http.StatusOK || body["role"] != "assistant" || body["content"] == "" {
		t.Fatalf("chat = %d %v", resp.StatusCode, body)
	}
	if resp, _ := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"session_id": "sess-3", "message": "  "}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message = %d", resp.StatusCode)
	}

	_, hist := s.do(t, http.MethodGet, "/api/v1/chat/sess-3/history?limit=1", nil)
	if msgs := hist["messages"].([]any); len(msgs) != 1 || msgs[0].(map[string]any)["role"] != "assistant" {
		t.Fatalf("history = %v", hist)
	}
	s.do(t, http.MethodDelete, "/api/v1/chat/sess-3/history", nil)
	_, hist = s.do(t, http.MethodGet, "/api/v1/chat/sess-3/history", nil)
	if msgs := hist["messages"].([]any); len(msgs) != 0 {
		t.Fatalf("history after clear = %v", hist)
	}

	_, cleaned := s.do(t, http.MethodDelete, "/api/v1/upload/sess-3", nil)
	_, list := s.do(t, http.MethodGet, "/api/v1/upload/sess-3", nil)
	if cleaned["success"] != true || len(list["files"].([]any)) != 0 {
		t.Fatalf("cleanup = %v, list = %v", cleaned, list)
	}
}

func wsURL(s *testServer, path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func readEvent(t *testing.T, c *websocket.Conn) progress.Event {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev progress.Event
	if err := c.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestAnalysisWebsocket(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "sess-4", "policy.md", policyDoc).Body.Close()
	_, body := s.do(t, http.MethodPost, "/api/v1/analysis/start", map[string]any{"session_id": "sess-4"})
	id := body["analysis_id"].(string)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(s, "/ws/analysis/sess-4"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if ev := readEvent(t, c); ev.EventType != progress.ConnectionStatus || *ev.Message != "Connected to analysis stream" {
		t.Fatalf("greeting = %+v", ev)
	}
	if err := c.WriteJSON(map[string]string{"action": "start", "analysis_id": id}); err != nil {
		t.Fatal(err)
	}

	seen := map[progress.EventType]bool{}
	for !seen[progress.AnalysisComplete] {
		ev := readEvent(t, c)
		seen[ev.EventType] = true
		if ev.EventType == progress.AnalysisError && ev.Data["recoverable"] != true {
			t.Fatalf("unexpected fatal error event: %+v", ev)
		}
	}
	if !seen[progress.AnalysisStarted] || !seen[progress.DocumentAnalyzing] {
		t.Fatalf("missing pipeline events: %v", seen)
	}
}

func TestWebsocketRejectsInvalidSession(t *testing.T) {
	s := newTestServer(t)
	c, _, err := websocket.DefaultDialer.Dial(wsURL(s, "/ws/chat/bad_session"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = c.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != closeInvalidSession {
		t.Fatalf("expected close code %d, got %v", closeInvalidSession, err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	for path, want := range map[string]int{"/health": 200, "/ready": 200, "/live": 200, "/metrics": 200} {
		resp, err := http.Get(s.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}
}
