package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

const sampleReply = `{
  "document_type": "SOC 2 Type II Report",
  "findings": [
    {"severity": "High", "category": "access_control", "title": "MFA not enforced", "description": "d", "recommendation": "r", "control_references": ["SOC2:CC6.1"]},
    {"severity": "low", "title": "   "}
  ],
  "strengths": [{"category": "encryption", "title": "AES-256 at rest", "description": "x"}],
  "framework_coverage": {
    "SOC2": {"coverage_percentage": "85%", "implemented_controls": [{"control_id": "CC1"}, {"control_id": "CC2"}], "partial_controls": 1, "missing_controls": []},
    "CUSTOM": {"coverage_percentage": 140, "implemented_controls": [{}], "missing_controls": [{}, {}]}
  },
  "executive_summary": "Mostly fine."
}`

func TestParseDocumentResponse(t *testing.T) {
	res := ParseDocumentResponse(sampleReply)
	if !res.Success || res.DocumentType != "SOC 2 Type II Report" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Findings) != 1 || res.Findings[0].Severity != analysis.SeverityHigh {
		t.Fatalf("findings = %+v", res.Findings)
	}
	if len(res.Strengths) != 1 {
		t.Fatalf("strengths = %+v", res.Strengths)
	}

	soc2 := res.FrameworkCoverage["SOC2"]
	if soc2.CoveragePercentage != 85 || soc2.ImplementedControls != 2 || soc2.PartialControls != 1 || soc2.MissingControls != 0 {
		t.Fatalf("SOC2 coverage = %+v", soc2)
	}
	if soc2.TotalControls != len(analysis.FrameworkSOC2.Controls()) {
		t.Fatalf("total controls must come from the catalog, got %d", soc2.TotalControls)
	}
	custom := res.FrameworkCoverage["CUSTOM"]
	if custom.CoveragePercentage != 100 || custom.TotalControls != 3 {
		t.Fatalf("CUSTOM coverage = %+v", custom)
	}
}

func TestParseDocumentResponse_ExtraText(t *testing.T) {
	res := ParseDocumentResponse("Here is the analysis:\n```json\n" + sampleReply + "\n```")
	if !res.Success || len(res.Findings) != 1 {
		t.Fatalf("expected embedded JSON to parse, got %+v", res)
	}
}

func TestParseDocumentResponse_Garbage(t *testing.T) {
	res := ParseDocumentResponse("I cannot help with that.")
	if res.Success || !strings.HasPrefix(res.Error, "Failed to parse AI response") {
		t.Fatalf("expected unsuccessful analysis, got %+v", res)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{429, ai.ErrQuotaExceeded},
		{500, ai.ErrUnavailable},
		{502, ai.ErrUnavailable},
		{503, ai.ErrUnavailable},
		{504, ai.ErrUnavailable},
		{529, ai.ErrUnavailable},
	}
	for _, tc := range cases {
		err := classify(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: tc.status, Message: "x"}))
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
	}
	err := classify(&openai.RequestError{HTTPStatusCode: 429, Err: errors.New("slow down")})
	if !errors.Is(err, ai.ErrQuotaExceeded) {
		t.Fatalf("request error 429 must be quota, got %v", err)
	}
	for _, status := range []int{400, 401, 404} {
		if ai.IsTransient(classify(&openai.APIError{HTTPStatusCode: status})) {
			t.Errorf("status %d must be fatal", status)
		}
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "gpt-4o", srv.URL+"/v1", 0)
}

func TestClient_AnalyzeDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		content, _ := json.Marshal(sampleReply)
		fmt.Fprintf(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, content)
	})

	res, err := c.AnalyzeDocument(context.Background(), analysis.DocumentRequest{
		Text:       "MFA is optional",
		Filename:   "policy.txt",
		Frameworks: []analysis.Framework{analysis.FrameworkSOC2},
	})
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if !res.Success || len(res.Findings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClient_RateLimitIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})
	_, err := c.Summarize(context.Background(), analysis.SummaryInput{DocumentCount: 1})
	if !errors.Is(err, ai.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestClient_StreamChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", ", ", "analyst"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	full, err := c.StreamChat(context.Background(), []ai.ChatMessage{{Role: ai.RoleUser, Content: "hi"}}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if full != "Hello, analyst" || len(chunks) != 3 {
		t.Fatalf("full=%q chunks=%v", full, chunks)
	}
}

func TestIsReasoningModel(t *testing.T) {
	c := &Client{Model: "o3-mini"}
	req := c.request(nil, 100, true)
	if req.MaxCompletionTokens != 100 || req.MaxTokens != 0 || req.Temperature != 0 {
		t.Fatalf("reasoning request = %+v", req)
	}
	c.Model = "gpt-4o"
	c.MaxTokens = 50
	req = c.request(nil, 100, false)
	if req.MaxTokens != 50 || req.ResponseFormat != nil {
		t.Fatalf("chat request = %+v", req)
	}
}
