package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	domainai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingStreamer struct {
	calls [][]domainai.ChatMessage
	err   error
}

func (r *recordingStreamer) StreamChat(_ context.Context, msgs []domainai.ChatMessage, onChunk func(string) error) (string, error) {
	r.calls = append(r.calls, msgs)
	if r.err != nil {
		return "", r.err
	}
	reply := fmt.Sprintf("answer %d", len(r.calls))
	if onChunk != nil {
		_ = onChunk(reply)
	}
	return reply, nil
}

type jobSource struct {
	job *analysis.Job
	err error
}

func (j jobSource) LatestCompleted(context.Context, string) (*analysis.Job, error) { return j.job, j.err }

func newService(s domainai.ChatStreamer, jobs JobSource) *Service {
	return NewService(s, jobs, fixedClock{time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}, log.New(io.Discard, "", 0))
}

func completedJob() *analysis.Job {
	return &analysis.Job{
		ID:         "a1",
		SessionID:  "s1",
		VendorName: "Acme",
		Status:     analysis.StatusCompleted,
		Results: &analysis.Report{
			OverallComplianceScore: 72.5,
			Frameworks:             []analysis.FrameworkCoverage{{Framework: "SOC2", CoveragePercentage: 72.5}},
			Findings: []analysis.Finding{
				{Severity: analysis.SeverityHigh, Title: "MFA not enforced", ControlReferences: []string{"SOC2:CC6.1"}},
			},
			RiskAssessment:   &analysis.RiskAssessment{ResidualRiskLevel: analysis.RiskMedium, ResidualRiskScore: 4.2},
			ExecutiveSummary: "Acme is adequate.",
		},
	}
}

func TestReply_UsesContextAndHistory(t *testing.T) {
	st := &recordingStreamer{}
	svc := newService(st, jobSource{job: completedJob()})

	var chunks []string
	full, err := svc.Reply(context.Background(), "s1", "  What is the MFA status? ", func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil || full != "answer 1" || len(chunks) != 1 {
		t.Fatalf("Reply = %q, %v (chunks %v)", full, err, chunks)
	}

	sent := st.calls[0]
	if sent[0].Role != domainai.RoleSystem || !strings.Contains(sent[0].Content, "Current Analysis Context:") {
		t.Fatalf("system prompt must carry context, got %q", sent[0].Content)
	}
	for _, want := range []string{"Overall Compliance Score: 72.5%", "[high] MFA not enforced (SOC2:CC6.1)", "Residual risk: Medium", "Acme is adequate."} {
		if !strings.Contains(sent[0].Content, want) {
			t.Errorf("context missing %q", want)
		}
	}
	if sent[1].Content != "What is the MFA status?" {
		t.Fatalf("user message must be trimmed, got %q", sent[1].Content)
	}

	h := svc.History("s1", 0)
	if len(h) != 2 || h[1].Role != domainai.RoleAssistant || h[1].Content != "answer 1" {
		t.Fatalf("history = %+v", h)
	}
}

func TestReply_WindowIsLastTenMessages(t *testing.T) {
	st := &recordingStreamer{}
	svc := newService(st, nil)
	for i := 0; i < 8; i++ {
		if _, err := svc.Reply(context.Background(), "s1", fmt.Sprintf("q%d", i), nil); err != nil {
			t.Fatalf("Reply: %v", err)
		}
	}
	last := st.calls[len(st.calls)-1]
	if len(last) != 11 {
		t.Fatalf("expected system + 10 messages, got %d", len(last))
	}
	if last[len(last)-1].Content != "q7" {
		t.Fatalf("newest message must be last, got %q", last[len(last)-1].Content)
	}
	if strings.Contains(last[0].Content, "Current Analysis Context") {
		t.Fatal("no job source means no context block")
	}
	if got := svc.History("s1", 3); len(got) != 3 || got[2].Content != "answer 8" {
		t.Fatalf("History limit = %+v", got)
	}
}

func TestReply_Errors(t *testing.T) {
	st := &recordingStreamer{err: domainai.ErrUnavailable}
	svc := newService(st, jobSource{err: errors.New("db down")})

	if _, err := svc.Reply(context.Background(), "s1", "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Reply(context.Background(), "s1", strings.Repeat("x", maxMessageLen+1), nil); !errors.Is(err, analysis.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err := svc.Reply(context.Background(), "s1", "hi", nil)
	if !errors.Is(err, domainai.ErrUnavailable) {
		t.Fatalf("expected wrapped streamer error, got %v", err)
	}
	if h := svc.History("s1", 0); len(h) != 1 || h[0].Role != domainai.RoleUser {
		t.Fatalf("failed reply keeps only the user message, got %+v", h)
	}

	svc.ClearHistory("s1")
	if h := svc.History("s1", 0); len(h) != 0 {
		t.Fatalf("history must be empty after clear, got %+v", h)
	}
}

func TestReportContext_Empty(t *testing.T) {
	if ReportContext(nil) != "" || ReportContext(&analysis.Job{}) != "" {
		t.Fatal("jobs without results have no context")
	}
}
