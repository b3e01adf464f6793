package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/vendor-compliance/internal/application"
	domainai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

const (
	// messages sent to the model per reply
	contextWindow = 10
	// messages kept per session
	maxHistory    = 200
	maxMessageLen = 10000
)

var ErrEmptyMessage = errors.New("message is empty")

// JobSource finds the session's latest completed analysis; nil when none.
type JobSource interface {
	LatestCompleted(ctx context.Context, sessionID string) (*analysis.Job, error)
}

type Message struct {
	Role      domainai.ChatRole `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
}

// Service is the per-session chat assistant.
type Service struct {
	Streamer domainai.ChatStreamer
	Jobs     JobSource
	Clock    application.Clock
	Logger   *log.Logger

	mu      sync.Mutex
	history map[string][]Message
}

func NewService(streamer domainai.ChatStreamer, jobs JobSource, clock application.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{Streamer: streamer, Jobs: jobs, Clock: clock, Logger: logger, history: make(map[string][]Message)}
}

const systemPrompt = `You are a security compliance expert assistant helping users understand their vendor security analysis results.

Your role is to:
1. Explain compliance findings in clear, actionable terms
2. Answer questions about security frameworks (SOC2, ISO27001, NIST CSF, HIPAA, GDPR, PCI-DSS)
3. Provide recommendations for addressing compliance gaps
4. Help prioritize remediation efforts based on risk

Be concise, professional, and focus on practical guidance. If you don't have specific analysis results to reference, provide general best-practice advice.
`

// ReportContext renders a completed job for the system prompt.
func ReportContext(j *analysis.Job) string {
	if j == nil || j.Results == nil {
		return ""
	}
	r := j.Results
	var b strings.Builder
	b.WriteString("Analysis Results Summary:\n")
	if j.VendorName != "" {
		fmt.Fprintf(&b, "- Vendor: %s\n", j.VendorName)
	}
	fmt.Fprintf(&b, "- Overall Compliance Score: %.1f%%\n", r.OverallComplianceScore)
	for _, fw := range r.Frameworks {
		fmt.Fprintf(&b, "- %s: %.1f%% coverage\n", fw.Framework, fw.CoveragePercentage)
	}
	if r.RiskAssessment != nil {
		fmt.Fprintf(&b, "- Residual risk: %s (%.1f)\n", r.RiskAssessment.ResidualRiskLevel, r.RiskAssessment.ResidualRiskScore)
	}
	for i, f := range r.Findings {
		if i == 10 {
			fmt.Fprintf(&b, "- ... and %d more findings\n", len(r.Findings)-10)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s", f.Severity, f.Title)
		if len(f.ControlReferences) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(f.ControlReferences, ", "))
		}
		b.WriteByte('\n')
	}
	if r.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "\nExecutive Summary:\n%s\n", r.ExecutiveSummary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) buildSystemPrompt(ctx context.Context, sessionID string) string {
	if s.Jobs == nil {
		return systemPrompt
	}
	j, err := s.Jobs.LatestCompleted(ctx, sessionID)
	if err != nil {
		s.Logger.Printf("session_id=%s msg=chat context lookup failed err=%v", sessionID, err)
		return systemPrompt
	}
	rc := ReportContext(j)
	if rc == "" {
		return systemPrompt
	}
	return systemPrompt + "\nCurrent Analysis Context:\n" + rc
}

func (s *Service) appendLocked(sessionID string, m Message) {
	h := append(s.history[sessionID], m)
	if len(h) > maxHistory {
		h = append([]Message(nil), h[len(h)-maxHistory:]...)
	}
	s.history[sessionID] = h
}

// Reply records message, streams the assistant answer through onChunk and
// records it. A failed reply leaves only the user message in history.
func (s *Service) Reply(ctx context.Context, sessionID, message string, onChunk func(string) error) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if len(message) > maxMessageLen {
		return "", fmt.Errorf("%w: message longer than %d characters", analysis.ErrInvalidInput, maxMessageLen)
	}

	s.mu.Lock()
	s.appendLocked(sessionID, Message{Role: domainai.RoleUser, Content: message, Timestamp: s.Clock.Now().UTC()})
	recent := s.history[sessionID]
	if len(recent) > contextWindow {
		recent = recent[len(recent)-contextWindow:]
	}
	msgs := make([]domainai.ChatMessage, 0, len(recent)+1)
	msgs = append(msgs, domainai.ChatMessage{Role: domainai.RoleSystem})
	for _, m := range recent {
		msgs = append(msgs, domainai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	s.mu.Unlock()

	msgs[0].Content = s.buildSystemPrompt(ctx, sessionID)

	full, err := s.Streamer.StreamChat(ctx, msgs, onChunk)
	if err != nil {
		s.Logger.Printf("session_id=%s msg=chat reply failed err=%v", sessionID, err)
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	s.mu.Lock()
	s.appendLocked(sessionID, Message{Role: domainai.RoleAssistant, Content: full, Timestamp: s.Clock.Now().UTC()})
	s.mu.Unlock()
	return full, nil
}

// History returns up to limit of the latest messages, oldest first.
func (s *Service) History(sessionID string, limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[sessionID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Message{}, h...)
}

func (s *Service) ClearHistory(sessionID string) {
	s.mu.Lock()
	delete(s.history, sessionID)
	s.mu.Unlock()
}
