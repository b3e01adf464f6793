package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// Summarizer writes a short offline narrative.
type Summarizer struct{}

func (Summarizer) Summarize(ctx context.Context, in analysis.SummaryInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var critical, high int
	for _, f := range in.Findings {
		switch analysis.ParseSeverity(string(f.Severity)) {
		case analysis.SeverityCritical:
			critical++
		case analysis.SeverityHigh:
			high++
		}
	}
	vendor := "the vendor"
	if in.VendorName != "" {
		vendor = in.VendorName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Offline keyword review of %d document(s) from %s. ", in.DocumentCount, vendor)
	fmt.Fprintf(&b, "%d finding(s) were identified (%d critical, %d high) alongside %d documented strength(s). ",
		len(in.Findings), critical, high, len(in.Strengths))
	for _, fw := range in.Frameworks {
		fmt.Fprintf(&b, "%s coverage %.0f%%. ", fw.Framework, fw.CoveragePercentage)
	}
	b.WriteString("Confirm these results with a full review before relying on them.")
	return b.String(), nil
}

// contextMarker introduces the assessment block of the chat system prompt.
const contextMarker = "Current Analysis Context:"

// Chat answers from the assessment context in the system prompt.
type Chat struct{}

func (Chat) StreamChat(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	var system, question string
	for _, m := range messages {
		switch m.Role {
		case ai.RoleSystem:
			system = m.Content
		case ai.RoleUser:
			question = m.Content
		}
	}

	reply := answer(system, question)
	words := strings.SplitAfter(reply, " ")
	var full strings.Builder
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(w)
		if onChunk != nil {
			if err := onChunk(w); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

func answer(system, question string) string {
	_, assessment, ok := strings.Cut(system, contextMarker)
	if !ok {
		return "No completed assessment is available for this session yet. Upload documents and run an analysis first."
	}
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,?!:;\"'()")
		if len(w) >= 3 {
			keywords = append(keywords, w)
		}
	}
	var hits []string
	for _, line := range strings.Split(assessment, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				hits = append(hits, line)
				break
			}
		}
		if len(hits) == 5 {
			break
		}
	}
	if len(hits) == 0 {
		return "The current assessment does not mention that directly."
	}
	return "From the current assessment: " + strings.Join(hits, " ")
}
