package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

type findingResponse struct {
	Severity          string   `json:"severity"`
	Category          string   `json:"category"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Recommendation    string   `json:"recommendation"`
	ControlReferences []string `json:"control_references"`
}

type coverageResponse struct {
	CoveragePercentage flexFloat       `json:"coverage_percentage"`
	Implemented        json.RawMessage `json:"implemented_controls"`
	Partial            json.RawMessage `json:"partial_controls"`
	Missing            json.RawMessage `json:"missing_controls"`
	Total              json.RawMessage `json:"total_controls"`
}

type documentResponse struct {
	DocumentType      string                      `json:"document_type"`
	Findings          []findingResponse           `json:"findings"`
	Strengths         []analysis.Strength         `json:"strengths"`
	FrameworkCoverage map[string]coverageResponse `json:"framework_coverage"`
	ExecutiveSummary  string                      `json:"executive_summary"`
}

// flexFloat accepts 85, 85.5 or "85%".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("coverage percentage %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// countControls reads either a control list or a plain count.
func countControls(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return int(n)
	}
	return 0
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ParseDocumentResponse decodes a model reply. Text around the JSON object
// is tolerated; anything else yields an unsuccessful analysis.
func ParseDocumentResponse(content string) analysis.DocumentAnalysis {
	var resp documentResponse
	err := json.Unmarshal([]byte(content), &resp)
	if err != nil {
		if m := jsonObject.FindString(content); m != "" {
			resp = documentResponse{}
			err = json.Unmarshal([]byte(m), &resp)
		}
	}
	if err != nil {
		return analysis.DocumentAnalysis{Error: "Failed to parse AI response: " + err.Error()}
	}

	out := analysis.DocumentAnalysis{
		Success:           true,
		DocumentType:      resp.DocumentType,
		ExecutiveSummary:  resp.ExecutiveSummary,
		FrameworkCoverage: make(map[string]analysis.CoverageSample, len(resp.FrameworkCoverage)),
	}
	if out.DocumentType == "" {
		out.DocumentType = "Unknown"
	}
	for _, f := range resp.Findings {
		if strings.TrimSpace(f.Title) == "" {
			continue
		}
		out.Findings = append(out.Findings, analysis.Finding{
			Severity:          analysis.ParseSeverity(f.Severity),
			Category:          f.Category,
			Title:             strings.TrimSpace(f.Title),
			Description:       f.Description,
			Recommendation:    f.Recommendation,
			ControlReferences: f.ControlReferences,
		})
	}
	for _, s := range resp.Strengths {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		out.Strengths = append(out.Strengths, s)
	}
	for name, cov := range resp.FrameworkCoverage {
		sample := analysis.CoverageSample{
			Framework:           name,
			CoveragePercentage:  clampPct(float64(cov.CoveragePercentage)),
			ImplementedControls: countControls(cov.Implemented),
			PartialControls:     countControls(cov.Partial),
			MissingControls:     countControls(cov.Missing),
		}
		sample.TotalControls = len(analysis.Framework(name).Controls())
		if sample.TotalControls == 0 {
			sample.TotalControls = countControls(cov.Total)
		}
		if sample.TotalControls == 0 {
			sample.TotalControls = sample.ImplementedControls + sample.PartialControls + sample.MissingControls
		}
		out.FrameworkCoverage[name] = sample
	}
	return out
}
