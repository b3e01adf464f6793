package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// MaxPromptChars caps the document text embedded in a prompt.
const MaxPromptChars = 80000

// GetSystemPrompt provides strict directions for JSON output.
func GetSystemPrompt() string {
	return `You are a Senior Manager at a Big 4 accounting firm conducting a third-party risk assessment.
Apply rigorous professional skepticism. You must produce one valid JSON object only (no markdown, no commentary, no code fences).`
}

const documentSchema = `{
  "document_type": "Specific classification, e.g. 'SOC 2 Type II Report', 'Information Security Policy v2.3'",
  "findings": [
    {
      "severity": "critical|high|medium|low",
      "category": "access_control|encryption|incident_response|audit_logging|data_protection|network_security|vendor_management|business_continuity|change_management|physical_security|hr_security|compliance|privacy|other",
      "title": "Concise finding title",
      "description": "What is missing or inadequate",
      "recommendation": "Specific, actionable remediation steps",
      "control_references": ["SOC2:CC6.1", "ISO27001:A.9.2.3"]
    }
  ],
  "strengths": [
    {"category": "Category", "title": "Brief title", "description": "What the vendor does well"}
  ],
  "framework_coverage": {
    "<FRAMEWORK>": {
      "coverage_percentage": 0,
      "implemented_controls": [{"control_id": "", "control_name": ""}],
      "partial_controls": [{"control_id": "", "control_name": ""}],
      "missing_controls": [{"control_id": "", "control_name": ""}]
    }
  },
  "executive_summary": "3-4 sentence summary for executives"
}`

const trustedInstructions = `
SOC2 SPECIFIC ANALYSIS REQUIREMENTS:
- Examine the auditor's opinion (unqualified, qualified, adverse, disclaimer)
- Identify ALL control exceptions, deviations, and management responses
- Note the audit period and any gaps in control operation
- Evaluate complementary user entity controls (CUECs)
- Identify any carve-outs or scope limitations`

const guidelines = `ANALYSIS GUIDELINES:
1. Do not assume controls are effective without evidence.
2. Map every finding to specific control framework requirements.
3. Only report findings for ACTUAL gaps; implemented controls belong in strengths.
4. For SOC2 reports, auditor-noted exceptions are HIGH or CRITICAL findings.
5. Severity: CRITICAL immediate exploitation or regulatory violation; HIGH material weakness (30 days); MEDIUM significant deficiency (90 days); LOW improvement opportunity.
6. Use the framework names exactly as listed as keys of framework_coverage.`

// ControlReferences renders the reference controls of each framework.
func ControlReferences(frameworks []analysis.Framework) string {
	var b strings.Builder
	for _, fw := range frameworks {
		controls := fw.Controls()
		if len(controls) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s:\n", fw)
		for _, c := range controls {
			fmt.Fprintf(&b, "    - %s: %s\n", c.ID, c.Name)
		}
	}
	if b.Len() == 0 {
		return "Standard control frameworks"
	}
	return strings.TrimRight(b.String(), "\n")
}

// GetDocumentPrompt builds the user message for one document.
func GetDocumentPrompt(req analysis.DocumentRequest) string {
	names := make([]string, len(req.Frameworks))
	for i, f := range req.Frameworks {
		names[i] = string(f)
	}
	docType := "security documentation"
	extra := ""
	if req.Trusted {
		docType = "SOC2 Type 2 audit report"
		extra = trustedInstructions
	}
	text := req.Text
	if r := []rune(text); len(r) > MaxPromptChars {
		text = string(r[:MaxPromptChars])
	}

	return fmt.Sprintf(`ENGAGEMENT CONTEXT:
- Document Under Review: %s
- Document Classification: %s
- Frameworks for Evaluation: %s

APPLICABLE CONTROL FRAMEWORKS:
%s
%s

DOCUMENT CONTENT:
%s

Respond with JSON per this schema:
%s

%s`, req.Filename, docType, strings.Join(names, ", "), ControlReferences(req.Frameworks), extra, text, documentSchema, guidelines)
}

// GetSummaryPrompt builds the board-level executive summary request.
func GetSummaryPrompt(in analysis.SummaryInput) string {
	counts := map[analysis.Severity]int{}
	categories := map[string]int{}
	var urgent []analysis.Finding
	for _, f := range in.Findings {
		sev := analysis.ParseSeverity(string(f.Severity))
		counts[sev]++
		cat := f.Category
		if cat == "" {
			cat = "other"
		}
		categories[cat]++
		if (sev == analysis.SeverityCritical || sev == analysis.SeverityHigh) && len(urgent) < 5 {
			urgent = append(urgent, f)
		}
	}

	var avg float64
	names := make([]string, 0, len(in.Frameworks))
	for _, fw := range in.Frameworks {
		avg += fw.CoveragePercentage
		names = append(names, fw.Framework)
	}
	if len(in.Frameworks) > 0 {
		avg /= float64(len(in.Frameworks))
	}
	scope := "Multiple"
	if len(names) > 0 {
		scope = strings.Join(names, ", ")
	}

	vendor := ""
	if in.VendorName != "" {
		vendor = " FOR " + strings.ToUpper(in.VendorName)
	}

	catJSON, _ := json.MarshalIndent(categories, "", "  ")
	keyFindings := "No critical or high severity findings identified."
	if len(urgent) > 0 {
		b, _ := json.MarshalIndent(urgent, "", "  ")
		keyFindings = string(b)
	}
	strengths := "Limited strengths documented in provided materials."
	if len(in.Strengths) > 0 {
		top := in.Strengths
		if len(top) > 5 {
			top = top[:5]
		}
		b, _ := json.MarshalIndent(top, "", "  ")
		strengths = string(b)
	}

	return fmt.Sprintf(`You are a Senior Partner at a Big 4 firm writing an executive summary for a board-level audience.

THIRD-PARTY RISK ASSESSMENT RESULTS%s

ASSESSMENT SCOPE:
- Documents Analyzed: %d
- SOC 2 Type II Reports Reviewed: %d
- Frameworks Evaluated: %s

QUANTITATIVE METRICS:
- Average Framework Coverage: %.0f%%

FINDINGS BY SEVERITY:
- Critical Findings: %d
- High Findings: %d
- Medium Findings: %d
- Low/Informational: %d
- Total Findings: %d

FINDINGS BY CATEGORY:
%s

KEY FINDINGS REQUIRING IMMEDIATE ATTENTION:
%s

NOTABLE SECURITY STRENGTHS:
%s

Write a 2-3 paragraph executive summary for the Board Risk Committee: an overall opinion, the key observations, and a clear risk-based recommendation (approve with conditions, approve with monitoring, requires remediation, do not recommend).
Respond with ONLY the executive summary text. Do not include JSON, headers, or formatting markers.`,
		vendor, in.DocumentCount, in.TrustedDocuments, scope, avg,
		counts[analysis.SeverityCritical], counts[analysis.SeverityHigh], counts[analysis.SeverityMedium], counts[analysis.SeverityLow],
		len(in.Findings), catJSON, keyFindings, strengths)
}
