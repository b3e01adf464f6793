package analysis

import "time"

// Finding is a compliance gap as exposed in reports.
type Finding struct {
	Severity          Severity `json:"severity"`
	Category          string   `json:"category"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Recommendation    string   `json:"recommendation"`
	ControlReferences []string `json:"control_references,omitempty"`
}

// SourcedFinding is a Finding carrying internal provenance. It never leaves
// consolidation: the consolidated report only holds plain Findings.
type SourcedFinding struct {
	Finding
	FromTrustedSource bool
	SourceDocument    string
}

// Strength is a control the vendor demonstrably implements.
type Strength struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CoverageSample is one document's measurement for one framework.
type CoverageSample struct {
	Framework           string  `json:"framework"`
	CoveragePercentage  float64 `json:"coverage_percentage"`
	ImplementedControls int     `json:"implemented_controls"`
	PartialControls     int     `json:"partial_controls"`
	MissingControls     int     `json:"missing_controls"`
	TotalControls       int     `json:"total_controls"`
}

// FrameworkCoverage is the consolidated coverage for one framework.
type FrameworkCoverage CoverageSample

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "Critical"
	RiskHigh     RiskLevel = "High"
	RiskMedium   RiskLevel = "Medium"
	RiskLow      RiskLevel = "Low"
)

// RiskAssessment is derived from findings and coverage, never set externally.
type RiskAssessment struct {
	InherentRiskLevel       RiskLevel `json:"inherent_risk_level"`
	InherentRiskScore       float64   `json:"inherent_risk_score"`
	ResidualRiskLevel       RiskLevel `json:"residual_risk_level"`
	ResidualRiskScore       float64   `json:"residual_risk_score"`
	RiskReductionPercentage float64   `json:"risk_reduction_percentage"`
}

// DocumentError records a document skipped during a run.
type DocumentError struct {
	FileID   string    `json:"file_id"`
	Filename string    `json:"filename"`
	Phase    string    `json:"phase"` // loading | parsing | analyzing
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Report is the consolidated result of a completed job.
type Report struct {
	OverallComplianceScore float64             `json:"overall_compliance_score"`
	Frameworks             []FrameworkCoverage `json:"frameworks"`
	Findings               []Finding           `json:"findings"`
	Strengths              []Strength          `json:"strengths,omitempty"`
	RiskAssessment         *RiskAssessment     `json:"risk_assessment"`
	ExecutiveSummary       string              `json:"executive_summary"`
	DocumentsAnalyzed      int                 `json:"documents_analyzed"`
	TrustedDocuments       int                 `json:"trusted_documents"`
	DocumentsSkipped       []DocumentError     `json:"documents_skipped,omitempty"`
}

// Clone deep-copies the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Frameworks = append([]FrameworkCoverage(nil), r.Frameworks...)
	c.Findings = make([]Finding, len(r.Findings))
	for i, f := range r.Findings {
		f.ControlReferences = append([]string(nil), f.ControlReferences...)
		c.Findings[i] = f
	}
	c.Strengths = append([]Strength(nil), r.Strengths...)
	c.DocumentsSkipped = append([]DocumentError(nil), r.DocumentsSkipped...)
	if r.RiskAssessment != nil {
		ra := *r.RiskAssessment
		c.RiskAssessment = &ra
	}
	return &c
}
