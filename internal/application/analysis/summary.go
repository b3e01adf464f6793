package analysis

import (
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// SeverityCounts tallies findings per severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

func CountSeverities(findings []domain.Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range findings {
		switch domain.ParseSeverity(string(f.Severity)) {
		case domain.SeverityCritical:
			c.Critical++
		case domain.SeverityHigh:
			c.High++
		case domain.SeverityMedium:
			c.Medium++
		case domain.SeverityLow:
			c.Low++
		}
	}
	return c
}

// OverallRisk is the headline rating used by summaries.
func OverallRisk(c SeverityCounts) domain.RiskLevel {
	switch {
	case c.Critical > 0:
		return domain.RiskCritical
	case c.High > 2:
		return domain.RiskHigh
	case c.High > 0 || c.Medium > 3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

var riskStatements = map[domain.RiskLevel]string{
	domain.RiskCritical: "requires immediate attention before proceeding with the engagement",
	domain.RiskHigh:     "presents elevated risk requiring remediation commitments",
	domain.RiskMedium:   "demonstrates adequate controls with opportunities for improvement",
	domain.RiskLow:      "demonstrates mature security practices aligned with industry standards",
}

// FallbackSummary renders a deterministic executive summary when the
// reasoning service cannot produce one.
func FallbackSummary(in domain.SummaryInput) string {
	counts := CountSeverities(in.Findings)
	risk := OverallRisk(counts)
	avg := OverallScore(in.Frameworks)

	var b strings.Builder
	fmt.Fprintf(&b, "This third-party risk assessment analyzed %d document(s) ", in.DocumentCount)
	if in.VendorName != "" {
		fmt.Fprintf(&b, "provided by %s", in.VendorName)
	} else {
		b.WriteString("from the vendor")
	}
	if in.TrustedDocuments > 0 {
		fmt.Fprintf(&b, ", including %d SOC 2 Type II report(s)", in.TrustedDocuments)
	}
	b.WriteString(". ")

	maturity := "developing"
	switch {
	case avg >= 80:
		maturity = "strong"
	case avg >= 60:
		maturity = "moderate"
	}
	fmt.Fprintf(&b, "The vendor demonstrates %s compliance maturity with an average framework coverage of %.0f%%. ", maturity, avg)
	fmt.Fprintf(&b, "Our assessment identified %d finding(s), including %d critical and %d high severity issues that %s. ",
		len(in.Findings), counts.Critical, counts.High, riskStatements[risk])

	if risk == domain.RiskLow {
		b.WriteString("We recommend approval with standard monitoring.")
	} else {
		b.WriteString("Management review of remediation plans is recommended before finalizing the engagement.")
	}
	return b.String()
}
