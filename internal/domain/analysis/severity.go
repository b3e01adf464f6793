package analysis

import "strings"

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities ascending from most severe; unknown values rank last.
func (s Severity) Rank() int {
	switch s.normalized() {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Weight is the contribution of one finding to the inherent risk score.
func (s Severity) Weight() float64 {
	switch s.normalized() {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps free text from the reasoning service onto the enum.
// "moderate" is accepted as medium and "info"/"informational" as low.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low", "info", "informational":
		return SeverityLow
	default:
		return Severity(strings.ToLower(strings.TrimSpace(s)))
	}
}

func (s Severity) normalized() Severity {
	return Severity(strings.ToLower(strings.TrimSpace(string(s))))
}
