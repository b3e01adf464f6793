package analysis

import (
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// AssessRisk derives inherent and residual risk from consolidated findings
// and coverage. It has no inputs besides its arguments.
func AssessRisk(findings []domain.Finding, frameworks []domain.FrameworkCoverage) domain.RiskAssessment {
	inherent := 40.0
	for _, f := range findings {
		inherent += f.Severity.Weight()
	}
	if inherent > 100 {
		inherent = 100
	}

	avg := 50.0
	if len(frameworks) > 0 {
		avg = OverallScore(frameworks)
	}

	residual := inherent * (1 - avg/150)
	reduction := 0.0
	if inherent != 0 {
		reduction = (inherent - residual) / inherent * 100
	}

	return domain.RiskAssessment{
		InherentRiskLevel:       RiskLevelFor(inherent),
		InherentRiskScore:       inherent,
		ResidualRiskLevel:       RiskLevelFor(residual),
		ResidualRiskScore:       residual,
		RiskReductionPercentage: reduction,
	}
}

// RiskLevelFor buckets a 0-100 score.
func RiskLevelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 80:
		return domain.RiskCritical
	case score >= 60:
		return domain.RiskHigh
	case score >= 40:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
