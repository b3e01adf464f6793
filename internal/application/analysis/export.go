package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// ExportDocument is the downloadable JSON form of a completed job.
type ExportDocument struct {
	AnalysisID         domain.ID          `json:"analysis_id"`
	SessionID          string             `json:"session_id"`
	VendorName         string             `json:"vendor_name,omitempty"`
	FrameworksAnalyzed []domain.Framework `json:"frameworks_analyzed"`
	StartedAt          time.Time          `json:"started_at"`
	CompletedAt        *time.Time         `json:"completed_at"`
	Results            *domain.Report     `json:"results"`
}

// BuildExport renders j; results must be present.
func BuildExport(j *domain.Job, results *domain.Report) ([]byte, error) {
	if results == nil {
		return nil, fmt.Errorf("export %s: results not available", j.ID)
	}
	doc := ExportDocument{
		AnalysisID:         j.ID,
		SessionID:          j.SessionID,
		VendorName:         j.VendorName,
		FrameworksAnalyzed: j.Frameworks,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		Results:            results,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ExportFilename is the attachment name for an export generated at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("compliance_analysis_%s.json", t.UTC().Format("20060102_150405"))
}
