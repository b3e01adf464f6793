package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func encodeFrameworks(f []domain.Framework) (string, error) {
	if f == nil {
		f = []domain.Framework{}
	}
	b, err := json.Marshal(f)
	return string(b), err
}

func encodeReport(r *domain.Report) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, session_id, frameworks, vendor_name, status, progress, current_step,
       results, error, report_url, started_at, completed_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j          domain.Job
		frameworks string
		results    sql.NullString
		completed  sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.SessionID, &frameworks, &j.VendorName, &j.Status, &j.Progress, &j.CurrentStep,
		&results, &j.Error, &j.ReportURL, &j.StartedAt, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(frameworks), &j.Frameworks); err != nil {
		return nil, fmt.Errorf("decode frameworks of %s: %w", j.ID, err)
	}
	if results.Valid && results.String != "" {
		var r domain.Report
		if err := json.Unmarshal([]byte(results.String), &r); err != nil {
			return nil, fmt.Errorf("decode results of %s: %w", j.ID, err)
		}
		j.Results = &r
	}
	if completed.Valid {
		t := completed.Time.UTC()
		j.CompletedAt = &t
	}
	j.StartedAt = j.StartedAt.UTC()
	if j.VendorName == "-" {
		j.VendorName = ""
	}
	return &j, nil
}
