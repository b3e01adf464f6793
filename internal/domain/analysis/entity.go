package analysis

import (
	"time"
)

// ID identifies an analysis job for the lifetime of the process.
type ID string

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the aggregate root for one multi-document analysis.
type Job struct {
	ID          ID          `json:"analysis_id"`
	SessionID   string      `json:"session_id"`
	Frameworks  []Framework `json:"frameworks"`
	VendorName  string      `json:"vendor_name,omitempty"`
	Status      Status      `json:"status"`
	Progress    float64     `json:"progress_percentage"`
	CurrentStep string      `json:"current_step,omitempty"`
	Results     *Report     `json:"results,omitempty"`
	Error       string      `json:"error,omitempty"`
	ReportURL   string      `json:"report_url,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so repositories never hand out shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Frameworks = append([]Framework(nil), j.Frameworks...)
	if j.Results != nil {
		c.Results = j.Results.Clone()
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobUpdate carries a partial update; nil fields are left untouched.
type JobUpdate struct {
	// ExpectStatus, when set, makes the update conditional on the current
	// status. A mismatch is reported as a *TransitionError.
	ExpectStatus *Status
	Status       *Status
	Progress     *float64
	CurrentStep  *string
	Results      *Report
	Error        *string
	ReportURL    *string
}

// Apply validates the status edge and writes the non-nil fields into j.
// now stamps CompletedAt when the job enters a terminal status.
func (u JobUpdate) Apply(j *Job, now time.Time) error {
	if u.ExpectStatus != nil && j.Status != *u.ExpectStatus {
		to := j.Status
		if u.Status != nil {
			to = *u.Status
		}
		return &TransitionError{From: j.Status, To: to}
	}
	if u.Status != nil && *u.Status == j.Status && j.Status.Terminal() {
		return &TransitionError{From: j.Status, To: *u.Status}
	}
	if u.Status != nil && *u.Status != j.Status {
		if err := ValidateTransition(j.Status, *u.Status); err != nil {
			return err
		}
		j.Status = *u.Status
		if j.Status.Terminal() {
			t := now.UTC()
			j.CompletedAt = &t
		}
	}
	if u.Progress != nil {
		j.Progress = clampPercent(*u.Progress)
	}
	if u.CurrentStep != nil {
		j.CurrentStep = *u.CurrentStep
	}
	if u.Results != nil {
		j.Results = u.Results.Clone()
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.ReportURL != nil {
		j.ReportURL = *u.ReportURL
	}
	return nil
}

// Helpers for building updates inline.

func StatusPtr(s Status) *Status { return &s }

func Float64Ptr(f float64) *float64 { return &f }

func StringPtr(s string) *string { return &s }

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
