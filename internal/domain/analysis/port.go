package analysis

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	// Create stores a new job. The id is generated by the caller;
	// a collision returns ErrDuplicateID.
	Create(ctx context.Context, j *Job) error
	// Get returns a copy of the job or ErrNotFound.
	Get(ctx context.Context, id ID) (*Job, error)
	// Update applies the non-nil fields of u. Unknown ids are a silent no-op;
	// illegal status edges return a *TransitionError.
	Update(ctx context.Context, id ID, u JobUpdate) error
	// ListBySession returns the session's jobs, newest first.
	ListBySession(ctx context.Context, sessionID string) ([]*Job, error)
}

// FileDescriptor describes one uploaded document.
type FileDescriptor struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// ParsedDocument is extracted document text.
type ParsedDocument struct {
	Text      string
	Truncated bool
}

// FileStore port for the uploaded documents of a session.
type FileStore interface {
	ListFiles(ctx context.Context, sessionID string) ([]FileDescriptor, error)
	// ResolvePath returns "" when the file does not exist.
	ResolvePath(ctx context.Context, sessionID, fileID string) (string, error)
	Parse(ctx context.Context, path, mimeType string) (ParsedDocument, error)
}

// DocumentRequest is the input of one document analysis call.
type DocumentRequest struct {
	Text       string
	Filename   string
	Frameworks []Framework
	Trusted    bool
}

// DocumentAnalysis is the per-document output of the reasoning service.
type DocumentAnalysis struct {
	Success           bool
	DocumentType      string
	Findings          []Finding
	Strengths         []Strength
	FrameworkCoverage map[string]CoverageSample
	ExecutiveSummary  string
	Error             string
}

// DocumentAnalyzer port for the external reasoning service.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (DocumentAnalysis, error)
}

// SummaryInput feeds the executive summary step.
type SummaryInput struct {
	VendorName       string
	Findings         []Finding
	Strengths        []Strength
	Frameworks       []FrameworkCoverage
	DocumentCount    int
	TrustedDocuments int
}

// Summarizer port for the executive summary narrative.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

// ReportArchive port for storing exported reports.
type ReportArchive interface {
	// Put stores body under key and returns a locator for it.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}
