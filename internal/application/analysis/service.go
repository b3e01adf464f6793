package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/vendor-compliance/internal/application"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// ErrNotRunning is returned when cancelling a job without an active run.
var ErrNotRunning = errors.New("analysis is not running")

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, id domain.ID) error
}

// Service implements use-cases untuk analysis jobs.
// Safe for concurrent use.
type Service struct {
	Repo       domain.Repository
	Files      domain.FileStore
	Runner     Runner
	Supervisor *Supervisor
	Clock      application.Clock
	Logger     *log.Logger
	// Defaults used when a request names no framework.
	DefaultFrameworks []domain.Framework
}

//
// ==== USE CASES ====
//

type CreateRequest struct {
	SessionID  string   `json:"session_id"`
	Frameworks []string `json:"frameworks"`
	VendorName string   `json:"vendor_name,omitempty"`
}

// StatusView is the polling projection of a job.
type StatusView struct {
	AnalysisID  domain.ID     `json:"analysis_id"`
	Status      domain.Status `json:"status"`
	Progress    float64       `json:"progress_percentage"`
	CurrentStep *string       `json:"current_step"`
	Error       *string       `json:"error"`
}

// ResultsError explains why a job has no results yet.
type ResultsError struct {
	Status domain.Status
	Reason string
}

func (e *ResultsError) Error() string { return e.Reason }

func (e *ResultsError) Is(target error) bool { return target == domain.ErrNotCompleted }

// Create validates the request and stores a PENDING job.
// The run itself is started later through Start.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput)
	}
	var frameworks []domain.Framework
	if len(req.Frameworks) == 0 && len(s.DefaultFrameworks) > 0 {
		frameworks = append(frameworks, s.DefaultFrameworks...)
	} else {
		fw, err := domain.NormalizeFrameworks(req.Frameworks)
		if err != nil {
			return nil, err
		}
		frameworks = fw
	}

	files, err := s.Files.ListFiles(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	if len(files) == 0 {
		return nil, domain.ErrNoDocuments
	}

	job := &domain.Job{
		ID:         domain.ID(uuid.NewString()),
		SessionID:  req.SessionID,
		Frameworks: frameworks,
		VendorName: strings.TrimSpace(req.VendorName),
		Status:     domain.StatusPending,
		StartedAt:  s.clock().Now().UTC(),
	}
	if err := s.Repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create analysis: %w", err)
	}
	s.logger().Printf("analysis_id=%s session_id=%s msg=analysis queued files=%d", job.ID, job.SessionID, len(files))
	return job, nil
}

// Start launches the run for a PENDING job owned by sessionID. It reports
// whether a run was launched; starting a job that is already processing or
// finished is a no-op.
func (s *Service) Start(ctx context.Context, sessionID string, id domain.ID) (bool, error) {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.SessionID != sessionID {
		return false, domain.ErrNotFound
	}
	if job.Status != domain.StatusPending {
		return false, nil
	}
	launched := s.Supervisor.Launch(id, sessionID, func(ctx context.Context) error {
		err := s.Runner.Run(ctx, id)
		if errors.Is(err, domain.ErrAlreadyStarted) {
			return nil
		}
		return err
	})
	return launched, nil
}

// Cancel aborts an in-flight run owned by sessionID; the job ends FAILED.
// A job of another session is reported as ErrNotFound, as in Start.
func (s *Service) Cancel(ctx context.Context, sessionID string, id domain.ID) error {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.SessionID != sessionID {
		return domain.ErrNotFound
	}
	if !s.Supervisor.Cancel(id) {
		return ErrNotRunning
	}
	s.logger().Printf("analysis_id=%s session_id=%s msg=cancel requested", id, sessionID)
	return nil
}

func (s *Service) Get(ctx context.Context, id domain.ID) (*domain.Job, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) Status(ctx context.Context, id domain.ID) (StatusView, error) {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{AnalysisID: job.ID, Status: job.Status, Progress: job.Progress}
	if job.CurrentStep != "" {
		v.CurrentStep = &job.CurrentStep
	}
	if job.Error != "" {
		v.Error = &job.Error
	}
	return v, nil
}

// Results returns a completed job; other statuses yield a *ResultsError.
func (s *Service) Results(ctx context.Context, id domain.ID) (*domain.Job, error) {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.StatusPending:
		return nil, &ResultsError{Status: job.Status, Reason: "Analysis has not started yet"}
	case domain.StatusProcessing:
		return nil, &ResultsError{Status: job.Status, Reason: "Analysis is still in progress"}
	case domain.StatusFailed:
		return nil, &ResultsError{Status: job.Status, Reason: "Analysis failed: " + job.Error}
	}
	if job.Results == nil {
		return nil, fmt.Errorf("analysis %s: results not available", id)
	}
	return job, nil
}

// Export renders the downloadable JSON document and its attachment name.
func (s *Service) Export(ctx context.Context, id domain.ID) (string, []byte, error) {
	job, err := s.Repo.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if job.Status != domain.StatusCompleted {
		return "", nil, &ResultsError{Status: job.Status, Reason: "Analysis not completed yet"}
	}
	body, err := BuildExport(job, job.Results)
	if err != nil {
		return "", nil, err
	}
	return ExportFilename(s.clock().Now()), body, nil
}

// LatestCompleted returns the newest completed job of a session, or nil.
func (s *Service) LatestCompleted(ctx context.Context, sessionID string) (*domain.Job, error) {
	jobs, err := s.Repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Status == domain.StatusCompleted && j.Results != nil {
			return j, nil
		}
	}
	return nil, nil
}

// CleanupSession aborts the session's runs before its files go away.
func (s *Service) CleanupSession(_ context.Context, sessionID string) int {
	n := s.Supervisor.CancelSession(sessionID)
	if n > 0 {
		s.logger().Printf("session_id=%s msg=canceled runs for cleanup count=%d", sessionID, n)
	}
	return n
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}
