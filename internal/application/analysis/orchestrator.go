package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/bryanwahyu/vendor-compliance/internal/application"
	aiapp "github.com/bryanwahyu/vendor-compliance/internal/application/ai"
	progressapp "github.com/bryanwahyu/vendor-compliance/internal/application/progress"
	domainai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
)

// ErrCanceled is stored on jobs whose run was aborted.
var ErrCanceled = errors.New("analysis canceled")

// Bands split the 0-100 progress range across pipeline stages, in order.
type Bands struct {
	Setup         float64
	Documents     float64
	Consolidation float64
	Summary       float64
}

var DefaultBands = Bands{Setup: 5, Documents: 70, Consolidation: 15, Summary: 10}

// Metrics receives run level counters. Nil is allowed.
type Metrics interface {
	AnalysisStarted()
	AnalysisFinished(status domain.Status)
	DocumentSkipped(phase string)
}

// Orchestrator drives one job from PENDING to a terminal status.
type Orchestrator struct {
	Repo       domain.Repository
	Files      domain.FileStore
	Analyzer   domain.DocumentAnalyzer
	Summarizer domain.Summarizer
	Archive    domain.ReportArchive // optional
	Publisher  progressapp.Publisher
	Trust      *TrustClassifier
	Clock      application.Clock
	Logger     *log.Logger
	Metrics    Metrics

	Bands         Bands
	DocumentPause time.Duration
	// Pause waits between documents; nil uses a timer bound to ctx.
	Pause func(ctx context.Context, d time.Duration) error
}

type phase string

const (
	phaseStarted       phase = "started"
	phaseSetup         phase = "setup"
	phaseLoading       phase = "loading"
	phaseParsing       phase = "parsing"
	phaseAnalyzing     phase = "analyzing"
	phaseConsolidating phase = "consolidating"
	phaseRiskScoring   phase = "risk_scoring"
	phaseSummarizing   phase = "summarizing"
	phaseComplete      phase = "complete"
	phaseFailed        phase = "failed"
)

// A skipped document goes back to loading (next document) or on to consolidating.
var phaseTransitions = map[phase][]phase{
	phaseStarted:       {phaseSetup},
	phaseSetup:         {phaseLoading},
	phaseLoading:       {phaseParsing, phaseLoading, phaseConsolidating},
	phaseParsing:       {phaseAnalyzing, phaseLoading, phaseConsolidating},
	phaseAnalyzing:     {phaseLoading, phaseConsolidating},
	phaseConsolidating: {phaseRiskScoring},
	phaseRiskScoring:   {phaseSummarizing},
	phaseSummarizing:   {phaseComplete},
}

// run is the mutable state of a single Orchestrator.Run call.
type run struct {
	job      *domain.Job
	reporter *progressapp.Reporter
	phase    phase

	findings  []domain.SourcedFinding
	strengths []domain.Strength
	coverage  []domain.CoverageSample
	skipped   []domain.DocumentError
	analyzed  int
	trusted   int
}

func (r *run) to(next phase) error {
	if next == phaseFailed {
		r.phase = next
		return nil
	}
	for _, p := range phaseTransitions[r.phase] {
		if p == next {
			r.phase = next
			return nil
		}
	}
	return fmt.Errorf("illegal pipeline step %s -> %s", r.phase, next)
}

// documentError is a recoverable per-document failure.
type documentError struct {
	phase phase
	err   error
}

func (e *documentError) Error() string { return e.err.Error() }
func (e *documentError) Unwrap() error { return e.err }

// Run executes the pipeline for id. A job that is not PENDING is left alone
// and ErrAlreadyStarted is returned. Failures are recorded on the job; the
// returned error only mirrors them for the caller's logs.
func (o *Orchestrator) Run(ctx context.Context, id domain.ID) error {
	job, err := o.Repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load analysis %s: %w", id, err)
	}
	claim := domain.JobUpdate{
		ExpectStatus: domain.StatusPtr(domain.StatusPending),
		Status:       domain.StatusPtr(domain.StatusProcessing),
		Progress:     domain.Float64Ptr(0),
		CurrentStep:  domain.StringPtr("Starting analysis"),
	}
	if err := o.Repo.Update(ctx, id, claim); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return domain.ErrAlreadyStarted
		}
		return fmt.Errorf("claim analysis %s: %w", id, err)
	}
	job.Status = domain.StatusProcessing

	o.metrics().AnalysisStarted()
	o.logger().Printf("analysis_id=%s session_id=%s msg=analysis started frameworks=%v", id, job.SessionID, job.Frameworks)

	r := &run{
		job:      job,
		reporter: progressapp.NewReporter(o.Publisher, job.SessionID, 100, o.clock()),
		phase:    phaseStarted,
	}
	r.reporter.EmitAt(ctx, progress.AnalysisStarted, "Starting compliance analysis...", map[string]any{
		"analysis_id": string(id),
		"frameworks":  job.Frameworks,
	}, 0)

	report, err := o.execute(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			err = ErrCanceled
		}
		o.fail(ctx, r, err)
		return err
	}
	return o.complete(ctx, r, report)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*domain.Report, error) {
	bands := o.bands()
	if err := r.to(phaseSetup); err != nil {
		return nil, err
	}
	files, err := o.Files.ListFiles(ctx, r.job.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	if len(files) == 0 {
		return nil, domain.ErrNoDocuments
	}
	o.step(ctx, r, bands.Setup, fmt.Sprintf("Found %d document(s)", len(files)))

	share := bands.Documents / float64(len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := bands.Setup + float64(i)*share
		derr := o.processDocument(ctx, r, f, i, len(files), start, share)
		if derr != nil {
			var de *documentError
			if !errors.As(derr, &de) {
				return nil, derr
			}
			o.skip(ctx, r, f, de, start+share)
		}
		o.step(ctx, r, start+share, "Analyzed "+f.OriginalName)

		if i < len(files)-1 && o.DocumentPause > 0 {
			if err := o.pause(ctx, o.DocumentPause); err != nil {
				return nil, err
			}
		}
	}

	if err := r.to(phaseConsolidating); err != nil {
		return nil, err
	}
	if r.analyzed == 0 {
		return nil, errors.New("no documents could be analyzed")
	}

	base := bands.Setup + bands.Documents
	o.step(ctx, r, base, "Consolidating findings")
	findings := Deduplicate(r.findings, r.analyzed, r.trusted)
	frameworks := ConsolidateCoverage(r.coverage)
	strengths := DeduplicateStrengths(r.strengths)

	if err := r.to(phaseRiskScoring); err != nil {
		return nil, err
	}
	r.reporter.EmitAt(ctx, progress.RiskAssessmentStarted, "Calculating risk assessment...", nil, base)
	risk := AssessRisk(findings, frameworks)
	r.reporter.EmitAt(ctx, progress.RiskAssessmentComplete, "Risk assessment complete", map[string]any{
		"inherent_risk_level":       risk.InherentRiskLevel,
		"inherent_risk_score":       risk.InherentRiskScore,
		"residual_risk_level":       risk.ResidualRiskLevel,
		"residual_risk_score":       risk.ResidualRiskScore,
		"risk_reduction_percentage": risk.RiskReductionPercentage,
	}, base+bands.Consolidation)

	if err := r.to(phaseSummarizing); err != nil {
		return nil, err
	}
	o.step(ctx, r, base+bands.Consolidation, "Generating executive summary")
	r.reporter.EmitAt(ctx, progress.ExecutiveSummaryGenerating, "Generating executive summary...", nil, base+bands.Consolidation)
	in := domain.SummaryInput{
		VendorName:       r.job.VendorName,
		Findings:         findings,
		Strengths:        strengths,
		Frameworks:       frameworks,
		DocumentCount:    r.analyzed,
		TrustedDocuments: r.trusted,
	}
	summary, err := o.summarize(ctx, r, in)
	if err != nil {
		return nil, err
	}

	return &domain.Report{
		OverallComplianceScore: OverallScore(frameworks),
		Frameworks:             frameworks,
		Findings:               findings,
		Strengths:              strengths,
		RiskAssessment:         &risk,
		ExecutiveSummary:       summary,
		DocumentsAnalyzed:      r.analyzed,
		TrustedDocuments:       r.trusted,
		DocumentsSkipped:       r.skipped,
	}, nil
}

func (o *Orchestrator) processDocument(ctx context.Context, r *run, f domain.FileDescriptor, index, total int, start, share float64) error {
	name := f.OriginalName
	if err := r.to(phaseLoading); err != nil {
		return err
	}
	r.reporter.EmitAt(ctx, progress.DocumentLoading, fmt.Sprintf("Loading %s...", name), map[string]any{
		"filename": name,
		"file_id":  f.ID,
		"index":    index + 1,
		"total":    total,
	}, start)

	path, err := o.Files.ResolvePath(ctx, r.job.SessionID, f.ID)
	if err != nil {
		return &documentError{phase: phaseLoading, err: err}
	}
	if path == "" {
		return &documentError{phase: phaseLoading, err: errors.New("file not found")}
	}
	r.reporter.EmitAt(ctx, progress.DocumentLoaded, "Loaded "+name, map[string]any{
		"filename":   name,
		"size_bytes": f.SizeBytes,
	}, start+share*0.1)

	if err := r.to(phaseParsing); err != nil {
		return err
	}
	doc, err := o.Files.Parse(ctx, path, f.MimeType)
	if err != nil {
		return &documentError{phase: phaseParsing, err: err}
	}
	if strings.TrimSpace(doc.Text) == "" {
		return &documentError{phase: phaseParsing, err: errors.New("document contains no extractable text")}
	}

	if err := r.to(phaseAnalyzing); err != nil {
		return err
	}
	trusted := o.Trust.IsTrusted(name)
	r.reporter.EmitAt(ctx, progress.DocumentAnalyzing, fmt.Sprintf("Analyzing %s...", name), map[string]any{
		"filename":  name,
		"trusted":   trusted,
		"truncated": doc.Truncated,
	}, start+share*0.2)

	res, err := o.Analyzer.AnalyzeDocument(ctx, domain.DocumentRequest{
		Text:       doc.Text,
		Filename:   name,
		Frameworks: r.job.Frameworks,
		Trusted:    trusted,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, aiapp.ErrRetriesExhausted) || domainai.IsTransient(err) {
			return fmt.Errorf("analyze %s: %w", name, err)
		}
		return &documentError{phase: phaseAnalyzing, err: err}
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "analysis returned no result"
		}
		return &documentError{phase: phaseAnalyzing, err: errors.New(msg)}
	}

	r.analyzed++
	if trusted {
		r.trusted++
	}
	for _, finding := range res.Findings {
		finding.Severity = domain.ParseSeverity(string(finding.Severity))
		r.findings = append(r.findings, domain.SourcedFinding{
			Finding:           finding,
			FromTrustedSource: trusted,
			SourceDocument:    name,
		})
		r.reporter.EmitAt(ctx, progress.FindingDiscovered, "Found: "+finding.Title, map[string]any{
			"finding":  finding,
			"filename": name,
		}, start+share*0.8)
	}
	r.strengths = append(r.strengths, res.Strengths...)

	for _, key := range coverageOrder(r.job.Frameworks, res.FrameworkCoverage) {
		sample := res.FrameworkCoverage[key]
		if sample.Framework == "" {
			sample.Framework = key
		}
		r.coverage = append(r.coverage, sample)
		r.reporter.EmitAt(ctx, progress.FrameworkComplete, sample.Framework+" analysis complete", map[string]any{
			"framework": sample.Framework,
			"coverage":  sample.CoveragePercentage,
			"filename":  name,
		}, start+share*0.9)
	}
	return nil
}

// coverageOrder lists requested frameworks first, then extra keys sorted.
func coverageOrder(requested []domain.Framework, got map[string]domain.CoverageSample) []string {
	keys := make([]string, 0, len(got))
	seen := make(map[string]bool, len(got))
	for _, f := range requested {
		if _, ok := got[string(f)]; ok {
			keys = append(keys, string(f))
			seen[string(f)] = true
		}
	}
	var extra []string
	for k := range got {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func (o *Orchestrator) skip(ctx context.Context, r *run, f domain.FileDescriptor, de *documentError, pct float64) {
	r.skipped = append(r.skipped, domain.DocumentError{
		FileID:   f.ID,
		Filename: f.OriginalName,
		Phase:    string(de.phase),
		Message:  de.Error(),
		At:       o.clock().Now().UTC(),
	})
	o.metrics().DocumentSkipped(string(de.phase))
	o.logger().Printf("analysis_id=%s session_id=%s file=%q phase=%s msg=document skipped err=%v",
		r.job.ID, r.job.SessionID, f.OriginalName, de.phase, de.err)
	r.reporter.EmitAt(ctx, progress.AnalysisError, fmt.Sprintf("Skipped %s: %s", f.OriginalName, de.Error()), map[string]any{
		"filename":    f.OriginalName,
		"phase":       string(de.phase),
		"error":       de.Error(),
		"recoverable": true,
	}, pct)
}

func (o *Orchestrator) summarize(ctx context.Context, r *run, in domain.SummaryInput) (string, error) {
	if o.Summarizer != nil {
		summary, err := o.Summarizer.Summarize(ctx, in)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		o.logger().Printf("analysis_id=%s session_id=%s msg=summary fallback err=%v", r.job.ID, r.job.SessionID, err)
	}
	return FallbackSummary(in), nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, report *domain.Report) error {
	if err := r.to(phaseComplete); err != nil {
		o.fail(ctx, r, err)
		return err
	}
	var reportURL *string
	if o.Archive != nil {
		if url, err := o.archive(ctx, r.job, report); err != nil {
			o.logger().Printf("analysis_id=%s session_id=%s msg=report archive failed err=%v", r.job.ID, r.job.SessionID, err)
		} else {
			reportURL = &url
		}
	}

	err := o.Repo.Update(context.WithoutCancel(ctx), r.job.ID, domain.JobUpdate{
		Status:      domain.StatusPtr(domain.StatusCompleted),
		Progress:    domain.Float64Ptr(100),
		CurrentStep: domain.StringPtr("Complete"),
		Results:     report,
		ReportURL:   reportURL,
	})
	if err != nil {
		o.logger().Printf("analysis_id=%s session_id=%s msg=store results failed err=%v", r.job.ID, r.job.SessionID, err)
		return fmt.Errorf("store results: %w", err)
	}
	o.metrics().AnalysisFinished(domain.StatusCompleted)
	o.logger().Printf("analysis_id=%s session_id=%s msg=analysis completed documents=%d skipped=%d findings=%d score=%.1f",
		r.job.ID, r.job.SessionID, report.DocumentsAnalyzed, len(report.DocumentsSkipped), len(report.Findings), report.OverallComplianceScore)

	r.reporter.EmitAt(ctx, progress.AnalysisComplete, "Analysis complete!", map[string]any{
		"analysis_id":    string(r.job.ID),
		"overall_score":  report.OverallComplianceScore,
		"findings_count": len(report.Findings),
	}, 100)
	return nil
}

func (o *Orchestrator) archive(ctx context.Context, j *domain.Job, report *domain.Report) (string, error) {
	snapshot := j.Clone()
	now := o.clock().Now().UTC()
	snapshot.CompletedAt = &now
	body, err := BuildExport(snapshot, report)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("reports/%s/%s.json", j.SessionID, j.ID)
	return o.Archive.Put(ctx, key, body, "application/json")
}

// fail records err on the job. It runs detached from ctx so a canceled run
// still reaches a terminal status.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	_ = r.to(phaseFailed)
	bg := context.WithoutCancel(ctx)
	msg := err.Error()
	if uerr := o.Repo.Update(bg, r.job.ID, domain.JobUpdate{
		Status:      domain.StatusPtr(domain.StatusFailed),
		CurrentStep: domain.StringPtr("Failed"),
		Error:       &msg,
	}); uerr != nil {
		o.logger().Printf("analysis_id=%s session_id=%s msg=mark failed err=%v", r.job.ID, r.job.SessionID, uerr)
	}
	o.metrics().AnalysisFinished(domain.StatusFailed)
	o.logger().Printf("analysis_id=%s session_id=%s msg=analysis failed err=%q", r.job.ID, r.job.SessionID, msg)
	r.reporter.Emit(bg, progress.AnalysisError, "Analysis failed: "+msg, map[string]any{
		"analysis_id": string(r.job.ID),
		"error":       msg,
		"recoverable": false,
	})
}

// step persists progress so polling clients see the same state as subscribers.
func (o *Orchestrator) step(ctx context.Context, r *run, pct float64, current string) {
	r.reporter.SetProgress(pct)
	if err := o.Repo.Update(ctx, r.job.ID, domain.JobUpdate{
		Progress:    domain.Float64Ptr(pct),
		CurrentStep: domain.StringPtr(current),
	}); err != nil {
		o.logger().Printf("analysis_id=%s session_id=%s msg=progress update failed err=%v", r.job.ID, r.job.SessionID, err)
	}
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	if o.Pause != nil {
		return o.Pause(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) bands() Bands {
	b := o.Bands
	if b.Setup+b.Documents+b.Consolidation+b.Summary <= 0 {
		return DefaultBands
	}
	return b
}

func (o *Orchestrator) clock() application.Clock {
	if o.Clock == nil {
		return application.SystemClock{}
	}
	return o.Clock
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *Orchestrator) metrics() Metrics {
	if o.Metrics == nil {
		return nopMetrics{}
	}
	return o.Metrics
}

type nopMetrics struct{}

func (nopMetrics) AnalysisStarted()               {}
func (nopMetrics) AnalysisFinished(domain.Status) {}
func (nopMetrics) DocumentSkipped(string)         {}
