package ai

import (
	"context"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// Service wraps the reasoning ports with the retrying invoker.
// It satisfies analysis.DocumentAnalyzer and analysis.Summarizer itself.
type Service struct {
	analyzer   analysis.DocumentAnalyzer
	summarizer analysis.Summarizer
	invoker    *Invoker
}

func NewService(analyzer analysis.DocumentAnalyzer, summarizer analysis.Summarizer, invoker *Invoker) *Service {
	if invoker == nil {
		invoker = &Invoker{}
	}
	return &Service{analyzer: analyzer, summarizer: summarizer, invoker: invoker}
}

func (s *Service) AnalyzeDocument(ctx context.Context, req analysis.DocumentRequest) (analysis.DocumentAnalysis, error) {
	return Call(ctx, s.invoker, func(ctx context.Context) (analysis.DocumentAnalysis, error) {
		return s.analyzer.AnalyzeDocument(ctx, req)
	})
}

func (s *Service) Summarize(ctx context.Context, in analysis.SummaryInput) (string, error) {
	return Call(ctx, s.invoker, func(ctx context.Context) (string, error) {
		return s.summarizer.Summarize(ctx, in)
	})
}
