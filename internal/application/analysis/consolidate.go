package analysis

import (
	"math"
	"sort"
	"strings"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

type findingGroup struct {
	first         domain.Finding
	documentCount int
	trustedCount  int
	totalWeight   int
}

// Deduplicate collapses findings that share a normalized title+category.
// A group survives when any occurrence came from a trusted document, or when
// it was reported by at least half of the analyzed documents (rounded up).
// Trusted occurrences weigh 2, others 1; output is sorted by weight then
// severity, first seen wins ties. trustedDocumentCount does not affect
// inclusion; trust is judged per occurrence.
func Deduplicate(findings []domain.SourcedFinding, documentCount, trustedDocumentCount int) []domain.Finding {
	groups := make(map[string]*findingGroup, len(findings))
	order := make([]*findingGroup, 0, len(findings))
	for _, f := range findings {
		key := dedupeKey(f.Finding)
		g, ok := groups[key]
		if !ok {
			g = &findingGroup{first: f.Finding}
			groups[key] = g
			order = append(order, g)
		}
		g.documentCount++
		if f.FromTrustedSource {
			g.trustedCount++
			g.totalWeight += 2
		} else {
			g.totalWeight++
		}
	}

	threshold := int(math.Ceil(float64(documentCount) / 2))
	if threshold < 1 {
		threshold = 1
	}

	kept := make([]*findingGroup, 0, len(order))
	for _, g := range order {
		if g.trustedCount > 0 || g.documentCount >= threshold {
			kept = append(kept, g)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.totalWeight != b.totalWeight {
			return a.totalWeight > b.totalWeight
		}
		return a.first.Severity.Rank() < b.first.Severity.Rank()
	})

	out := make([]domain.Finding, 0, len(kept))
	for _, g := range kept {
		f := g.first
		f.ControlReferences = append([]string(nil), f.ControlReferences...)
		out = append(out, f)
	}
	return out
}

func dedupeKey(f domain.Finding) string {
	return normalize(f.Title) + normalize(f.Category)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ConsolidateCoverage averages per-document samples per framework in
// first-seen order. Control counts are floored means; total_controls is
// taken from the first sample of each framework.
func ConsolidateCoverage(samples []domain.CoverageSample) []domain.FrameworkCoverage {
	type acc struct {
		first       domain.CoverageSample
		n           int
		coverage    float64
		implemented int
		partial     int
		missing     int
	}
	byName := make(map[string]*acc)
	var names []string
	for _, s := range samples {
		a, ok := byName[s.Framework]
		if !ok {
			a = &acc{first: s}
			byName[s.Framework] = a
			names = append(names, s.Framework)
		}
		a.n++
		a.coverage += s.CoveragePercentage
		a.implemented += s.ImplementedControls
		a.partial += s.PartialControls
		a.missing += s.MissingControls
	}

	out := make([]domain.FrameworkCoverage, 0, len(names))
	for _, name := range names {
		a := byName[name]
		out = append(out, domain.FrameworkCoverage{
			Framework:           name,
			CoveragePercentage:  a.coverage / float64(a.n),
			ImplementedControls: floorDiv(a.implemented, a.n),
			PartialControls:     floorDiv(a.partial, a.n),
			MissingControls:     floorDiv(a.missing, a.n),
			TotalControls:       a.first.TotalControls,
		})
	}
	return out
}

func floorDiv(sum, n int) int {
	return int(math.Floor(float64(sum) / float64(n)))
}

// DeduplicateStrengths keeps the first strength per normalized title.
func DeduplicateStrengths(in []domain.Strength) []domain.Strength {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Strength, 0, len(in))
	for _, s := range in {
		key := normalize(s.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// OverallScore is the mean consolidated coverage, 0 without frameworks.
func OverallScore(frameworks []domain.FrameworkCoverage) float64 {
	if len(frameworks) == 0 {
		return 0
	}
	var sum float64
	for _, f := range frameworks {
		sum += f.CoveragePercentage
	}
	return sum / float64(len(frameworks))
}
