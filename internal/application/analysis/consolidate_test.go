package analysis

import (
	"reflect"
	"testing"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

func sourced(sev domain.Severity, category, title string, trusted bool, doc string) domain.SourcedFinding {
	return domain.SourcedFinding{
		Finding: domain.Finding{
			Severity:       sev,
			Category:       category,
			Title:          title,
			Description:    title + " description",
			Recommendation: "fix " + title,
		},
		FromTrustedSource: trusted,
		SourceDocument:    doc,
	}
}

func TestDeduplicate_TrustedOccurrenceKeepsFinding(t *testing.T) {
	in := []domain.SourcedFinding{
		sourced(domain.SeverityHigh, "access_control", "Missing MFA enforcement", true, "vendor_soc2_type_ii.md"),
		sourced(domain.SeverityHigh, "access_control", "Missing MFA enforcement", false, "security_policy.md"),
	}

	out := Deduplicate(in, 2, 1)
	if len(out) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(out))
	}
	if out[0].Title != "Missing MFA enforcement" || out[0].Category != "access_control" {
		t.Fatalf("unexpected finding %+v", out[0])
	}

	groups := map[string]int{}
	for _, f := range in {
		w := 1
		if f.FromTrustedSource {
			w = 2
		}
		groups[dedupeKey(f.Finding)] += w
	}
	if groups[dedupeKey(out[0])] != 3 {
		t.Fatalf("expected combined weight 3, got %d", groups[dedupeKey(out[0])])
	}
}

func TestDeduplicate_NormalizesKey(t *testing.T) {
	in := []domain.SourcedFinding{
		sourced(domain.SeverityMedium, "Encryption ", "  Encryption at rest not documented", false, "a.md"),
		sourced(domain.SeverityMedium, "encryption", "ENCRYPTION AT REST NOT DOCUMENTED ", false, "b.md"),
	}
	out := Deduplicate(in, 2, 0)
	if len(out) != 1 {
		t.Fatalf("expected one group, got %d", len(out))
	}
	if out[0].Title != "  Encryption at rest not documented" {
		t.Fatalf("first seen content must win, got %q", out[0].Title)
	}
}

func TestDeduplicate_MinorityFindingDropped(t *testing.T) {
	// N=5: threshold ceil(5/2)=3, so a finding seen in 2 untrusted documents is dropped.
	in := []domain.SourcedFinding{
		sourced(domain.SeverityLow, "hr_security", "No background checks", false, "d1"),
		sourced(domain.SeverityLow, "hr_security", "No background checks", false, "d2"),
		sourced(domain.SeverityHigh, "audit_logging", "Logs not retained", false, "d1"),
		sourced(domain.SeverityHigh, "audit_logging", "Logs not retained", false, "d2"),
		sourced(domain.SeverityHigh, "audit_logging", "Logs not retained", false, "d3"),
	}
	out := Deduplicate(in, 5, 0)
	if len(out) != 1 || out[0].Title != "Logs not retained" {
		t.Fatalf("expected only the majority finding, got %+v", out)
	}

	// The same minority finding with one trusted occurrence is kept.
	in = append(in[:1], sourced(domain.SeverityLow, "hr_security", "No background checks", true, "soc2.md"))
	out = Deduplicate(in, 5, 1)
	found := false
	for _, f := range out {
		if f.Title == "No background checks" {
			found = true
		}
	}
	if !found {
		t.Fatal("trusted occurrence must keep the finding")
	}
}

func TestDeduplicate_SingleDocumentKeepsEverything(t *testing.T) {
	in := []domain.SourcedFinding{
		sourced(domain.SeverityLow, "other", "a", false, "d1"),
		sourced(domain.SeverityCritical, "other", "b", false, "d1"),
	}
	out := Deduplicate(in, 1, 0)
	if len(out) != 2 {
		t.Fatalf("expected both findings, got %d", len(out))
	}
	if out[0].Title != "b" {
		t.Fatalf("equal weight ties break on severity, got %q first", out[0].Title)
	}
}

func TestDeduplicate_SortOrder(t *testing.T) {
	in := []domain.SourcedFinding{
		sourced(domain.SeverityLow, "c", "low-twice", false, "d1"),
		sourced(domain.SeverityLow, "c", "low-twice", false, "d2"),
		sourced(domain.SeverityMedium, "c", "medium-trusted", true, "d1"),
		sourced(domain.Severity("weird"), "c", "unknown-once-trusted", true, "d2"),
		sourced(domain.SeverityCritical, "c", "critical-trusted-twice", true, "d1"),
		sourced(domain.SeverityCritical, "c", "critical-trusted-twice", true, "d2"),
	}
	out := Deduplicate(in, 2, 2)
	var titles []string
	for _, f := range out {
		titles = append(titles, f.Title)
	}
	want := []string{"critical-trusted-twice", "medium-trusted", "low-twice", "unknown-once-trusted"}
	if !reflect.DeepEqual(titles, want) {
		t.Fatalf("got %v, want %v", titles, want)
	}
}

func TestConsolidateCoverage_Averages(t *testing.T) {
	out := ConsolidateCoverage([]domain.CoverageSample{
		{Framework: "SOC2", CoveragePercentage: 80, ImplementedControls: 9, PartialControls: 2, MissingControls: 2, TotalControls: 13},
		{Framework: "ISO27001", CoveragePercentage: 50, ImplementedControls: 7, PartialControls: 0, MissingControls: 7, TotalControls: 14},
		{Framework: "SOC2", CoveragePercentage: 60, ImplementedControls: 6, PartialControls: 3, MissingControls: 4, TotalControls: 12},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 frameworks, got %d", len(out))
	}
	soc2 := out[0]
	if soc2.Framework != "SOC2" || soc2.CoveragePercentage != 70.0 {
		t.Fatalf("unexpected SOC2 coverage %+v", soc2)
	}
	if soc2.ImplementedControls != 7 || soc2.PartialControls != 2 || soc2.MissingControls != 3 {
		t.Fatalf("control counts must be floored means, got %+v", soc2)
	}
	if soc2.TotalControls != 13 {
		t.Fatalf("total_controls comes from the first sample, got %d", soc2.TotalControls)
	}
	if out[1].Framework != "ISO27001" {
		t.Fatalf("first-seen order expected, got %s", out[1].Framework)
	}
}

func TestDeduplicateStrengths(t *testing.T) {
	out := DeduplicateStrengths([]domain.Strength{
		{Title: "Encryption in transit"},
		{Title: " encryption IN transit"},
		{Title: ""},
		{Title: "Incident response plan"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 strengths, got %+v", out)
	}
}

func TestOverallScore(t *testing.T) {
	if OverallScore(nil) != 0 {
		t.Fatal("no frameworks must score 0")
	}
	got := OverallScore([]domain.FrameworkCoverage{{CoveragePercentage: 70}, {CoveragePercentage: 50}})
	if got != 60 {
		t.Fatalf("expected 60, got %v", got)
	}
}
