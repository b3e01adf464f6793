// Package local is an offline stand-in for the reasoning service. It scans
// document text with keyword rules so the pipeline runs without an API key.
package local

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

type rule struct {
	category       string
	present        *regexp.Regexp
	weak           *regexp.Regexp
	strength       string
	gap            string
	severity       analysis.Severity
	recommendation string
	controls       map[analysis.Framework][]string
}

var rules = []rule{
	{
		category:       "access_control",
		present:        regexp.MustCompile(`(?i)(multi[\s-]?factor|\bmfa\b|two[\s-]?factor|2fa)`),
		weak:           regexp.MustCompile(`(?i)(mfa|multi[\s-]?factor)[^.\n]{0,60}\b(optional|not (required|enforced)|disabled|encouraged)`),
		strength:       "Multi-factor authentication",
		gap:            "MFA not enforced",
		severity:       analysis.SeverityHigh,
		recommendation: "Enforce MFA for all workforce and privileged accounts.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC6"}, analysis.FrameworkISO27001: {"A.9"}, analysis.FrameworkNISTCSF: {"PR.AC"},
			analysis.FrameworkHIPAA: {"164.312(d)"}, analysis.FrameworkPCIDSS: {"Req.8"},
		},
	},
	{
		category:       "encryption",
		present:        regexp.MustCompile(`(?i)(encrypt(ed|ion)? at rest|aes[\s-]?256|tls\s?1\.[23])`),
		weak:           regexp.MustCompile(`(?i)(not encrypted|unencrypted|plain ?text|tls\s?1\.0|ssl\s?v?3)`),
		strength:       "Encryption of data at rest and in transit",
		gap:            "Weak or missing encryption",
		severity:       analysis.SeverityCritical,
		recommendation: "Encrypt sensitive data at rest with AES-256 and require TLS 1.2+ in transit.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"C1"}, analysis.FrameworkISO27001: {"A.10"}, analysis.FrameworkNISTCSF: {"PR.DS"},
			analysis.FrameworkHIPAA: {"164.312(e)"}, analysis.FrameworkGDPR: {"Art.32"}, analysis.FrameworkPCIDSS: {"Req.3", "Req.4"},
		},
	},
	{
		category:       "incident_response",
		present:        regexp.MustCompile(`(?i)incident (response|management) (plan|process|procedure)`),
		weak:           regexp.MustCompile(`(?i)incident response[^.\n]{0,60}\b(not (tested|documented)|in development|draft)`),
		strength:       "Documented incident response",
		gap:            "Incident response not tested",
		severity:       analysis.SeverityMedium,
		recommendation: "Test the incident response plan at least annually with tabletop exercises.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC7"}, analysis.FrameworkISO27001: {"A.16"}, analysis.FrameworkNISTCSF: {"RS.RP", "RS.AN"},
			analysis.FrameworkHIPAA: {"164.308(a)(6)"}, analysis.FrameworkGDPR: {"Art.33-34"}, analysis.FrameworkPCIDSS: {"Req.12"},
		},
	},
	{
		category:       "audit_logging",
		present:        regexp.MustCompile(`(?i)(audit log|centrali[sz]ed logging|siem|log retention)`),
		weak:           regexp.MustCompile(`(?i)(logs? (are )?not (retained|reviewed|monitored)|no (central|centralized) logging)`),
		strength:       "Centralized audit logging",
		gap:            "Insufficient log monitoring",
		severity:       analysis.SeverityMedium,
		recommendation: "Centralize security logs and review alerts daily.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC4", "CC7"}, analysis.FrameworkISO27001: {"A.12"}, analysis.FrameworkNISTCSF: {"DE.CM", "DE.AE"},
			analysis.FrameworkHIPAA: {"164.312(b)"}, analysis.FrameworkPCIDSS: {"Req.10"},
		},
	},
	{
		category:       "change_management",
		present:        regexp.MustCompile(`(?i)(change management|change approval|peer review|code review)`),
		weak:           regexp.MustCompile(`(?i)(changes? (are )?(deployed|made) without (approval|review))`),
		strength:       "Formal change management",
		gap:            "Unapproved production changes",
		severity:       analysis.SeverityHigh,
		recommendation: "Require documented approval and peer review for production changes.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC8"}, analysis.FrameworkISO27001: {"A.12", "A.14"}, analysis.FrameworkNISTCSF: {"PR.IP"},
			analysis.FrameworkPCIDSS: {"Req.6"},
		},
	},
	{
		category:       "business_continuity",
		present:        regexp.MustCompile(`(?i)(business continuity|disaster recovery|backup[s]? (are )?(tested|performed))`),
		weak:           regexp.MustCompile(`(?i)(backups? (are )?not tested|no disaster recovery|dr plan[^.\n]{0,40}not tested)`),
		strength:       "Business continuity and backups",
		gap:            "Recovery capability not validated",
		severity:       analysis.SeverityMedium,
		recommendation: "Test restores and failover against documented RTO and RPO targets.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"A1"}, analysis.FrameworkISO27001: {"A.17"}, analysis.FrameworkNISTCSF: {"RC.RP"},
			analysis.FrameworkHIPAA: {"164.308(a)(7)"},
		},
	},
	{
		category:       "vendor_management",
		present:        regexp.MustCompile(`(?i)(vendor (risk|management)|third[\s-]party (risk|assessment)|subprocessor)`),
		weak:           regexp.MustCompile(`(?i)(vendors? (are )?not (assessed|reviewed))`),
		strength:       "Third-party risk management",
		gap:            "Vendors not assessed",
		severity:       analysis.SeverityMedium,
		recommendation: "Assess critical subprocessors before onboarding and annually thereafter.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC9"}, analysis.FrameworkISO27001: {"A.15"}, analysis.FrameworkNISTCSF: {"ID.SC"},
			analysis.FrameworkGDPR: {"Art.28"}, analysis.FrameworkPCIDSS: {"Req.12"},
		},
	},
	{
		category:       "hr_security",
		present:        regexp.MustCompile(`(?i)(security awareness training|background check)`),
		weak:           regexp.MustCompile(`(?i)(training[^.\n]{0,40}not (completed|required))`),
		strength:       "Security awareness program",
		gap:            "Security training incomplete",
		severity:       analysis.SeverityLow,
		recommendation: "Track completion of annual security awareness training.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC1"}, analysis.FrameworkISO27001: {"A.7"}, analysis.FrameworkNISTCSF: {"PR.AT"},
			analysis.FrameworkHIPAA: {"164.308(a)(5)"},
		},
	},
	{
		category:       "privacy",
		present:        regexp.MustCompile(`(?i)(data subject|privacy notice|data protection officer|\bdpo\b|dpia)`),
		weak:           regexp.MustCompile(`(?i)(no (dpo|data protection officer)|privacy notice[^.\n]{0,40}outdated)`),
		strength:       "Privacy program",
		gap:            "Privacy governance gaps",
		severity:       analysis.SeverityMedium,
		recommendation: "Appoint a DPO and keep records of processing current.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"P1"}, analysis.FrameworkGDPR: {"Art.5", "Art.15-22", "Art.37-39"},
		},
	},
	{
		category:       "compliance",
		present:        regexp.MustCompile(`(?i)(information security policy|risk assessment (is )?(performed|conducted))`),
		weak:           regexp.MustCompile(`(?i)(policy[^.\n]{0,40}not (reviewed|updated) since)`),
		strength:       "Governed security policies",
		gap:            "Stale security policies",
		severity:       analysis.SeverityLow,
		recommendation: "Review and approve security policies annually.",
		controls: map[analysis.Framework][]string{
			analysis.FrameworkSOC2: {"CC2", "CC3"}, analysis.FrameworkISO27001: {"A.5", "A.18"}, analysis.FrameworkNISTCSF: {"ID.GV", "ID.RA"},
			analysis.FrameworkHIPAA: {"164.308(a)(1)"}, analysis.FrameworkPCIDSS: {"Req.12"},
		},
	},
}

var exceptionNoted = regexp.MustCompile(`(?i)(exception(s)? (was|were)? ?noted|deviation(s)? (was|were)? ?noted|qualified opinion)`)

// Analyzer implements analysis.DocumentAnalyzer without a network call.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

func (a *Analyzer) AnalyzeDocument(ctx context.Context, req analysis.DocumentRequest) (analysis.DocumentAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return analysis.DocumentAnalysis{}, err
	}
	text := req.Text
	out := analysis.DocumentAnalysis{
		Success:           true,
		DocumentType:      "Security documentation",
		FrameworkCoverage: make(map[string]analysis.CoverageSample, len(req.Frameworks)),
	}
	if req.Trusted {
		out.DocumentType = "SOC 2 Type II Report"
	}

	implemented := map[analysis.Framework]map[string]bool{}
	partial := map[analysis.Framework]map[string]bool{}
	mark := func(into map[analysis.Framework]map[string]bool, controls map[analysis.Framework][]string) {
		for fw, ids := range controls {
			if into[fw] == nil {
				into[fw] = map[string]bool{}
			}
			for _, id := range ids {
				into[fw][id] = true
			}
		}
	}

	for _, r := range rules {
		switch {
		case r.weak != nil && r.weak.MatchString(text):
			out.Findings = append(out.Findings, analysis.Finding{
				Severity:          r.severity,
				Category:          r.category,
				Title:             r.gap,
				Description:       "Evidence: " + excerpt(r.weak.FindString(text), 120),
				Recommendation:    r.recommendation,
				ControlReferences: references(r.controls, req.Frameworks),
			})
			mark(partial, r.controls)
		case r.present.MatchString(text):
			out.Strengths = append(out.Strengths, analysis.Strength{
				Category:    r.category,
				Title:       r.strength,
				Description: "Documented: " + excerpt(r.present.FindString(text), 120),
			})
			mark(implemented, r.controls)
		}
	}

	if req.Trusted && exceptionNoted.MatchString(text) {
		out.Findings = append(out.Findings, analysis.Finding{
			Severity:       analysis.SeverityHigh,
			Category:       "compliance",
			Title:          "Auditor-noted control exception",
			Description:    "Evidence: " + excerpt(exceptionNoted.FindString(text), 120),
			Recommendation: "Obtain management's remediation plan for each exception and verify closure.",
		})
	}

	for _, fw := range req.Frameworks {
		total := len(fw.Controls())
		if total == 0 {
			continue
		}
		impl, part := 0, 0
		for _, c := range fw.Controls() {
			switch {
			case partial[fw][c.ID]:
				part++
			case implemented[fw][c.ID]:
				impl++
			}
		}
		out.FrameworkCoverage[string(fw)] = analysis.CoverageSample{
			Framework:           string(fw),
			CoveragePercentage:  (float64(impl) + 0.5*float64(part)) / float64(total) * 100,
			ImplementedControls: impl,
			PartialControls:     part,
			MissingControls:     total - impl - part,
			TotalControls:       total,
		}
	}

	out.ExecutiveSummary = fmt.Sprintf("Keyword review of %s found %d gap(s) and %d documented control area(s).",
		req.Filename, len(out.Findings), len(out.Strengths))
	return out, nil
}

func references(controls map[analysis.Framework][]string, requested []analysis.Framework) []string {
	var refs []string
	for _, fw := range requested {
		for _, id := range controls[fw] {
			refs = append(refs, string(fw)+":"+id)
		}
	}
	sort.Strings(refs)
	return refs
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
