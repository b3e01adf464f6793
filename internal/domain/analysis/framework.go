package analysis

import (
	"fmt"
	"sort"
)

// Framework enum
type Framework string

const (
	FrameworkSOC2     Framework = "SOC2"
	FrameworkISO27001 Framework = "ISO27001"
	FrameworkNISTCSF  Framework = "NIST_CSF"
	FrameworkHIPAA    Framework = "HIPAA"
	FrameworkGDPR     Framework = "GDPR"
	FrameworkPCIDSS   Framework = "PCI_DSS"
)

// Control is one reference control of a framework.
type Control struct {
	ID   string
	Name string
}

// DefaultFrameworks is used when a request names none.
var DefaultFrameworks = []Framework{FrameworkSOC2, FrameworkISO27001, FrameworkNISTCSF}

var catalog = map[Framework][]Control{
	FrameworkSOC2: {
		{"CC1", "Control Environment"},
		{"CC2", "Communication and Information"},
		{"CC3", "Risk Assessment"},
		{"CC4", "Monitoring Activities"},
		{"CC5", "Control Activities"},
		{"CC6", "Logical and Physical Access Controls"},
		{"CC7", "System Operations"},
		{"CC8", "Change Management"},
		{"CC9", "Risk Mitigation"},
		{"A1", "Availability"},
		{"C1", "Confidentiality"},
		{"PI1", "Processing Integrity"},
		{"P1", "Privacy"},
	},
	FrameworkISO27001: {
		{"A.5", "Information Security Policies"},
		{"A.6", "Organization of Information Security"},
		{"A.7", "Human Resource Security"},
		{"A.8", "Asset Management"},
		{"A.9", "Access Control"},
		{"A.10", "Cryptography"},
		{"A.11", "Physical and Environmental Security"},
		{"A.12", "Operations Security"},
		{"A.13", "Communications Security"},
		{"A.14", "System Acquisition, Development and Maintenance"},
		{"A.15", "Supplier Relationships"},
		{"A.16", "Information Security Incident Management"},
		{"A.17", "Business Continuity Management"},
		{"A.18", "Compliance"},
	},
	FrameworkNISTCSF: {
		{"ID.AM", "Asset Management"},
		{"ID.BE", "Business Environment"},
		{"ID.GV", "Governance"},
		{"ID.RA", "Risk Assessment"},
		{"ID.RM", "Risk Management Strategy"},
		{"ID.SC", "Supply Chain Risk Management"},
		{"PR.AC", "Identity Management and Access Control"},
		{"PR.AT", "Awareness and Training"},
		{"PR.DS", "Data Security"},
		{"PR.IP", "Information Protection Processes"},
		{"PR.MA", "Maintenance"},
		{"PR.PT", "Protective Technology"},
		{"DE.AE", "Anomalies and Events"},
		{"DE.CM", "Security Continuous Monitoring"},
		{"DE.DP", "Detection Processes"},
		{"RS.RP", "Response Planning"},
		{"RS.CO", "Communications"},
		{"RS.AN", "Analysis"},
		{"RS.MI", "Mitigation"},
		{"RS.IM", "Improvements"},
		{"RC.RP", "Recovery Planning"},
		{"RC.IM", "Improvements"},
		{"RC.CO", "Communications"},
	},
	FrameworkHIPAA: {
		{"164.308(a)(1)", "Security Management Process"},
		{"164.308(a)(2)", "Assigned Security Responsibility"},
		{"164.308(a)(3)", "Workforce Security"},
		{"164.308(a)(4)", "Information Access Management"},
		{"164.308(a)(5)", "Security Awareness and Training"},
		{"164.308(a)(6)", "Security Incident Procedures"},
		{"164.308(a)(7)", "Contingency Plan"},
		{"164.308(a)(8)", "Evaluation"},
		{"164.310(a)", "Facility Access Controls"},
		{"164.310(b)", "Workstation Use"},
		{"164.310(c)", "Workstation Security"},
		{"164.310(d)", "Device and Media Controls"},
		{"164.312(a)", "Access Control"},
		{"164.312(b)", "Audit Controls"},
		{"164.312(c)", "Integrity"},
		{"164.312(d)", "Person or Entity Authentication"},
		{"164.312(e)", "Transmission Security"},
	},
	FrameworkGDPR: {
		{"Art.5", "Principles of Processing"},
		{"Art.6", "Lawfulness of Processing"},
		{"Art.7", "Conditions for Consent"},
		{"Art.12-14", "Transparency and Information"},
		{"Art.15-22", "Data Subject Rights"},
		{"Art.24", "Responsibility of Controller"},
		{"Art.25", "Data Protection by Design"},
		{"Art.28", "Processor Requirements"},
		{"Art.30", "Records of Processing"},
		{"Art.32", "Security of Processing"},
		{"Art.33-34", "Breach Notification"},
		{"Art.35", "Data Protection Impact Assessment"},
		{"Art.37-39", "Data Protection Officer"},
		{"Art.44-49", "International Transfers"},
	},
	FrameworkPCIDSS: {
		{"Req.1", "Install and Maintain Network Security Controls"},
		{"Req.2", "Apply Secure Configurations"},
		{"Req.3", "Protect Stored Account Data"},
		{"Req.4", "Protect Cardholder Data with Strong Cryptography"},
		{"Req.5", "Protect Against Malicious Software"},
		{"Req.6", "Develop and Maintain Secure Systems"},
		{"Req.7", "Restrict Access by Business Need to Know"},
		{"Req.8", "Identify Users and Authenticate Access"},
		{"Req.9", "Restrict Physical Access"},
		{"Req.10", "Log and Monitor Access"},
		{"Req.11", "Test Security Regularly"},
		{"Req.12", "Support Information Security with Policies"},
	},
}

// Controls returns the reference controls of f, or nil when unknown.
func (f Framework) Controls() []Control {
	return catalog[f]
}

// Valid reports whether f is a supported framework.
func (f Framework) Valid() bool {
	_, ok := catalog[f]
	return ok
}

// SupportedFrameworks lists every framework in stable order.
func SupportedFrameworks() []Framework {
	out := make([]Framework, 0, len(catalog))
	for f := range catalog {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeFrameworks validates the requested list and removes duplicates
// while keeping request order. An empty list yields DefaultFrameworks.
func NormalizeFrameworks(in []string) ([]Framework, error) {
	if len(in) == 0 {
		return append([]Framework(nil), DefaultFrameworks...), nil
	}
	seen := make(map[Framework]bool, len(in))
	out := make([]Framework, 0, len(in))
	for _, raw := range in {
		f := Framework(raw)
		if !f.Valid() {
			return nil, fmt.Errorf("%w: invalid framework: %s", ErrInvalidInput, raw)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}
