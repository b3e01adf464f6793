package analysis

import (
	"fmt"
	"regexp"
)

// DefaultTrustedPatterns match filenames of independently audited reports.
var DefaultTrustedPatterns = []string{
	`(?i)soc[\s_-]?2`,
	`(?i)type[\s_-]?(ii|2)\b`,
	`(?i)audit[\s_-]?report`,
}

// TrustClassifier decides whether a document is a high-trust source.
type TrustClassifier struct {
	patterns []*regexp.Regexp
}

// NewTrustClassifier compiles patterns; nil or empty uses DefaultTrustedPatterns.
func NewTrustClassifier(patterns []string) (*TrustClassifier, error) {
	if len(patterns) == 0 {
		patterns = DefaultTrustedPatterns
	}
	c := &TrustClassifier{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile trusted pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

func (c *TrustClassifier) IsTrusted(filename string) bool {
	if c == nil {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(filename) {
			return true
		}
	}
	return false
}
