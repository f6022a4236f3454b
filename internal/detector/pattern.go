package detector

import (
	"context"
	"regexp"

	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

// Rule is one pattern-detector entry. When Group > 0 the emitted span covers
// only that capture group, e.g. the value of a key = "value" assignment.
type Rule struct {
	Type     string
	Pattern  *regexp.Regexp
	Validate Validator // nil accepts every match
	Group    int
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Type: "RRN_KR", Pattern: regexp.MustCompile(`\b(\d{6})-?([1-4]\d{6})\b`), Validate: ValidRRN},
		{Type: "BRN_KR", Pattern: regexp.MustCompile(`\b(\d{3})-?(\d{2})-?(\d{5})\b`), Validate: ValidBRN},
		{Type: "PHONE_KR", Pattern: regexp.MustCompile(`\b(01[016789]-?\d{3,4}-?\d{4}|0[2-6][0-9]-?\d{3,4}-?\d{4})\b`)},
		{Type: "PLATE_KR", Pattern: regexp.MustCompile(`\b\d{2,3}[가-힣]\s?\d{4}\b`)},
		{Type: "EMAIL", Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
		{Type: "BANK_ACCOUNT", Pattern: regexp.MustCompile(`\b\d{3,4}-\d{2,6}-\d{2,6}\b`)},
		{
			Type:    "API_KEY",
			Pattern: regexp.MustCompile(`(?i)\b(?:api[_\-]?key|token|secret)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
			Group:   1,
		},
	}
}

// Pattern is the regex detector. It holds only immutable compiled rules.
type Pattern struct {
	rules   []Rule
	metrics *metrics.Metrics
}

// NewPattern builds a pattern detector from DefaultRules followed by extra.
// m may be nil.
func NewPattern(m *metrics.Metrics, extra ...Rule) *Pattern {
	rules := append(DefaultRules(), extra...)
	return &Pattern{rules: rules, metrics: m}
}

// Source implements Detector.
func (p *Pattern) Source() string { return pii.SourceRegex }

// Detect implements Detector. Matches failing their validator are dropped
// outright, never emitted at reduced confidence. It never returns an error.
func (p *Pattern) Detect(_ context.Context, text string) ([]pii.Span, error) {
	spans := []pii.Span{}
	for _, r := range p.rules {
		for _, loc := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
			if r.Validate != nil && !r.Validate(digitsOf(text[loc[0]:loc[1]])) {
				p.metrics.RecordDropped(pii.SourceRegex, metrics.DropChecksum)
				continue
			}
			start, end := loc[0], loc[1]
			if r.Group > 0 && 2*r.Group+1 < len(loc) && loc[2*r.Group] >= 0 {
				start, end = loc[2*r.Group], loc[2*r.Group+1]
			}
			if start >= end {
				continue
			}
			spans = append(spans, pii.Span{
				Start:      start,
				End:        end,
				Type:       r.Type,
				Text:       text[start:end],
				Source:     pii.SourceRegex,
				Confidence: 1.0,
			})
		}
	}
	p.metrics.RecordDetected(pii.SourceRegex, len(spans))
	return spans, nil
}
