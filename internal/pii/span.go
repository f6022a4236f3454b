// Package pii holds the data shared by every stage of the redaction pipeline
// and the two pure transformations that operate on it:
//
//  1. Merge collapses overlapping candidate spans into a disjoint set.
//  2. Mask / Restore swap span text for opaque tokens and back again.
//
// Nothing in this package keeps state between calls, so every function is
// safe to call from concurrent request handlers.
package pii

// Detector source tags. They double as keys into the merge priority table.
const (
	SourceRegex = "regex"
	SourceNER   = "ner"
	SourceLLM   = "llm"
)

// TypeUnknown is assigned when a detector cannot name the category it found.
const TypeUnknown = "UNKNOWN"

// Span is one located, typed occurrence of PII in a text buffer.
// Start and End are byte offsets into the UTF-8 input; Text == input[Start:End]
// at detection time. Spans are never mutated after a detector returns them.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Envelope is the token id → original substring mapping produced by Mask.
// It is the only artifact able to reverse a redaction.
type Envelope struct {
	TokenMap map[string]string `json:"token_map"`
}

// Audit summarises one masking run. Spans are ordered by Start.
type Audit struct {
	Spans       []Span   `json:"spans"`
	TotalFound  int      `json:"total_found"`
	SourcesUsed []string `json:"sources_used"`
}

// NewAudit builds an Audit from merged spans and the sources that ran.
// Duplicate sources are collapsed, keeping first-seen order.
func NewAudit(spans []Span, sources []string) Audit {
	seen := make(map[string]bool, len(sources))
	used := make([]string, 0, len(sources))
	for _, s := range sources {
		if seen[s] {
			continue
		}
		seen[s] = true
		used = append(used, s)
	}
	if spans == nil {
		spans = []Span{}
	}
	return Audit{Spans: spans, TotalFound: len(spans), SourcesUsed: used}
}
