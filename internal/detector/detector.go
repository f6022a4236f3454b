// Package detector finds candidate PII spans in text.
//
// Every detector satisfies the same small interface and knows nothing about
// the others, so any combination can run over the same buffer and have its
// output merged afterwards:
//
//   - Pattern:     regular expressions, some backed by checksum validators.
//   - Placeholder: the slot for a local NER model; finds nothing today.
//   - Remote:      asks a remote language model and parses its JSON reply.
package detector

import (
	"context"

	"pii-redactor/internal/pii"
)

// Detector produces candidate spans for one text buffer.
// Implementations must not share mutable state across calls.
type Detector interface {
	// Source is the tag stamped on every span this detector emits.
	Source() string

	// Detect returns candidate spans. Detection-local problems (a bad
	// candidate, an unparseable reply) are absorbed; a returned error means
	// the detector could not run at all.
	Detect(ctx context.Context, text string) ([]pii.Span, error)
}

// Placeholder is a Detector that never finds anything. It holds the place of
// a local named-entity model so callers can treat every mode uniformly.
type Placeholder struct{}

// Source implements Detector.
func (Placeholder) Source() string { return pii.SourceNER }

// Detect implements Detector.
func (Placeholder) Detect(context.Context, string) ([]pii.Span, error) {
	return []pii.Span{}, nil
}
