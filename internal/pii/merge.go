package pii

import (
	"slices"
	"sort"
)

// fallbackRank is assigned to any source or type missing from the tables
// below, so new categories sort after every known one.
const fallbackRank = 99

// sourceRank orders detectors by trust. Lower wins.
var sourceRank = map[string]int{
	SourceRegex: 0,
	SourceNER:   1,
	SourceLLM:   2,
}

// typeRank orders PII categories by sensitivity and specificity. Lower wins.
var typeRank = map[string]int{
	"RRN_KR":       0,
	"BRN_KR":       1,
	"PHONE_KR":     2,
	"EMAIL":        3,
	"API_KEY":      4,
	"SECRET":       4,
	"BANK_ACCOUNT": 5,
	"PLATE_KR":     6,
	"PERSON":       7,
	"ORG":          8,
	"LOCATION":     9,
}

// SourceRank returns the merge priority of a detector source.
func SourceRank(source string) int {
	if r, ok := sourceRank[source]; ok {
		return r
	}
	return fallbackRank
}

// TypeRank returns the merge priority of a PII category.
func TypeRank(piiType string) int {
	if r, ok := typeRank[piiType]; ok {
		return r
	}
	return fallbackRank
}

// before reports whether a has strictly higher merge priority than b.
// Priority key: (source rank, type rank, -length, -confidence).
func before(a, b Span) bool {
	if ra, rb := SourceRank(a.Source), SourceRank(b.Source); ra != rb {
		return ra < rb
	}
	if ta, tb := TypeRank(a.Type), TypeRank(b.Type); ta != tb {
		return ta < tb
	}
	if la, lb := a.Len(), b.Len(); la != lb {
		return la > lb
	}
	return a.Confidence > b.Confidence
}

// Merge resolves conflicting candidates from any mix of detectors into a set
// in which no two spans overlap. Candidates are taken best-first by priority
// and accepted unless they overlap one already accepted, so a short but more
// trusted detection beats a longer, weaker one covering the same bytes.
// The result is ordered by Start. The input slice is not modified.
func Merge(spans []Span) []Span {
	if len(spans) == 0 {
		return []Span{}
	}

	candidates := slices.Clone(spans)
	sort.SliceStable(candidates, func(i, j int) bool {
		return before(candidates[i], candidates[j])
	})

	accepted := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		if c.End <= c.Start {
			continue
		}
		clash := false
		for _, a := range accepted {
			if c.Overlaps(a) {
				clash = true
				break
			}
		}
		if !clash {
			accepted = append(accepted, c)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}
