package pii

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func span(start, end int, typ, source string, conf float64) Span {
	return Span{Start: start, End: end, Type: typ, Source: source, Confidence: conf}
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil))
	assert.NotNil(t, Merge(nil))
}

func TestMerge_RegexBeatsLLM(t *testing.T) {
	regex := span(10, 20, "EMAIL", SourceRegex, 1.0)
	llm := span(5, 25, "PERSON", SourceLLM, 0.99)

	got := Merge([]Span{llm, regex})
	require.Len(t, got, 1)
	assert.Equal(t, regex, got[0])
}

func TestMerge_TypeRankWins(t *testing.T) {
	rrn := span(0, 14, "RRN_KR", SourceRegex, 1.0)
	email := span(4, 30, "EMAIL", SourceRegex, 1.0)

	got := Merge([]Span{email, rrn})
	require.Len(t, got, 1)
	assert.Equal(t, "RRN_KR", got[0].Type)
}

func TestMerge_LongerWinsOnTie(t *testing.T) {
	short := span(0, 5, "EMAIL", SourceRegex, 1.0)
	long := span(0, 9, "EMAIL", SourceRegex, 1.0)

	got := Merge([]Span{short, long})
	require.Len(t, got, 1)
	assert.Equal(t, long, got[0])
}

func TestMerge_HigherConfidenceWins(t *testing.T) {
	low := span(0, 5, "PERSON", SourceLLM, 0.6)
	high := span(2, 7, "PERSON", SourceLLM, 0.9)

	got := Merge([]Span{low, high})
	require.Len(t, got, 1)
	assert.Equal(t, high, got[0])
}

func TestMerge_UnknownSourceAndTypeSortLast(t *testing.T) {
	assert.Equal(t, 99, SourceRank("mystery"))
	assert.Equal(t, 99, TypeRank("PASSPORT_XX"))

	known := span(0, 4, "LOCATION", SourceLLM, 0.5)
	unknown := span(0, 10, "PASSPORT_XX", SourceLLM, 1.0)
	got := Merge([]Span{unknown, known})
	require.Len(t, got, 1)
	assert.Equal(t, "LOCATION", got[0].Type)
}

func TestMerge_KeepsDisjointSortedByStart(t *testing.T) {
	in := []Span{
		span(30, 40, "PERSON", SourceLLM, 0.8),
		span(0, 5, "EMAIL", SourceRegex, 1),
		span(10, 15, "PHONE_KR", SourceRegex, 1),
	}
	got := Merge(in)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 10, 30}, []int{got[0].Start, got[1].Start, got[2].Start})
	assert.Equal(t, 30, in[0].Start, "input must not be reordered")
}

func TestMerge_AdjacentSpansDoNotOverlap(t *testing.T) {
	got := Merge([]Span{span(0, 5, "EMAIL", SourceRegex, 1), span(5, 9, "EMAIL", SourceRegex, 1)})
	assert.Len(t, got, 2)
}

func TestMerge_NeverReturnsOverlaps(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	sources := []string{SourceRegex, SourceNER, SourceLLM, "other"}
	types := []string{"RRN_KR", "EMAIL", "PERSON", "CUSTOM"}

	for round := 0; round < 200; round++ {
		var in []Span
		for i := 0; i < 30; i++ {
			start := r.IntN(100)
			in = append(in, span(start, start+1+r.IntN(15),
				types[r.IntN(len(types))], sources[r.IntN(len(sources))], r.Float64()))
		}
		out := Merge(in)
		for i := range out {
			for j := i + 1; j < len(out); j++ {
				require.False(t, out[i].Overlaps(out[j]), "round %d: %+v overlaps %+v", round, out[i], out[j])
			}
			if i > 0 {
				require.LessOrEqual(t, out[i-1].Start, out[i].Start)
			}
		}
	}
}
