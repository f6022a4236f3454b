package pii

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidSpan is returned by Mask when a span falls outside the text or
// overlaps another span. Merge output never triggers it.
var ErrInvalidSpan = errors.New("invalid span")

// Token literals look like [[PII:EMAIL:3f9a01bc]]. The type portion is
// matched permissively on restore because only the id is known then.
const (
	tokenPrefix = "[[PII:"
	tokenSuffix = "]]"
)

var tokenRe = regexp.MustCompile(`\[\[PII:[^\[\]]*:([0-9a-f]{8})\]\]`)

// maxIDAttempts bounds regeneration when a fresh id collides with one
// already issued in the same call or already present in the input.
const maxIDAttempts = 16

// newTokenID returns 8 lowercase hex characters from a secure random source.
// Overridden in tests to force collisions.
var newTokenID = func() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(u[:4]), nil
}

// Token renders the literal that replaces a span in masked text.
func Token(piiType, id string) string {
	return tokenPrefix + tokenType(piiType) + ":" + id + tokenSuffix
}

// tokenType keeps the type portion of a literal parseable: upper-case
// letters, digits and underscores only.
func tokenType(piiType string) string {
	if piiType == "" {
		return TypeUnknown
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return '_'
	}, piiType)
}

// Mask replaces every span with a fresh token and returns the masked text
// together with the id → original mapping. Spans must be disjoint and lie
// within text; pass them through Merge first.
func Mask(text string, spans []Span) (string, map[string]string, error) {
	tokenMap := make(map[string]string, len(spans))
	if len(spans) == 0 {
		return text, tokenMap, nil
	}

	ordered := make([]Span, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	prevEnd := 0
	for i, s := range ordered {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return "", nil, fmt.Errorf("%w: [%d,%d) outside text of length %d", ErrInvalidSpan, s.Start, s.End, len(text))
		}
		if i > 0 && s.Start < prevEnd {
			return "", nil, fmt.Errorf("%w: [%d,%d) overlaps previous span", ErrInvalidSpan, s.Start, s.End)
		}
		prevEnd = s.End
	}

	// Ids of literals already in the input are off limits; Restore would
	// otherwise replace them too.
	present := make(map[string]struct{})
	for _, id := range Tokens(text) {
		present[id] = struct{}{}
	}

	// Walk right to left so each splice leaves earlier offsets intact.
	masked := text
	for i := len(ordered) - 1; i >= 0; i-- {
		s := ordered[i]
		id, err := uniqueTokenID(tokenMap, present)
		if err != nil {
			return "", nil, err
		}
		tokenMap[id] = text[s.Start:s.End]
		masked = masked[:s.Start] + Token(s.Type, id) + masked[s.End:]
	}
	return masked, tokenMap, nil
}

func uniqueTokenID(issued map[string]string, present map[string]struct{}) (string, error) {
	for range maxIDAttempts {
		id, err := newTokenID()
		if err != nil {
			return "", fmt.Errorf("generate token id: %w", err)
		}
		_, taken := issued[id]
		_, inText := present[id]
		if !taken && !inText {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate token id: %d consecutive collisions", maxIDAttempts)
}

// Restore substitutes every token whose id is in tokenMap with its original
// value. Tokens with unknown ids are left untouched, which makes Restore a
// no-op on token-free text and safe to apply to replies that echo tokens.
// Replacement is a single pass, so restored values are never re-scanned.
func Restore(masked string, tokenMap map[string]string) string {
	if len(tokenMap) == 0 || !strings.Contains(masked, tokenPrefix) {
		return masked
	}
	return tokenRe.ReplaceAllStringFunc(masked, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		if original, ok := tokenMap[m[1]]; ok {
			return original
		}
		return tok
	})
}

// Tokens returns the ids of all token literals in text, in order of appearance.
func Tokens(text string) []string {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}
