package detector

import "strings"

// Validator confirms that the digits of a textual match are structurally
// valid. It receives only the ASCII digits of the match.
type Validator func(digits string) bool

var (
	rrnWeights = [12]int{2, 3, 4, 5, 6, 7, 8, 9, 2, 3, 4, 5}
	brnWeights = [9]int{1, 3, 7, 1, 3, 7, 1, 3, 5}
)

// ValidRRN checks a 13-digit Korean resident registration number:
// check = (11 - Σ dᵢ·wᵢ mod 11) mod 10 over the first 12 digits.
func ValidRRN(digits string) bool {
	if len(digits) != 13 || !allDigits(digits) {
		return false
	}
	sum := 0
	for i, w := range rrnWeights {
		sum += int(digits[i]-'0') * w
	}
	check := (11 - sum%11) % 10
	return check == int(digits[12]-'0')
}

// ValidBRN checks a 10-digit Korean business registration number:
// Σ dᵢ·wᵢ over the first 9 digits plus ⌊d₈·5/10⌋, check = (10 - sum mod 10) mod 10.
func ValidBRN(digits string) bool {
	if len(digits) != 10 || !allDigits(digits) {
		return false
	}
	sum := 0
	for i, w := range brnWeights {
		sum += int(digits[i]-'0') * w
	}
	sum += int(digits[8]-'0') * 5 / 10
	check := (10 - sum%10) % 10
	return check == int(digits[9]-'0')
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// digitsOf keeps only the ASCII digits of s.
func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
