package detector

import (
	"context"
	"regexp"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

func detect(t *testing.T, p *Pattern, text string) []pii.Span {
	t.Helper()
	spans, err := p.Detect(context.Background(), text)
	require.NoError(t, err)
	for _, s := range spans {
		require.Equal(t, text[s.Start:s.End], s.Text, "span text must match offsets")
		require.Equal(t, pii.SourceRegex, s.Source)
		require.Equal(t, 1.0, s.Confidence)
	}
	return spans
}

func byType(spans []pii.Span, typ string) []pii.Span {
	var out []pii.Span
	for _, s := range spans {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func TestValidRRN(t *testing.T) {
	assert.True(t, ValidRRN("9001011234568"))
	assert.False(t, ValidRRN("9001011234567"), "altered check digit")
	assert.False(t, ValidRRN("900101123456"), "too short")
	assert.False(t, ValidRRN("90010112345a8"), "non-digit")
}

func TestValidBRN(t *testing.T) {
	assert.True(t, ValidBRN("1234567891"))
	assert.False(t, ValidBRN("1234567890"), "altered check digit")
	assert.False(t, ValidBRN("123456789"), "too short")
}

func TestPattern_RRNChecksum(t *testing.T) {
	p := NewPattern(nil)

	valid := detect(t, p, "주민번호 900101-1234568 입니다")
	rrn := byType(valid, "RRN_KR")
	require.Len(t, rrn, 1)
	assert.Equal(t, "900101-1234568", rrn[0].Text)

	assert.Len(t, byType(detect(t, p, "9001011234568"), "RRN_KR"), 1, "undashed form")
	assert.Empty(t, byType(detect(t, p, "주민번호 900101-1234567 입니다"), "RRN_KR"), "bad check digit must not be emitted")
}

func TestPattern_BRNChecksum(t *testing.T) {
	p := NewPattern(nil)
	assert.Len(t, byType(detect(t, p, "사업자 123-45-67891"), "BRN_KR"), 1)
	assert.Empty(t, byType(detect(t, p, "사업자 123-45-67890"), "BRN_KR"))
}

func TestPattern_ChecksumFailuresCounted(t *testing.T) {
	m := metrics.New()
	p := NewPattern(m)
	detect(t, p, "900101-1234567")

	n, err := testutil.GatherAndCount(m.Registry(), "pii_redactor_candidates_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPattern_Categories(t *testing.T) {
	p := NewPattern(nil)
	cases := []struct {
		typ, text, want string
	}{
		{"PHONE_KR", "전화 010-1234-5678 로", "010-1234-5678"},
		{"PHONE_KR", "office 031-123-4567", "031-123-4567"},
		{"EMAIL", "mail user@test.com now", "user@test.com"},
		{"PLATE_KR", "차량 12가 3456 주차", "12가 3456"},
		{"BANK_ACCOUNT", "계좌 110-234-567890", "110-234-567890"},
		{"API_KEY", `api_key = "sk_live_abcdefghijklmnopqrstuv"`, "sk_live_abcdefghijklmnopqrstuv"},
		{"API_KEY", "TOKEN: abcdefghij0123456789XY", "abcdefghij0123456789XY"},
	}
	for _, c := range cases {
		t.Run(c.typ+"/"+c.want, func(t *testing.T) {
			found := byType(detect(t, p, c.text), c.typ)
			require.NotEmpty(t, found, "no %s in %q", c.typ, c.text)
			assert.Equal(t, c.want, found[0].Text)
		})
	}
}

func TestPattern_APIKeyCoversOnlyValue(t *testing.T) {
	text := `secret: "abcdefghijklmnopqrstuvwxyz"`
	found := byType(detect(t, NewPattern(nil), text), "API_KEY")
	require.Len(t, found, 1)
	assert.Equal(t, 9, found[0].Start)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", found[0].Text)
}

func TestPattern_ShortSecretIgnored(t *testing.T) {
	assert.Empty(t, byType(detect(t, NewPattern(nil), "token=short"), "API_KEY"))
}

func TestPattern_NoPII(t *testing.T) {
	spans := detect(t, NewPattern(nil), "The quick brown fox jumps over the lazy dog.")
	assert.NotNil(t, spans)
	assert.Empty(t, spans)
}

func TestPattern_ScenarioThroughMerge(t *testing.T) {
	text := "010-1234-5678, user@test.com"
	merged := pii.Merge(detect(t, NewPattern(nil), text))

	require.Len(t, merged, 2)
	assert.Equal(t, "PHONE_KR", merged[0].Type, "phone outranks the overlapping bank-account match")
	assert.Equal(t, "EMAIL", merged[1].Type)
}

func TestPattern_BRNBeatsBankAccountOnMerge(t *testing.T) {
	merged := pii.Merge(detect(t, NewPattern(nil), "123-45-67891"))
	require.Len(t, merged, 1)
	assert.Equal(t, "BRN_KR", merged[0].Type)
}

func TestPattern_ExtraRules(t *testing.T) {
	p := NewPattern(nil, Rule{Type: "PASSPORT_KR", Pattern: regexp.MustCompile(`\b[MS]\d{8}\b`)})
	found := byType(detect(t, p, "passport M12345678"), "PASSPORT_KR")
	require.Len(t, found, 1)
	assert.Equal(t, "M12345678", found[0].Text)
}

func TestPlaceholder(t *testing.T) {
	var d Detector = Placeholder{}
	spans, err := d.Detect(context.Background(), "Kim Minsu lives in Seoul")
	require.NoError(t, err)
	assert.Empty(t, spans)
	assert.Equal(t, pii.SourceNER, d.Source())
}
