package envelope

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey_Encodings(t *testing.T) {
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	for name, enc := range map[string]*base64.Encoding{
		"url":     base64.URLEncoding,
		"std":     base64.StdEncoding,
		"raw url": base64.RawURLEncoding,
		"raw std": base64.RawStdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			k, err := ParseKey("  " + enc.EncodeToString(raw) + "\n")
			require.NoError(t, err)
			assert.Equal(t, raw, k[:])
		})
	}
}

func TestParseKey_Rejects(t *testing.T) {
	for _, in := range []string{"", "short", base64.StdEncoding.EncodeToString(make([]byte, 16))} {
		_, err := ParseKey(in)
		assert.ErrorIs(t, err, ErrInvalidKey, "input %q", in)
	}
}

func TestKeyString_RoundTrip(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	back, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, back)
}

func TestLoadOrGenerate(t *testing.T) {
	k, ephemeral, err := LoadOrGenerate("")
	require.NoError(t, err)
	assert.True(t, ephemeral)
	assert.NotEqual(t, Key{}, k)

	k2, ephemeral, err := LoadOrGenerate(k.String())
	require.NoError(t, err)
	assert.False(t, ephemeral)
	assert.Equal(t, k, k2)

	_, _, err = LoadOrGenerate("nope")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDerive_IndependentPerPurpose(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)

	a, err := k.Derive("envelope")
	require.NoError(t, err)
	b, err := k.Derive("docstore")
	require.NoError(t, err)
	again, err := k.Derive("envelope")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, k, a)
	assert.Equal(t, a, again)
	assert.False(t, strings.Contains(a.String(), k.String()))
}
