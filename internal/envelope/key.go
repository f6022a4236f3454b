// Package envelope protects token maps at rest.
//
// A single process-wide Key is resolved once at startup (parsed from
// configuration or freshly generated) and handed to every Cipher that needs
// it. With a generated key, envelopes die with the process, which matches
// the ephemeral lifetime of stored documents.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every key in bytes.
const KeySize = 32

// Key is raw symmetric key material.
type Key [KeySize]byte

// ErrInvalidKey is returned by ParseKey for anything that is not 32 bytes
// of base64.
var ErrInvalidKey = errors.New("invalid envelope key")

// GenerateKey returns a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("generate envelope key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a base64 key in standard or URL alphabet, padded or not.
// A Fernet key is accepted as-is.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.StdEncoding,
		base64.RawURLEncoding, base64.RawStdEncoding,
	} {
		raw, err := enc.DecodeString(s)
		if err != nil || len(raw) != KeySize {
			continue
		}
		var k Key
		copy(k[:], raw)
		return k, nil
	}
	return Key{}, fmt.Errorf("%w: need %d bytes of base64", ErrInvalidKey, KeySize)
}

// LoadOrGenerate parses configured when non-empty, otherwise generates a key.
// The second return value reports whether the key is ephemeral.
func LoadOrGenerate(configured string) (Key, bool, error) {
	if configured != "" {
		k, err := ParseKey(configured)
		return k, false, err
	}
	k, err := GenerateKey()
	return k, true, err
}

// String encodes the key as URL-safe base64.
func (k Key) String() string {
	return base64.URLEncoding.EncodeToString(k[:])
}

// Derive returns an independent sub-key bound to purpose, so one configured
// secret can protect envelopes and stored documents without key reuse.
func (k Key) Derive(purpose string) (Key, error) {
	r := hkdf.New(sha256.New, k[:], nil, []byte("pii-redactor/"+purpose))
	var sub Key
	if _, err := io.ReadFull(r, sub[:]); err != nil {
		return Key{}, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return sub, nil
}
