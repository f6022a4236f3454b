package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"pii-redactor/internal/pii"
)

// ErrDecrypt is returned for ciphertext that is malformed, tampered with,
// or sealed under a different key. It never carries partial plaintext.
var ErrDecrypt = errors.New("envelope decryption failed")

const (
	formatPrefix = "v1."
	envelopeAD   = "pii-redactor/envelope/v1"
)

// Cipher is an authenticated symmetric cipher (XChaCha20-Poly1305).
// Every call draws a fresh random nonce, so sealing the same plaintext twice
// yields different ciphertext. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher for key.
func New(key Key) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext bound to associatedData and returns nonce‖ciphertext.
func (c *Cipher) Seal(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, associatedData), nil
}

// Open reverses Seal. associatedData must match what was sealed.
func (c *Cipher) Open(sealed, associatedData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Encrypt serialises env and seals it into an opaque printable string.
func (c *Cipher) Encrypt(env pii.Envelope) (string, error) {
	if env.TokenMap == nil {
		env.TokenMap = map[string]string{}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	sealed, err := c.Seal(raw, []byte(envelopeAD))
	if err != nil {
		return "", err
	}
	return formatPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure is reported as ErrDecrypt.
func (c *Cipher) Decrypt(opaque string) (pii.Envelope, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(opaque), formatPrefix)
	if !ok {
		return pii.Envelope{}, fmt.Errorf("%w: unknown format", ErrDecrypt)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return pii.Envelope{}, fmt.Errorf("%w: bad encoding", ErrDecrypt)
	}
	raw, err := c.Open(sealed, []byte(envelopeAD))
	if err != nil {
		return pii.Envelope{}, err
	}
	var env pii.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return pii.Envelope{}, fmt.Errorf("%w: bad payload", ErrDecrypt)
	}
	if env.TokenMap == nil {
		env.TokenMap = map[string]string{}
	}
	return env, nil
}
