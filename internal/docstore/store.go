// Package docstore keeps masked documents for a bounded time.
//
// Every entry is immutable and lives for a fixed TTL. Expiry is enforced two
// ways: Get removes an expired entry it stumbles on, and Sweep (run on an
// interval by RunSweeper) reclaims entries nobody asks for again. Lazy
// expiry alone is enough for correctness; the sweep only frees memory.
//
// Two implementations are provided:
//   - Memory: a mutex-guarded map, the default.
//   - Bolt:   an embedded bbolt file whose values are sealed, so masked text,
//     audit records and envelopes never touch disk in the clear.
package docstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pii-redactor/internal/pii"
)

// ErrNotFound is returned by Get for ids that were never stored or whose
// entry has expired.
var ErrNotFound = errors.New("document not found or expired")

// Entry is one stored masking result.
type Entry struct {
	DocID             string    `json:"doc_id"`
	MaskedText        string    `json:"masked_text"`
	Audit             pii.Audit `json:"audit"`
	EnvelopeEncrypted string    `json:"envelope_encrypted,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// HasEnvelope reports whether the entry carries an encrypted envelope.
func (e Entry) HasEnvelope() bool { return e.EnvelopeEncrypted != "" }

// Store is the document store contract. All implementations must be safe
// for concurrent use.
type Store interface {
	// Put stores a new entry and returns its freshly generated id.
	// envelopeEncrypted may be empty.
	Put(maskedText string, audit pii.Audit, envelopeEncrypted string) (string, error)

	// Get returns the entry for docID, or ErrNotFound.
	Get(docID string) (Entry, error)

	// Sweep evicts every expired entry and reports how many were removed.
	Sweep() (int, error)

	// Len returns the number of entries currently held, expired or not.
	Len() int

	// Close releases any resources held by the store.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// expired reports whether an entry created at created is past ttl at now.
// An entry exactly ttl old is still live.
func expired(created, now time.Time, ttl time.Duration) bool {
	return now.Sub(created) > ttl
}

// maxIDAttempts bounds regeneration on id collision.
const maxIDAttempts = 8

// newDocID returns 12 lowercase hex characters from a secure random source.
func newDocID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate doc id: %w", err)
	}
	return hex.EncodeToString(u[:6]), nil
}

// uniqueDocID draws ids until taken reports a free one.
func uniqueDocID(taken func(string) bool) (string, error) {
	for range maxIDAttempts {
		id, err := newDocID()
		if err != nil {
			return "", err
		}
		if !taken(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate doc id: %d consecutive collisions", maxIDAttempts)
}
