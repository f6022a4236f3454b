package docstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"pii-redactor/internal/pii"
)

const bboltBucket = "documents"

// errUnreadable marks an entry the current sealer cannot open.
var errUnreadable = errors.New("entry sealed under a different key")

// Sealer encrypts stored values. *envelope.Cipher satisfies it.
type Sealer interface {
	Seal(plaintext, associatedData []byte) ([]byte, error)
	Open(sealed, associatedData []byte) ([]byte, error)
}

// Bolt is a Store backed by an embedded bbolt database. Each value is an
// 8-byte big-endian creation time (unix nanoseconds) followed by the sealed
// JSON entry, with the doc id as associated data. The timestamp stays in the
// clear so Sweep never has to decrypt.
//
// The file is scratch space, not an archive: entries still expire by TTL,
// and with an ephemeral key entries from a previous run read as not found
// and are removed.
type Bolt struct {
	db     *bolt.DB
	sealer Sealer
	ttl    time.Duration
	now    func() time.Time
}

// OpenBolt opens (or creates) the bbolt database at path and ensures the
// bucket exists.
func OpenBolt(path string, ttl time.Duration, sealer Sealer, opts ...Option) (*Bolt, error) {
	if sealer == nil {
		return nil, errors.New("open bbolt store: nil sealer")
	}
	o := buildOptions(opts)

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}
	return &Bolt{db: db, sealer: sealer, ttl: ttl, now: o.now}, nil
}

// Put implements Store.
func (s *Bolt) Put(maskedText string, audit pii.Audit, envelopeEncrypted string) (string, error) {
	var docID string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		id, err := uniqueDocID(func(id string) bool { return b.Get([]byte(id)) != nil })
		if err != nil {
			return err
		}
		entry := Entry{
			DocID:             id,
			MaskedText:        maskedText,
			Audit:             audit,
			EnvelopeEncrypted: envelopeEncrypted,
			CreatedAt:         s.now(),
		}
		value, err := s.encode(entry)
		if err != nil {
			return err
		}
		docID = id
		return b.Put([]byte(id), value)
	})
	if err != nil {
		return "", fmt.Errorf("put document: %w", err)
	}
	return docID, nil
}

// Get implements Store. An expired entry is deleted before returning.
func (s *Bolt) Get(docID string) (Entry, error) {
	var value []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bboltBucket)).Get([]byte(docID)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return Entry{}, fmt.Errorf("get document: %w", err)
	}
	if value == nil {
		return Entry{}, ErrNotFound
	}

	if len(value) < 8 || expired(createdAt(value), s.now(), s.ttl) {
		if err := s.delete(docID); err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrNotFound
	}
	e, err := s.decode(docID, value)
	if errors.Is(err, errUnreadable) {
		// Sealed under another key, typically an ephemeral one from a
		// previous run. Nothing can ever open it again.
		if err := s.delete(docID); err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Sweep implements Store.
func (s *Bolt) Sweep() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) < 8 || expired(createdAt(v), now, s.ttl) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep documents: %w", err)
	}
	return removed, nil
}

// Len implements Store.
func (s *Bolt) Len() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bboltBucket)).Stats().KeyN
		return nil
	})
	return n
}

// Close implements Store.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func (s *Bolt) delete(docID string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bboltBucket)).Delete([]byte(docID))
	}); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *Bolt) encode(e Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	sealed, err := s.sealer.Seal(raw, []byte(e.DocID))
	if err != nil {
		return nil, fmt.Errorf("seal entry: %w", err)
	}
	value := make([]byte, 8, 8+len(sealed))
	binary.BigEndian.PutUint64(value, uint64(e.CreatedAt.UnixNano())) // #nosec G115 -- post-1970 timestamps
	return append(value, sealed...), nil
}

func (s *Bolt) decode(docID string, value []byte) (Entry, error) {
	raw, err := s.sealer.Open(value[8:], []byte(docID))
	if err != nil {
		return Entry{}, fmt.Errorf("open entry %s: %w: %w", docID, errUnreadable, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal entry %s: %w", docID, err)
	}
	return e, nil
}

func createdAt(value []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(value[:8]))) // #nosec G115 -- written by encode
}
