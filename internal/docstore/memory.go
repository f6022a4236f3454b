package docstore

import (
	"sync"
	"time"

	"pii-redactor/internal/pii"
)

// Memory is an in-process Store. Entries are immutable, so a single mutex
// over the map is all the locking needed.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory store with the given TTL.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		ttl:     ttl,
		now:     o.now,
		entries: make(map[string]Entry),
	}
}

// Put implements Store.
func (m *Memory) Put(maskedText string, audit pii.Audit, envelopeEncrypted string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := uniqueDocID(func(id string) bool {
		_, ok := m.entries[id]
		return ok
	})
	if err != nil {
		return "", err
	}
	m.entries[id] = Entry{
		DocID:             id,
		MaskedText:        maskedText,
		Audit:             audit,
		EnvelopeEncrypted: envelopeEncrypted,
		CreatedAt:         m.now(),
	}
	return id, nil
}

// Get implements Store. An expired entry is removed on the way out.
func (m *Memory) Get(docID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[docID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if expired(e.CreatedAt, m.now(), m.ttl) {
		delete(m.entries, docID)
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Sweep implements Store.
func (m *Memory) Sweep() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, e := range m.entries {
		if expired(e.CreatedAt, now, m.ttl) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len implements Store.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements Store. It drops every entry.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}
