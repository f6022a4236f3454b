// S3-FIFO cache for remote detection results.
//
// S3-FIFO ("Simple, Scalable, FIFO-based cache eviction", Yang et al., 2023)
// uses two FIFO queues and a bounded ghost set:
//
//   - S (small, ~10% of capacity): probationary queue. New keys land here.
//   - M (main, ~90% of capacity): keys promoted from S after at least one hit.
//   - G (ghost): ring buffer of keys recently evicted from S, bounded to
//     2x the S target. A key found in G on insert skips S and goes to M.
//
// Per-entry state is a saturating frequency counter (max 3), bumped on every
// hit and reset on promotion. S evictions with freq > 0 promote to M;
// otherwise the key is dropped and remembered in G. M evictions drop
// outright.
//
// Keys are SHA-256 digests of the input text, so raw text is never a key.
// Values are span slices and are copied on the way in and out.

package detector

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"pii-redactor/internal/pii"
)

type cacheEntry struct {
	spans []pii.Span
	freq  uint8         // saturating counter in [0, 3]
	elem  *list.Element // back-pointer into sQueue or mQueue
	inM   bool
}

// SpanCache is a bounded, concurrency-safe cache of detection results.
type SpanCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*cacheEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int
}

// NewSpanCache returns a cache holding at most capacity results. Values
// below 2 are clamped to 2.
func NewSpanCache(capacity int) *SpanCache {
	capacity = max(capacity, 2)
	sTarget := max(capacity/10, 1)
	ghostCap := max(2*sTarget, 4)
	return &SpanCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*cacheEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
	}
}

// cacheKey is the lookup key for text.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached spans for key.
func (c *SpanCache) Get(key string) ([]pii.Span, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.freq < 3 {
		e.freq++
	}
	return cloneSpans(e.spans), true
}

// Set stores spans under key. An existing entry keeps its queue position.
func (c *SpanCache) Set(key string, spans []pii.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.spans = cloneSpans(spans)
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &cacheEntry{spans: cloneSpans(spans), elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

// Len returns the number of cached results.
func (c *SpanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOne removes one entry. Must be called with c.mu held.
func (c *SpanCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *SpanCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key := c.sQueue.Remove(front).(string)
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		if c.mQueue.Len() > c.capacity-c.sTarget {
			c.evictFromM()
		}
		return
	}
	delete(c.entries, key)
	c.ghostAdd(key)
}

func (c *SpanCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key := c.mQueue.Remove(front).(string)
	delete(c.entries, key)
}

func (c *SpanCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

// ghostAdd appends key to the ring, overwriting the oldest when full.
func (c *SpanCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	c.ghostBuf[(c.ghostHead+c.ghostCount)%c.ghostCap] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}

func cloneSpans(spans []pii.Span) []pii.Span {
	out := make([]pii.Span, len(spans))
	copy(out, spans)
	return out
}
